package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	vault "github.com/hashicorp/vault/api"

	"hivecore/pkg/logging"
)

// VaultSecretStore reads secrets from a KV v2 mount. A key is "path" or
// "path#field"; the field defaults to "value".
type VaultSecretStore struct {
	client *vault.Client
	mount  string
	logger logging.Logger
}

type VaultConfig struct {
	Address string `yaml:"address" json:"address"`
	Token   string `yaml:"token" json:"token"`
	Mount   string `yaml:"mount" json:"mount"`
}

func NewVaultSecretStore(cfg VaultConfig, logger logging.Logger) (*VaultSecretStore, error) {
	vcfg := vault.DefaultConfig()
	if cfg.Address != "" {
		vcfg.Address = cfg.Address
	}
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return NewVaultSecretStoreFromClient(client, cfg.Mount, logger), nil
}

func NewVaultSecretStoreFromClient(client *vault.Client, mount string, logger logging.Logger) *VaultSecretStore {
	if mount == "" {
		mount = "secret"
	}
	return &VaultSecretStore{client: client, mount: mount, logger: logging.OrNoOp(logger)}
}

func splitVaultKey(key string) (path, field string) {
	path, field, ok := strings.Cut(key, "#")
	if !ok || field == "" {
		field = "value"
	}
	return path, field
}

func (s *VaultSecretStore) GetSecret(ctx context.Context, key string) (string, error) {
	path, field := splitVaultKey(key)
	secret, err := s.client.KVv2(s.mount).Get(ctx, path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return "", fmt.Errorf("vault read %s: %w", path, err)
	}
	raw, ok := secret.Data[field]
	if !ok {
		return "", fmt.Errorf("%w: %s has no field %s", ErrSecretNotFound, path, field)
	}
	str, ok := raw.(string)
	if !ok {
		return fmt.Sprint(raw), nil
	}
	return str, nil
}

// SetSecret keeps the other fields stored at the same path.
func (s *VaultSecretStore) SetSecret(ctx context.Context, key, value string) error {
	path, field := splitVaultKey(key)
	kv := s.client.KVv2(s.mount)
	data := map[string]interface{}{}
	existing, err := kv.Get(ctx, path)
	switch {
	case err == nil:
		for k, v := range existing.Data {
			data[k] = v
		}
	case !errors.Is(err, vault.ErrSecretNotFound):
		return fmt.Errorf("vault read %s: %w", path, err)
	}
	data[field] = value
	if _, err := kv.Put(ctx, path, data); err != nil {
		return fmt.Errorf("vault write %s: %w", path, err)
	}
	s.logger.Debug("secret stored in vault", "path", path, "field", field)
	return nil
}

func (s *VaultSecretStore) DeleteSecret(ctx context.Context, key string) error {
	path, _ := splitVaultKey(key)
	if err := s.client.KVv2(s.mount).DeleteMetadata(ctx, path); err != nil {
		return fmt.Errorf("vault delete %s: %w", path, err)
	}
	return nil
}

// ListSecrets lists the top level of the mount.
func (s *VaultSecretStore) ListSecrets(ctx context.Context) ([]string, error) {
	secret, err := s.client.Logical().ListWithContext(ctx, s.mount+"/metadata/")
	if err != nil {
		return nil, fmt.Errorf("vault list %s: %w", s.mount, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	raw, _ := secret.Data["keys"].([]interface{})
	names := make([]string, 0, len(raw))
	for _, k := range raw {
		names = append(names, fmt.Sprint(k))
	}
	sort.Strings(names)
	return names, nil
}
