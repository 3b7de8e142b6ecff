package config

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"hivecore/pkg/logging"
)

const EnvPrefix = "HIVECORE_"

type ProcessConfig struct {
	Name string
}

type IPCConfig struct {
	Timeout time.Duration
	Secret  string
	Listen  string
	Peers   []string
}

type PluginsConfig struct {
	Manifest     string
	ReadyTimeout time.Duration
}

// RuntimeConfig is the typed view of the keys the runtime itself reads.
// Pools are read per name by the pool package.
type RuntimeConfig struct {
	Process ProcessConfig
	Logging logging.Config
	IPC     IPCConfig
	Plugins PluginsConfig
}

// Bootstrap builds a manager with the standard layers: the given files, the
// HIVECORE_ environment and explicitly set flags. fs may be nil.
func Bootstrap(ctx context.Context, paths []string, fs *flag.FlagSet, opts ...Option) (*ConfigManager, error) {
	m := NewConfigManager(opts...)
	setDefaults(m)
	addValidators(m)

	if len(paths) > 0 {
		m.AddSource(NewFileSource(paths...))
	}
	m.AddSource(NewEnvironmentSource(EnvPrefix).Exclude(
		EnvPrefix+"VAULT_ADDR", EnvPrefix+"VAULT_TOKEN", EnvPrefix+"VAULT_MOUNT",
		EnvPrefix+"SECRET_DIR", EnvPrefix+"ENCRYPTION_KEY",
	))
	if fs != nil {
		m.AddSource(NewFlagSource(fs))
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.Load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func setDefaults(m *ConfigManager) {
	m.SetDefault("process.name", "main")

	m.SetDefault("logging.level", "info")
	m.SetDefault("logging.format", "json")

	m.SetDefault("ipc.timeout", "5s")
	m.SetDefault("ipc.auth.algorithm", "HS256")
	m.SetDefault("ipc.auth.issuer", "hivecore")
	m.SetDefault("ipc.auth.ttl", "1h")
	m.SetDefault("plugins.ready_timeout", "5s")

	m.SetDefault("pools.default.min_connections", 1)
	m.SetDefault("pools.default.max_connections", 10)
	m.SetDefault("pools.default.connect_timeout", "10s")
	m.SetDefault("pools.default.wait_timeout", "3s")
	m.SetDefault("pools.default.heartbeat", -1)
	m.SetDefault("pools.default.max_idle_time", "60s")
}

func addValidators(m *ConfigManager) {
	m.AddValidator("logging.level", &EnumValidator{Allowed: []interface{}{"trace", "debug", "info", "warn", "error"}})
	m.AddValidator("logging.format", &EnumValidator{Allowed: []interface{}{"json", "text", "console"}})
	m.AddValidator("ipc.timeout", &DurationValidator{Min: time.Millisecond})
	m.AddValidator("ipc.auth.algorithm", &EnumValidator{Allowed: []interface{}{"HS256", "HS384", "HS512", "RS256"}})
	m.AddValidator("ipc.auth.ttl", &DurationValidator{Min: time.Second})
	m.AddValidator("plugins.ready_timeout", &DurationValidator{Min: time.Millisecond})
	m.AddValidator("plugins.manifest", &FileValidator{MustExist: true, MustBeFile: true})
	m.AddValidator("ipc.listen", &AddressValidator{AllowEmptyHost: true})
	m.AddValidator("ipc.peers", &AddressValidator{})
	if name, err := NewPatternValidator(`^[a-zA-Z0-9_.\-]+$`); err == nil {
		m.AddValidator("process.name", name)
	}
}

func LoadRuntime(m *ConfigManager) (*RuntimeConfig, error) {
	var rc RuntimeConfig
	var errs MultiError
	var err error

	if rc.Process.Name, err = m.GetString("process.name"); err != nil {
		errs.Add(err)
	}
	if rc.Logging.Level, err = m.GetString("logging.level"); err != nil {
		errs.Add(err)
	}
	if rc.Logging.Format, err = m.GetString("logging.format"); err != nil {
		errs.Add(err)
	}
	rc.Logging.Component = rc.Process.Name
	if rc.IPC.Timeout, err = m.GetDuration("ipc.timeout"); err != nil {
		errs.Add(err)
	}
	rc.IPC.Secret, _ = m.GetString("ipc.secret")
	rc.IPC.Listen, _ = m.GetString("ipc.listen")
	rc.IPC.Peers, _ = m.GetStringSlice("ipc.peers")
	rc.Plugins.Manifest, _ = m.GetString("plugins.manifest")
	if rc.Plugins.ReadyTimeout, err = m.GetDuration("plugins.ready_timeout"); err != nil {
		errs.Add(err)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &rc, nil
}

// SecretStoreFromEnv picks Vault when HIVECORE_VAULT_ADDR is set, otherwise
// a file store when HIVECORE_SECRET_DIR is set. It returns nil, nil when
// neither is configured.
func SecretStoreFromEnv(logger logging.Logger) (SecretStore, error) {
	if addr := os.Getenv(EnvPrefix + "VAULT_ADDR"); addr != "" {
		if err := (&URLValidator{Schemes: []string{"http", "https"}}).Validate(EnvPrefix+"VAULT_ADDR", addr); err != nil {
			return nil, err
		}
		store, err := NewVaultSecretStore(VaultConfig{
			Address: addr,
			Token:   os.Getenv(EnvPrefix + "VAULT_TOKEN"),
			Mount:   os.Getenv(EnvPrefix + "VAULT_MOUNT"),
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	dir := os.Getenv(EnvPrefix + "SECRET_DIR")
	if dir == "" {
		return nil, nil
	}
	key := os.Getenv(EnvPrefix + "ENCRYPTION_KEY")
	if key == "" {
		return nil, fmt.Errorf("%sSECRET_DIR is set but %sENCRYPTION_KEY is empty", EnvPrefix, EnvPrefix)
	}
	store, err := NewFileSecretStore(dir, NewAESEncryption([]byte(key)), logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}
