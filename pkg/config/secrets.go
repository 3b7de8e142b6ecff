package config

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"hivecore/pkg/logging"
)

// SecretStore resolves "secret:<key>" config values.
type SecretStore interface {
	GetSecret(ctx context.Context, key string) (string, error)
	SetSecret(ctx context.Context, key, value string) error
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

type Encryption interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryption is AES-256-GCM. Keys that are not 32 bytes are hashed to
// 32 bytes with SHA-256.
type AESEncryption struct {
	key []byte
}

func NewAESEncryption(key []byte) *AESEncryption {
	if len(key) != 32 {
		hash := sha256.Sum256(key)
		key = hash[:]
	}
	return &AESEncryption{key: key}
}

func (e *AESEncryption) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (e *AESEncryption) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *AESEncryption) Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

const secretExt = ".enc"

// FileSecretStore keeps one encrypted, base64 encoded file per secret and
// caches decrypted values for cacheTTL.
type FileSecretStore struct {
	basePath   string
	encryption Encryption
	cacheTTL   time.Duration
	cache      map[string]cachedSecret
	mu         sync.RWMutex
	logger     logging.Logger
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewFileSecretStore(basePath string, encryption Encryption, logger logging.Logger) (*FileSecretStore, error) {
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secret store directory: %w", err)
	}
	return &FileSecretStore{
		basePath:   basePath,
		encryption: encryption,
		cacheTTL:   5 * time.Minute,
		cache:      make(map[string]cachedSecret),
		logger:     logging.OrNoOp(logger),
	}, nil
}

func (s *FileSecretStore) path(key string) string {
	return filepath.Join(s.basePath, sanitizeKey(key)+secretExt)
}

func (s *FileSecretStore) GetSecret(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && cached.expiresAt.After(time.Now()) {
		return cached.value, nil
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	plaintext, err := s.encryption.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret %s: %w", key, err)
	}
	value := string(plaintext)
	s.remember(key, value)
	return value, nil
}

func (s *FileSecretStore) SetSecret(ctx context.Context, key, value string) error {
	ciphertext, err := s.encryption.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	if err := os.WriteFile(s.path(key), []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("failed to write secret file: %w", err)
	}
	s.remember(key, value)
	s.logger.Debug("secret stored", "key", key)
	return nil
}

func (s *FileSecretStore) DeleteSecret(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return fmt.Errorf("failed to delete secret file: %w", err)
	}
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}

// ListSecrets returns the stored names. Names are reported in their
// sanitized on-disk form.
func (s *FileSecretStore) ListSecrets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), secretExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), secretExt))
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileSecretStore) remember(key, value string) {
	s.mu.Lock()
	s.cache[key] = cachedSecret{value: value, expiresAt: time.Now().Add(s.cacheTTL)}
	s.mu.Unlock()
}

func sanitizeKey(key string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(key)
}
