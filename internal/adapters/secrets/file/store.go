// Package file keeps account secrets in one private TOML vault file.
// It is the fallback when no password manager is available.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/ports"
	"github.com/google/renameio/v2"
	"github.com/pelletier/go-toml/v2"
)

const (
	vaultName     = "secrets.toml"
	vaultDirMode  = 0o700
	vaultFileMode = 0o600
)

var errEmptyKey = errors.New("secret key is empty")

type vaultDocument struct {
	Secrets map[string]string `toml:"secrets"`
}

// Vault is safe for concurrent use within one process. Writes replace the
// whole file atomically.
type Vault struct {
	path string
	mu   sync.Mutex
}

var _ ports.SecretStore = (*Vault)(nil)

// NewVault stores secrets in dir/secrets.toml. The directory is created on
// the first write.
func NewVault(dir string) *Vault {
	return &Vault{path: filepath.Join(filepath.Clean(dir), vaultName)}
}

func (v *Vault) Path() string {
	return v.path
}

func (v *Vault) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return err
	}
	if current, ok := entries[key]; ok && current == value {
		return nil
	}
	entries[key] = value

	return v.store(entries)
}

// Get returns domain.ErrSecretNotFound for keys that were never stored.
func (v *Vault) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := normalizeKey(key)
	if err != nil {
		return "", err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return "", err
	}
	value, ok := entries[key]
	if !ok {
		return "", fmt.Errorf("secret %q: %w", key, domain.ErrSecretNotFound)
	}

	return value, nil
}

// Delete removes the vault file together with its last entry.
func (v *Vault) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)

	if len(entries) == 0 {
		if err := os.Remove(v.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove secret vault: %w", err)
		}
		return nil
	}

	return v.store(entries)
}

// Keys lists stored keys in lexical order.
func (v *Vault) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys, nil
}

func (v *Vault) load() (map[string]string, error) {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secret vault: %w", err)
	}

	var doc vaultDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode secret vault %s: %w", v.path, err)
	}
	if doc.Secrets == nil {
		doc.Secrets = map[string]string{}
	}

	return doc.Secrets, nil
}

func (v *Vault) store(entries map[string]string) error {
	data, err := toml.Marshal(vaultDocument{Secrets: entries})
	if err != nil {
		return fmt.Errorf("encode secret vault: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(v.path), vaultDirMode); err != nil {
		return fmt.Errorf("create secret vault directory: %w", err)
	}
	if err := renameio.WriteFile(v.path, data, vaultFileMode); err != nil {
		return fmt.Errorf("write secret vault: %w", err)
	}

	return nil
}

func normalizeKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errEmptyKey
	}
	if strings.IndexFunc(trimmed, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("invalid secret key %q", key)
	}

	return trimmed, nil
}
