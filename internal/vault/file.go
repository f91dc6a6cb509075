package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/glucolog/glucolog/internal/errs"
)

// File is a durable vault backed by a single sealed file. The sealing key
// is a random 256-bit device key kept next to the vault with 0600
// permissions; callers may instead supply a key derived from a passphrase
// via DeriveKey.
type File struct {
	path string
	key  []byte

	mu sync.Mutex
}

var _ Vault = (*File)(nil)

// OpenFile opens (or initializes) a file vault in dir. A missing device key
// is generated on first use.
func OpenFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrVaultUnavailable, err)
	}
	keyPath := filepath.Join(dir, "vault.key")
	key, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		key, err = RandBytes(KeyLen)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrVaultUnavailable, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrVaultUnavailable, err)
	}
	if len(key) != KeyLen {
		return nil, fmt.Errorf("%w: bad device key length %d", errs.ErrVaultUnavailable, len(key))
	}
	return &File{path: filepath.Join(dir, "vault.bin"), key: key}, nil
}

// NewFileWithKey opens a file vault at path sealed with the provided key.
func NewFileWithKey(path string, key []byte) (*File, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("%w: bad key length %d", errs.ErrVaultUnavailable, len(key))
	}
	return &File{path: path, key: key}, nil
}

// Durable reports persistence across restarts.
func (f *File) Durable() bool { return true }

// Set stores a value under key.
func (f *File) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kv, err := f.load()
	if err != nil {
		return err
	}
	kv[key] = value
	return f.save(kv)
}

// SetAll stores every pair in one sealed write.
func (f *File) SetAll(ctx context.Context, pairs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kv, err := f.load()
	if err != nil {
		return err
	}
	for k, v := range pairs {
		kv[k] = v
	}
	return f.save(kv)
}

// Get returns the value for key.
func (f *File) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kv, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := kv[key]
	if !ok {
		return "", errs.ErrNotFound
	}
	return v, nil
}

// Remove deletes a key; absent keys are not an error.
func (f *File) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kv, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := kv[key]; !ok {
		return nil
	}
	delete(kv, key)
	return f.save(kv)
}

// Clear removes the vault file entirely. A no-op when nothing is stored.
func (f *File) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", errs.ErrVaultUnavailable, err)
	}
	return nil
}

func (f *File) load() (map[string]string, error) {
	blob, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrVaultUnavailable, err)
	}
	plain, err := open(f.key, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: unseal: %v", errs.ErrVaultUnavailable, err)
	}
	var kv map[string]string
	if err := json.Unmarshal(plain, &kv); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", errs.ErrVaultUnavailable, err)
	}
	return kv, nil
}

func (f *File) save(kv map[string]string) error {
	plain, err := json.Marshal(kv)
	if err != nil {
		return err
	}
	blob, err := seal(f.key, plain)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrVaultUnavailable, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrVaultUnavailable, err)
	}
	return nil
}
