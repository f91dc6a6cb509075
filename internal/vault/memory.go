package vault

import (
	"context"
	"sync"

	"github.com/glucolog/glucolog/internal/errs"
)

// Memory is the documented degradation for platforms without durable secure
// storage (web): tokens live for the process lifetime only. Durable()
// returns false so the API adapter disables proactive refresh.
type Memory struct {
	mu sync.RWMutex
	kv map[string]string
}

var _ Vault = (*Memory)(nil)

// NewMemory returns an empty in-memory vault.
func NewMemory() *Memory {
	return &Memory{kv: make(map[string]string)}
}

// Durable reports that nothing survives a restart.
func (m *Memory) Durable() bool { return false }

// Set stores a value under key.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

// SetAll stores every pair under one lock.
func (m *Memory) SetAll(ctx context.Context, pairs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range pairs {
		m.kv[k] = v
	}
	return nil
}

// Get returns the value for key.
func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	if !ok {
		return "", errs.ErrNotFound
	}
	return v, nil
}

// Remove deletes a key; absent keys are not an error.
func (m *Memory) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

// Clear drops every stored key.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv = make(map[string]string)
	return nil
}
