package kv

import (
	"context"
	"sync"
)

// Memory is a process-local Backend used when no durable store is
// configured. It is also the reference implementation for the Backend
// contract in tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemory constructs an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]string)}
}

// Get returns the stored value for key, if any.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.entries[key]
	return v, ok, nil
}

// Set stores value under key, overwriting any previous value.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.entries[key] = value
	m.mu.Unlock()
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored keys (test helper).
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
