package objectstore

import (
	"context"
	"sync"
)

// Object is a stored body with its metadata.
type Object struct {
	Body []byte
	PutOptions
}

// Memory is an in-process Store for tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	objects map[string]Object
	puts    []string

	// ExistsErr and PutErr, when set, are returned for every call.
	ExistsErr error
	PutErr    error
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

// Exists implements Store.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	_, ok := m.objects[key]
	return ok, nil
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, key string, body []byte, opts PutOptions) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.objects[key] = Object{Body: append([]byte(nil), body...), PutOptions: opts}
	m.puts = append(m.puts, key)
	return nil
}

// Get returns the object stored under key.
func (m *Memory) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o, ok
}

// Puts returns the keys written, in call order (duplicates included).
func (m *Memory) Puts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.puts...)
}

// Len returns the number of distinct stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
