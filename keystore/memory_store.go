package keystore

import (
	"sync"

	"github.com/veilchat/veilchat/crypto"
)

// MemoryStore is an in-memory Store used in tests and as the substitute for
// environments without persistent storage. Values are copied in and out so
// callers cannot mutate stored material.
type MemoryStore struct {
	entries map[string][]byte
	mu      sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]byte),
	}
}

// Write stores a copy of data under name.
func (ms *MemoryStore) Write(name string, data []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.entries[name] = append([]byte(nil), data...)
	return nil
}

// Read returns a copy of the value stored under name.
func (ms *MemoryStore) Read(name string) ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	data, ok := ms.entries[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Delete removes the value stored under name.
func (ms *MemoryStore) Delete(name string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if data, ok := ms.entries[name]; ok {
		crypto.ZeroBytes(data)
		delete(ms.entries, name)
	}
	return nil
}

// Close wipes all stored material.
func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for name, data := range ms.entries {
		crypto.ZeroBytes(data)
		delete(ms.entries, name)
	}
	return nil
}

// Corrupt overwrites the entry under name with garbage of the same length.
// Test helper for exercising corrupt-material handling.
func (ms *MemoryStore) Corrupt(name string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if data, ok := ms.entries[name]; ok {
		ms.entries[name] = make([]byte, len(data)/2)
	}
}
