package storage

import (
	"errors"
	"sort"
	"sync"

	"ringkv/internal/message"
)

var (
	// ErrKeyExists is returned by Create when the key is already present.
	ErrKeyExists = errors.New("key already exists")
	// ErrKeyNotFound is returned by Update and Delete on a missing key.
	ErrKeyNotFound = errors.New("key not found")
)

// Entry is a stored value with the replica role this node holds it under.
type Entry struct {
	Value string
	Role  message.ReplicaRole
}

// KeyValue is one row of a snapshot.
type KeyValue struct {
	Key string
	Entry
}

// Store defines the interface for the local table.
type Store interface {
	// Create inserts key. It fails with ErrKeyExists if key is present.
	Create(key, value string, role message.ReplicaRole) error
	// Upsert inserts or overwrites key.
	Upsert(key, value string, role message.ReplicaRole)
	// Read returns the value of key.
	Read(key string) (string, bool)
	// Update overwrites key. It fails with ErrKeyNotFound if key is absent.
	Update(key, value string) error
	// Delete removes key. It fails with ErrKeyNotFound if key is absent.
	Delete(key string) error
	// Snapshot returns every row sorted by key.
	Snapshot() []KeyValue
	// Len returns the number of keys.
	Len() int
}

// InMemoryStore is an in-memory implementation of Store.
// It's thread-safe.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]Entry)}
}

// Create inserts key if absent.
func (s *InMemoryStore) Create(key, value string, role message.ReplicaRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return ErrKeyExists
	}
	s.data[key] = Entry{Value: value, Role: role}
	return nil
}

// Upsert inserts or overwrites key.
func (s *InMemoryStore) Upsert(key, value string, role message.ReplicaRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = Entry{Value: value, Role: role}
}

// Read returns the value of key.
func (s *InMemoryStore) Read(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[key]
	return e.Value, exists
}

// Get returns the full entry of key.
func (s *InMemoryStore) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[key]
	return e, exists
}

// Update overwrites the value of key, keeping its role.
func (s *InMemoryStore) Update(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[key]
	if !exists {
		return ErrKeyNotFound
	}
	e.Value = value
	s.data[key] = e
	return nil
}

// Delete removes key.
func (s *InMemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists {
		return ErrKeyNotFound
	}
	delete(s.data, key)
	return nil
}

// Snapshot returns a sorted copy of the table.
func (s *InMemoryStore) Snapshot() []KeyValue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]KeyValue, 0, len(s.data))
	for k, e := range s.data {
		out = append(out, KeyValue{Key: k, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of keys.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
