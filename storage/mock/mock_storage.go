// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grantauth/grantauth/storage"
	"github.com/grantauth/grantauth/storage/cacheaside"
)

// MockCacheTier is a mock implementation of cacheaside.CacheTier for testing.
// Override the Func fields to inject faults or observe calls; the defaults
// behave like a real in-memory cache without expiry.
type MockCacheTier struct {
	mu         sync.RWMutex
	entries    map[string][]byte
	GetFunc    func(clientID string) ([]byte, error)
	SetFunc    func(clientID string, record []byte, ttl time.Duration) error
	DeleteFunc func(clientID string) error
	ScanFunc   func() ([][]byte, error)
	CallCounts map[string]int
}

var _ cacheaside.CacheTier = (*MockCacheTier)(nil)

// NewMockCacheTier creates a new mock cache tier
func NewMockCacheTier() *MockCacheTier {
	m := &MockCacheTier{
		entries:    make(map[string][]byte),
		CallCounts: make(map[string]int),
	}

	// Set default implementations
	m.GetFunc = func(clientID string) ([]byte, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		record, ok := m.entries[clientID]
		if !ok {
			return nil, cacheaside.ErrCacheMiss
		}
		return record, nil
	}

	m.SetFunc = func(clientID string, record []byte, ttl time.Duration) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.entries[clientID] = record
		return nil
	}

	m.DeleteFunc = func(clientID string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.entries, clientID)
		return nil
	}

	m.ScanFunc = func() ([][]byte, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		records := make([][]byte, 0, len(m.entries))
		for _, record := range m.entries {
			records = append(records, record)
		}
		return records, nil
	}

	return m
}

func (m *MockCacheTier) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

// Get implements cacheaside.CacheTier
func (m *MockCacheTier) Get(ctx context.Context, clientID string) ([]byte, error) {
	m.count("Get")
	return m.GetFunc(clientID)
}

// Set implements cacheaside.CacheTier
func (m *MockCacheTier) Set(ctx context.Context, clientID string, record []byte, ttl time.Duration) error {
	m.count("Set")
	return m.SetFunc(clientID, record, ttl)
}

// Delete implements cacheaside.CacheTier
func (m *MockCacheTier) Delete(ctx context.Context, clientID string) error {
	m.count("Delete")
	return m.DeleteFunc(clientID)
}

// Scan implements cacheaside.CacheTier
func (m *MockCacheTier) Scan(ctx context.Context) ([][]byte, error) {
	m.count("Scan")
	return m.ScanFunc()
}

// Seed stores a raw record directly, bypassing the Func hooks.
func (m *MockCacheTier) Seed(clientID string, record []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[clientID] = record
}

// Contains reports whether a record is cached under clientID.
func (m *MockCacheTier) Contains(clientID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[clientID]
	return ok
}

// MockDurableTier is a mock implementation of cacheaside.DurableTier for testing
type MockDurableTier struct {
	mu              sync.RWMutex
	records         map[string]*storage.EncodedClient
	FetchClientFunc func(clientID string) (*storage.EncodedClient, error)
	StoreClientFunc func(record *storage.EncodedClient) error
	CallCounts      map[string]int
}

var _ cacheaside.DurableTier = (*MockDurableTier)(nil)

// NewMockDurableTier creates a new mock durable tier
func NewMockDurableTier() *MockDurableTier {
	m := &MockDurableTier{
		records:    make(map[string]*storage.EncodedClient),
		CallCounts: make(map[string]int),
	}

	m.FetchClientFunc = func(clientID string) (*storage.EncodedClient, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		record, ok := m.records[clientID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return record, nil
	}

	m.StoreClientFunc = func(record *storage.EncodedClient) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.records[record.ClientID] = record
		return nil
	}

	return m
}

func (m *MockDurableTier) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

// FetchClient implements cacheaside.DurableTier
func (m *MockDurableTier) FetchClient(ctx context.Context, clientID string) (*storage.EncodedClient, error) {
	m.count("FetchClient")
	return m.FetchClientFunc(clientID)
}

// StoreClient implements cacheaside.DurableTier
func (m *MockDurableTier) StoreClient(ctx context.Context, record *storage.EncodedClient) error {
	m.count("StoreClient")
	return m.StoreClientFunc(record)
}

// Seed stores an encoded record directly, bypassing the Func hooks.
func (m *MockDurableTier) Seed(record *storage.EncodedClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ClientID] = record
}
