package mocks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockCache is an in-memory domain.Cache. Invalidation records the patterns it
// was asked for; Get never expires entries, tests control contents directly.
type MockCache struct {
	mu                  sync.Mutex
	entries             map[string][]byte
	InvalidatedPatterns []string

	GetErr        error
	SetErr        error
	InvalidateErr error
}

func NewMockCache() *MockCache {
	return &MockCache{
		entries: make(map[string][]byte),
	}
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}

	value, ok := m.entries[key]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return value, nil
}

func (m *MockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SetErr != nil {
		return m.SetErr
	}

	m.entries[key] = value
	return nil
}

func (m *MockCache) InvalidatePattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InvalidateErr != nil {
		return m.InvalidateErr
	}

	m.InvalidatedPatterns = append(m.InvalidatedPatterns, pattern)
	return nil
}
