package whitelist

import (
	"context"
	"sync"
	"time"
)

type InMemory struct {
	entries map[string]Entry
	mu      sync.RWMutex
	nowFunc func() time.Time
}

var _ Whitelist = (*InMemory)(nil)

type InMemoryOption func(*InMemory)

func WithNowFunc(now func() time.Time) InMemoryOption {
	return func(m *InMemory) {
		m.nowFunc = now
	}
}

func NewInMemory(options ...InMemoryOption) *InMemory {
	m := &InMemory{
		entries: make(map[string]Entry),
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *InMemory) Set(_ context.Context, id, token string, expireAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !expireAt.After(m.nowFunc()) {
		delete(m.entries, id)
		return nil
	}
	m.entries[id] = Entry{Token: token, ExpiresAt: expireAt}
	return nil
}

func (m *InMemory) TryGet(_ context.Context, id string) (Entry, bool) {
	m.mu.RLock()
	entry, ok := m.entries[id]
	m.mu.RUnlock()

	if !ok {
		return Entry{}, false
	}
	if !entry.ExpiresAt.After(m.nowFunc()) {
		m.mu.Lock()
		// Re-check under the write lock, a concurrent Set may have replaced it.
		if current, ok := m.entries[id]; ok && !current.ExpiresAt.After(m.nowFunc()) {
			delete(m.entries, id)
		}
		m.mu.Unlock()
		return Entry{}, false
	}
	return entry, true
}

func (m *InMemory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *InMemory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Cleanup removes expired entries and returns how many were dropped.
func (m *InMemory) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	removed := 0
	for id, entry := range m.entries {
		if !entry.ExpiresAt.After(now) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

// RunJanitor calls Cleanup every interval until ctx is done.
func (m *InMemory) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}
