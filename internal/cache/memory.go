package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process TTL cache with a background janitor.
type Memory struct {
	mu      sync.RWMutex
	data    map[string]*Entry
	ttl     time.Duration
	stop    chan struct{}
	stopped sync.Once
}

// NewMemory creates an in-memory store whose entries expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	m := &Memory{
		data: make(map[string]*Entry),
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Get returns a live entry for key.
func (m *Memory) Get(_ context.Context, key string) (*Entry, bool) {
	m.mu.RLock()
	entry, ok := m.data[key]
	m.mu.RUnlock()
	if !ok || time.Since(entry.StoredAt) > m.ttl {
		return nil, false
	}
	return entry, true
}

// Set stores an entry under key.
func (m *Memory) Set(_ context.Context, key string, entry *Entry) {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	m.mu.Lock()
	m.data[key] = entry
	m.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close stops the janitor goroutine.
func (m *Memory) Close() {
	m.stopped.Do(func() { close(m.stop) })
}

func (m *Memory) janitor() {
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, entry := range m.data {
				if now.Sub(entry.StoredAt) > m.ttl {
					delete(m.data, key)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}
