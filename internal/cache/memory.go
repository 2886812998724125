package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// MemoryProvider implements Provider with a bounded in-process LRU. TTL is
// tracked per entry and checked on read; the LRU bound caps memory when keys
// expire without being touched. Suitable for single-process deployments where
// an external cache is not configured.
type MemoryProvider struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, memoryEntry]
	now func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an in-memory Provider holding at most size entries.
func NewMemoryProvider(size int) (*MemoryProvider, error) {
	if size <= 0 {
		size = 4096
	}
	lru, err := simplelru.NewLRU[string, memoryEntry](size, nil)
	if err != nil {
		return nil, err
	}
	return &MemoryProvider{lru: lru, now: time.Now}, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when absent or expired.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.lru.Get(key)
	if !ok || p.expired(entry) {
		if ok {
			p.lru.Remove(key)
		}
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores bytes with the provided TTL.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lru.Add(key, p.entry(value, ttl))
	return nil
}

// SetNX stores the value only if the key is absent or expired. The provider
// mutex makes the check-then-set atomic within the process.
func (p *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.lru.Get(key); ok && !p.expired(entry) {
		return false, nil
	}
	p.lru.Add(key, p.entry(value, ttl))
	return true, nil
}

// Del removes a key.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lru.Remove(key)
	return nil
}

// Ping always succeeds for the in-process provider.
func (p *MemoryProvider) Ping(context.Context) error { return nil }

// Close is a no-op.
func (p *MemoryProvider) Close() error { return nil }

func (p *MemoryProvider) entry(value []byte, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = p.now().Add(ttl)
	}
	return e
}

func (p *MemoryProvider) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && p.now().After(e.expiresAt)
}
