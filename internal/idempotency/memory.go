// ABOUTME: In-process idempotency store: TTL and size-limited cache of responses
// ABOUTME: Insertion-ordered linked list gives O(1) eviction of the oldest key

package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry stores the reservation time, the list element and, once
// completed, the response.
type memoryEntry struct {
	timestamp time.Time
	element   *list.Element
	resp      *Response // nil while in flight
}

// MemoryStore is a thread-safe, TTL-based, size-limited Store for a single
// gateway process.
type MemoryStore struct {
	mu      sync.Mutex
	seen    map[string]*memoryEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewMemoryStore creates a store with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func NewMemoryStore(ttl time.Duration, maxSize int) *MemoryStore {
	m := &MemoryStore{
		seen:    make(map[string]*memoryEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Begin atomically checks key and reserves it if absent or expired.
func (m *MemoryStore) Begin(ctx context.Context, key string) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.seen[key]
	if ok && time.Since(entry.timestamp) < m.ttl {
		if entry.resp == nil {
			return nil, ErrInFlight
		}
		resp := *entry.resp
		return &resp, nil
	}
	if ok {
		m.removeLocked(key, entry)
	}

	if len(m.seen) >= m.maxSize {
		m.evictOldest()
	}

	elem := m.order.PushBack(key)
	m.seen[key] = &memoryEntry{timestamp: time.Now(), element: elem}
	return nil, nil
}

// Complete stores resp for key. The TTL restarts from completion.
func (m *MemoryStore) Complete(ctx context.Context, key string, resp Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.seen[key]
	if !ok {
		// Evicted while in flight; record it fresh
		if len(m.seen) >= m.maxSize {
			m.evictOldest()
		}
		entry = &memoryEntry{element: m.order.PushBack(key)}
		m.seen[key] = entry
	} else {
		m.order.MoveToBack(entry.element)
	}
	entry.timestamp = time.Now()
	entry.resp = &resp
	return nil
}

// Release drops a reservation
func (m *MemoryStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.seen[key]; ok {
		m.removeLocked(key, entry)
	}
	return nil
}

// Len reports the number of tracked keys
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *MemoryStore) removeLocked(key string, entry *memoryEntry) {
	m.order.Remove(entry.element)
	delete(m.seen, key)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (m *MemoryStore) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCleanup()
		case <-m.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (m *MemoryStore) runCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, entry := range m.seen {
		if now.Sub(entry.timestamp) > m.ttl {
			m.removeLocked(key, entry)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
