// Package dedup suppresses repeated processing of chat events.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Deduplicator reports whether an event is seen for the first time.
//
// ShouldProcess marks the key on first sight and returns true; later calls return
// false. Rollback unmarks a key whose handler failed so a retry is not dropped.
type Deduplicator interface {
	ShouldProcess(ctx context.Context, key string) bool
	Rollback(ctx context.Context, key string)
}

// CallbackKey identifies an inline button press.
func CallbackKey(callbackID, data string) string {
	return fmt.Sprintf("cb:%s:%s", callbackID, data)
}

// MessageKey identifies an inbound message of a sender.
func MessageKey(messageID int, senderID int64) string {
	return fmt.Sprintf("msg:%d:%d", messageID, senderID)
}

// Memory is a process-local deduplicator bounded by age and by size. Keys older
// than ttl are forgotten, and the oldest key is evicted once capacity is reached.
type Memory struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewMemory creates an in-memory deduplicator. A zero ttl or capacity disables
// that bound.
func NewMemory(ttl time.Duration, capacity int) *Memory {
	if capacity < 0 {
		capacity = 0
	}
	return &Memory{cache: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

func (m *Memory) ShouldProcess(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Peek skips entries past their ttl that the cache has not swept yet.
	if _, ok := m.cache.Peek(key); ok {
		return false
	}
	m.cache.Add(key, struct{}{})
	return true
}

func (m *Memory) Rollback(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Remove(key)
}
