package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var _ Cache = (*Memory)(nil)

// Memory is an in-process LRU with a single expiry for every entry. The ttl
// passed to Set is ignored in favor of the one given to NewMemory.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory returns a Memory holding at most size entries for ttl each.
func NewMemory(size int, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.lru.Add(key, value)
	return nil
}

func (m *Memory) Flush(context.Context) error {
	m.lru.Purge()
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int { return m.lru.Len() }
