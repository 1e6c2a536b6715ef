// Package store defines the injected key-value store the pipeline persists
// through, and a default in-memory implementation. Callers embedding the
// pipeline behind an API supply their own implementation.
package store

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store is a minimal key-value capability. Implementations must be safe for
// concurrent use across pipeline runs.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string)
}

// Memory is a Store backed by an expiring in-process cache.
type Memory struct {
	c *gocache.Cache
}

// NewMemory creates a Memory store. Entries live for ttl; a ttl of zero means
// no expiration.
func NewMemory(ttl time.Duration) *Memory {
	exp := ttl
	if exp == 0 {
		exp = gocache.NoExpiration
	}
	return &Memory{c: gocache.New(exp, 10*time.Minute)}
}

// Get returns the value stored under key.
func (m *Memory) Get(key string) ([]byte, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Set stores value under key with the store's default TTL.
func (m *Memory) Set(key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("store: empty key")
	}
	m.c.Set(key, value, gocache.DefaultExpiration)
	return nil
}

// Delete removes key if present.
func (m *Memory) Delete(key string) {
	m.c.Delete(key)
}
