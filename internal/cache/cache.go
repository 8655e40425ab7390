// Package cache provides the bounded in-memory cache that sits in front of a
// node's persistent store. Three eviction strategies are supported and none
// of the implementations are safe for concurrent use; the storage node
// serializes access under its own lock.
package cache

import (
	"fmt"
	"strings"
)

// Strategy selects the eviction policy
type Strategy string

const (
	// FIFO evicts the oldest inserted entry regardless of access pattern
	FIFO Strategy = "FIFO"
	// LRU evicts the entry that was read or written least recently
	LRU Strategy = "LRU"
	// LFU evicts the entry with the fewest reads and writes, oldest first on ties
	LFU Strategy = "LFU"
)

// ParseStrategy parses a strategy name, ignoring case
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToUpper(strings.TrimSpace(s))) {
	case FIFO:
		return FIFO, nil
	case LRU:
		return LRU, nil
	case LFU:
		return LFU, nil
	}
	return "", fmt.Errorf("unknown cache strategy %q", s)
}

// EvictFunc is called with every entry removed to make room
type EvictFunc func(key, value string)

// Cache is a bounded key-value map
type Cache interface {
	// Get returns the cached value and records the access
	Get(key string) (string, bool)
	// Set inserts or updates key, evicting one entry first when full
	Set(key, value string)
	// Delete removes key if present
	Delete(key string)
	// Contains reports presence without touching recency or frequency
	Contains(key string) bool
	// Len returns the number of cached entries
	Len() int
	Capacity() int
	Strategy() Strategy
}

// New creates an empty cache. A non-positive capacity is rejected.
func New(strategy Strategy, capacity int, onEvict EvictFunc) (Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if onEvict == nil {
		onEvict = func(string, string) {}
	}

	switch strategy {
	case FIFO:
		return newFIFO(capacity, onEvict), nil
	case LRU:
		c, err := newLRU(capacity, onEvict)
		if err != nil {
			return nil, err
		}
		return c, nil
	case LFU:
		return newLFU(capacity, onEvict), nil
	}
	return nil, fmt.Errorf("unknown cache strategy %q", strategy)
}
