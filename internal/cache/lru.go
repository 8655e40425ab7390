package cache

import (
	"fmt"

	"github.com/hashicorp/golang-lru/simplelru"
)

// lru delegates ordering to simplelru, which already moves entries to the
// front on Get and Add and offers Contains without promotion
type lru struct {
	list     *simplelru.LRU
	capacity int
	onEvict  EvictFunc
	deleting bool
}

func newLRU(capacity int, onEvict EvictFunc) (*lru, error) {
	c := &lru{capacity: capacity, onEvict: onEvict}
	l, err := simplelru.NewLRU(capacity, c.evicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	c.list = l
	return c, nil
}

// evicted is the simplelru callback. simplelru also fires it on Remove,
// which is an explicit delete rather than an eviction.
func (c *lru) evicted(key, value interface{}) {
	if c.deleting {
		return
	}
	c.onEvict(key.(string), value.(string))
}

func (c *lru) Get(key string) (string, bool) {
	v, ok := c.list.Get(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (c *lru) Set(key, value string) {
	c.list.Add(key, value)
}

func (c *lru) Delete(key string) {
	c.deleting = true
	c.list.Remove(key)
	c.deleting = false
}

func (c *lru) Contains(key string) bool {
	return c.list.Contains(key)
}

func (c *lru) Len() int {
	return c.list.Len()
}

func (c *lru) Capacity() int {
	return c.capacity
}

func (c *lru) Strategy() Strategy {
	return LRU
}
