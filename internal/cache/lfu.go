package cache

import "container/heap"

type lfuEntry struct {
	key   string
	value string
	count int
	seq   uint64 // insertion order, breaks count ties
	index int
}

// lfuHeap is a min-heap on (count, seq)
type lfuHeap []*lfuEntry

func (h lfuHeap) Len() int { return len(h) }

func (h lfuHeap) Less(i, j int) bool {
	if h[i].count != h[j].count {
		return h[i].count < h[j].count
	}
	return h[i].seq < h[j].seq
}

func (h lfuHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *lfuHeap) Push(x interface{}) {
	e := x.(*lfuEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *lfuHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// lfu counts every Get and Set. Victims are the lowest count, and among
// equal counts the key inserted earliest.
type lfu struct {
	heap     lfuHeap
	items    map[string]*lfuEntry
	nextSeq  uint64
	capacity int
	onEvict  EvictFunc
}

func newLFU(capacity int, onEvict EvictFunc) *lfu {
	return &lfu{
		heap:     make(lfuHeap, 0, capacity),
		items:    make(map[string]*lfuEntry, capacity),
		capacity: capacity,
		onEvict:  onEvict,
	}
}

func (c *lfu) touch(e *lfuEntry) {
	e.count++
	heap.Fix(&c.heap, e.index)
}

func (c *lfu) Get(key string) (string, bool) {
	e, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.touch(e)
	return e.value, true
}

func (c *lfu) Set(key, value string) {
	if e, ok := c.items[key]; ok {
		e.value = value
		c.touch(e)
		return
	}
	if len(c.items) >= c.capacity {
		victim := heap.Pop(&c.heap).(*lfuEntry)
		delete(c.items, victim.key)
		c.onEvict(victim.key, victim.value)
	}
	e := &lfuEntry{key: key, value: value, count: 1, seq: c.nextSeq}
	c.nextSeq++
	heap.Push(&c.heap, e)
	c.items[key] = e
}

func (c *lfu) Delete(key string) {
	e, ok := c.items[key]
	if !ok {
		return
	}
	heap.Remove(&c.heap, e.index)
	delete(c.items, key)
}

func (c *lfu) Contains(key string) bool {
	_, ok := c.items[key]
	return ok
}

func (c *lfu) Len() int {
	return len(c.items)
}

func (c *lfu) Capacity() int {
	return c.capacity
}

func (c *lfu) Strategy() Strategy {
	return LFU
}
