package cache

import "container/list"

type entry struct {
	key   string
	value string
}

// fifo keeps entries in insertion order; the front of the list is the
// oldest. Reads and overwrites never reorder.
type fifo struct {
	order    *list.List
	items    map[string]*list.Element
	capacity int
	onEvict  EvictFunc
}

func newFIFO(capacity int, onEvict EvictFunc) *fifo {
	return &fifo{
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
		capacity: capacity,
		onEvict:  onEvict,
	}
}

func (c *fifo) Get(key string) (string, bool) {
	if el, ok := c.items[key]; ok {
		return el.Value.(*entry).value, true
	}
	return "", false
}

func (c *fifo) Set(key, value string) {
	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = value
		return
	}
	if c.order.Len() >= c.capacity {
		c.evictOldest()
	}
	c.items[key] = c.order.PushBack(&entry{key: key, value: value})
}

func (c *fifo) evictOldest() {
	el := c.order.Front()
	if el == nil {
		return
	}
	e := c.order.Remove(el).(*entry)
	delete(c.items, e.key)
	c.onEvict(e.key, e.value)
}

func (c *fifo) Delete(key string) {
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

func (c *fifo) Contains(key string) bool {
	_, ok := c.items[key]
	return ok
}

func (c *fifo) Len() int {
	return c.order.Len()
}

func (c *fifo) Capacity() int {
	return c.capacity
}

func (c *fifo) Strategy() Strategy {
	return FIFO
}
