package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type evictionLog struct {
	keys []string
}

func (l *evictionLog) record(key, _ string) {
	l.keys = append(l.keys, key)
}

func newTestCache(t *testing.T, s Strategy, capacity int) (Cache, *evictionLog) {
	t.Helper()
	log := &evictionLog{}
	c, err := New(s, capacity, log.record)
	require.NoError(t, err)
	return c, log
}

func TestNew(t *testing.T) {
	_, err := New(LRU, 0, nil)
	assert.Error(t, err)

	_, err = New(Strategy("MRU"), 2, nil)
	assert.Error(t, err)

	for _, s := range []Strategy{FIFO, LRU, LFU} {
		c, err := New(s, 3, nil)
		require.NoError(t, err)
		assert.Equal(t, s, c.Strategy())
		assert.Equal(t, 3, c.Capacity())
		assert.Equal(t, 0, c.Len())
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" lru ")
	require.NoError(t, err)
	assert.Equal(t, LRU, s)

	_, err = ParseStrategy("none")
	assert.Error(t, err)
}

func TestCapacityHeldForAllStrategies(t *testing.T) {
	for _, s := range []Strategy{FIFO, LRU, LFU} {
		t.Run(string(s), func(t *testing.T) {
			c, log := newTestCache(t, s, 4)
			for i := 0; i < 10; i++ {
				c.Set(fmt.Sprintf("k%d", i), "v")
			}
			assert.Equal(t, 4, c.Len())
			assert.Len(t, log.keys, 6, "one eviction per insert beyond capacity")
		})
	}
}

func TestBasicOperations(t *testing.T) {
	for _, s := range []Strategy{FIFO, LRU, LFU} {
		t.Run(string(s), func(t *testing.T) {
			c, log := newTestCache(t, s, 2)

			_, ok := c.Get("missing")
			assert.False(t, ok)

			c.Set("a", "1")
			v, ok := c.Get("a")
			require.True(t, ok)
			assert.Equal(t, "1", v)

			c.Set("a", "2")
			v, _ = c.Get("a")
			assert.Equal(t, "2", v)
			assert.Equal(t, 1, c.Len())

			c.Delete("a")
			assert.False(t, c.Contains("a"))
			assert.Equal(t, 0, c.Len())

			// no-op on absent key
			c.Delete("a")
			assert.Empty(t, log.keys, "deletes are not evictions")
		})
	}
}

func TestFIFO_EvictsOldestInserted(t *testing.T) {
	c, log := newTestCache(t, FIFO, 2)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Get("a")
	c.Set("a", "updated")
	c.Set("c", "3")

	assert.Equal(t, []string{"a"}, log.keys)
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c, log := newTestCache(t, LRU, 2)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Get("a")
	c.Set("c", "3")

	assert.Equal(t, []string{"b"}, log.keys)
	assert.True(t, c.Contains("a"))
	assert.True(t, c.Contains("c"))
}

func TestLRU_SetRefreshesRecency(t *testing.T) {
	c, log := newTestCache(t, LRU, 2)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "1b")
	c.Set("c", "3")

	assert.Equal(t, []string{"b"}, log.keys)
}

func TestLFU_EvictsLeastFrequentlyUsed(t *testing.T) {
	c, log := newTestCache(t, LFU, 3)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")
	c.Get("a")
	c.Get("a")
	c.Get("c")
	c.Set("d", "4")

	assert.Equal(t, []string{"b"}, log.keys)
}

func TestLFU_TiesBrokenByInsertionOrder(t *testing.T) {
	c, log := newTestCache(t, LFU, 2)
	c.Set("a", "1")
	c.Set("b", "2")
	// both reach count 2; b got there first but a was inserted first
	c.Get("b")
	c.Get("a")
	c.Set("c", "3")

	assert.Equal(t, []string{"a"}, log.keys)

	// the newcomer has the lowest count and goes next
	c.Set("d", "4")
	assert.Equal(t, []string{"a", "c"}, log.keys)
}

func TestContainsIsPolicyNeutral(t *testing.T) {
	t.Run("LRU", func(t *testing.T) {
		c, log := newTestCache(t, LRU, 2)
		c.Set("a", "1")
		c.Set("b", "2")
		assert.True(t, c.Contains("a"))
		c.Set("c", "3")
		assert.Equal(t, []string{"a"}, log.keys)
	})

	t.Run("LFU", func(t *testing.T) {
		c, log := newTestCache(t, LFU, 2)
		c.Set("a", "1")
		c.Set("b", "2")
		for i := 0; i < 5; i++ {
			c.Contains("a")
		}
		c.Set("c", "3")
		assert.Equal(t, []string{"a"}, log.keys)
	})
}

func TestReinsertAfterDelete(t *testing.T) {
	c, log := newTestCache(t, FIFO, 2)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Delete("a")
	c.Set("a", "again")
	c.Set("c", "3")

	assert.Equal(t, []string{"b"}, log.keys)
}
