package persistence

import (
	"container/list"
	"sync"
)

// BlockCache keeps decoded values of compressed entries.
type BlockCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// lruCache is a fixed-capacity least recently used cache.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type cacheItem struct {
	key   string
	value []byte
}

// NewBlockCache creates a cache holding at most capacity values.
func NewBlockCache(capacity int) BlockCache {
	return &lruCache{
		capacity: max(capacity, 1),
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *lruCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.items[key]
	if !found {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheItem).value, true
}

func (c *lruCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, found := c.items[key]; found {
		el.Value.(*cacheItem).value = value
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&cacheItem{key: key, value: value})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
}
