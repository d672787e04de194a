package cache

import (
	"container/list"

	"durakv/internal/common"
)

// LruCache keeps decoded values bounded by a key count. Recency is a doubly
// linked list with a map from key to element, so every operation is O(1).
// A capacity of zero means unbounded. The engine serializes access under its
// own lock, so the cache carries none.
type LruCache struct {
	capacityCount int
	evictionList  *list.List
	itemsMap      map[string]*list.Element

	// onEvict fires for keys pushed out by capacity, not for explicit
	// removals. The engine uses it to drop evicted keys from its dirty set.
	onEvict func(key string)
}

type cacheEntry struct {
	key   string
	value common.Value
}

func NewLruCache(capacity int, onEvict func(key string)) *LruCache {
	return &LruCache{
		capacityCount: capacity,
		evictionList:  list.New(),
		itemsMap:      make(map[string]*list.Element),
		onEvict:       onEvict,
	}
}

// Retrieve returns the cached value and bumps its recency.
func (c *LruCache) Retrieve(key string) (common.Value, bool) {
	if element, exists := c.itemsMap[key]; exists {
		c.evictionList.MoveToFront(element)
		return element.Value.(*cacheEntry).value, true
	}
	return common.Value{}, false
}

// Peek returns the cached value without touching recency.
func (c *LruCache) Peek(key string) (common.Value, bool) {
	if element, exists := c.itemsMap[key]; exists {
		return element.Value.(*cacheEntry).value, true
	}
	return common.Value{}, false
}

// Insert stores the value as most recent, evicting the least recent entry
// when the capacity is exceeded.
func (c *LruCache) Insert(key string, value common.Value) {
	if element, exists := c.itemsMap[key]; exists {
		c.evictionList.MoveToFront(element)
		element.Value.(*cacheEntry).value = value
		return
	}

	newElement := c.evictionList.PushFront(&cacheEntry{key, value})
	c.itemsMap[key] = newElement

	if c.capacityCount > 0 && c.evictionList.Len() > c.capacityCount {
		oldestElement := c.evictionList.Back()
		if oldestElement != nil {
			c.evictionList.Remove(oldestElement)
			entry := oldestElement.Value.(*cacheEntry)
			delete(c.itemsMap, entry.key)
			if c.onEvict != nil {
				c.onEvict(entry.key)
			}
		}
	}
}

// Remove drops the key without firing the eviction callback.
func (c *LruCache) Remove(key string) {
	if element, exists := c.itemsMap[key]; exists {
		c.evictionList.Remove(element)
		delete(c.itemsMap, key)
	}
}

func (c *LruCache) Contains(key string) bool {
	_, exists := c.itemsMap[key]
	return exists
}

func (c *LruCache) Len() int {
	return c.evictionList.Len()
}

func (c *LruCache) Clear() {
	c.evictionList.Init()
	c.itemsMap = make(map[string]*list.Element)
}
