package cache

import "sync"

// Cache is a thread-safe LRU cache.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	entries  map[K]*lruNode[K, V]
	lru      lruList[K, V]
	capacity int
	onEvict  func(K, V)

	hits, misses, evictions uint64
}

// New creates a cache holding at most capacity entries. A capacity of 0
// means unlimited. onEvict, if non-nil, receives every entry that leaves the
// cache through eviction, Delete or Clear.
func New[K comparable, V any](capacity int, onEvict func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		entries:  make(map[K]*lruNode[K, V]),
		capacity: capacity,
		onEvict:  onEvict,
	}
}

// Get retrieves a value and marks it recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.lru.MoveToFront(node)
	return node.value, true
}

// Set stores a value, replacing (and evicting) any previous value for key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	var evicted []*lruNode[K, V]
	if old, ok := c.entries[key]; ok {
		c.lru.Remove(old)
		delete(c.entries, key)
		evicted = append(evicted, old)
	}
	c.entries[key] = c.lru.PushFront(key, value)
	evicted = append(evicted, c.trimLocked()...)
	c.mu.Unlock()

	c.notify(evicted)
}

// GetOrCreate returns the cached value for key, or calls create and caches
// its result. create runs under the cache lock; an error is returned as-is
// and nothing is cached.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	if node, ok := c.entries[key]; ok {
		c.hits++
		c.lru.MoveToFront(node)
		c.mu.Unlock()
		return node.value, nil
	}
	c.misses++

	value, err := create()
	if err != nil {
		c.mu.Unlock()
		return value, err
	}
	c.entries[key] = c.lru.PushFront(key, value)
	evicted := c.trimLocked()
	c.mu.Unlock()

	c.notify(evicted)
	return value, nil
}

// Delete removes an entry. Returns true if it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	node, ok := c.entries[key]
	if ok {
		c.lru.Remove(node)
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok {
		c.notify([]*lruNode[K, V]{node})
	}
	return ok
}

// Clear removes all entries, oldest first.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	evicted := make([]*lruNode[K, V], 0, len(c.entries))
	for n := c.lru.Back(); n != nil; n = c.lru.Back() {
		c.lru.Remove(n)
		evicted = append(evicted, n)
	}
	c.entries = make(map[K]*lruNode[K, V])
	c.mu.Unlock()

	c.notify(evicted)
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Len:       len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// trimLocked unlinks entries past capacity. Caller must hold c.mu.
func (c *Cache[K, V]) trimLocked() []*lruNode[K, V] {
	if c.capacity <= 0 {
		return nil
	}
	var out []*lruNode[K, V]
	for c.lru.Len() > c.capacity {
		n := c.lru.Back()
		c.lru.Remove(n)
		delete(c.entries, n.key)
		c.evictions++
		out = append(out, n)
	}
	return out
}

func (c *Cache[K, V]) notify(nodes []*lruNode[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, n := range nodes {
		c.onEvict(n.key, n.value)
	}
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the entry limit (0 = unlimited).
	Capacity int
	// Hits is the number of lookups that found an entry.
	Hits uint64
	// Misses is the number of lookups that did not.
	Misses uint64
	// HitRate is Hits / (Hits + Misses), 0.0 to 1.0.
	HitRate float64
	// Evictions is the number of entries dropped for capacity.
	Evictions uint64
}
