// Package cache provides a small generic LRU cache with an eviction callback.
//
// The cache keeps at most Capacity entries. Inserting past capacity evicts the
// least recently used entry and hands it to the OnEvict callback, which is
// where device objects (compiled pipelines, shader modules) are destroyed.
//
//	c := cache.New[string, *pipeline](16, func(_ string, p *pipeline) { p.destroy() })
//	p, err := c.GetOrCreate(key, compile)
//
// Cache is safe for concurrent use. The callback runs with the cache lock
// released.
package cache
