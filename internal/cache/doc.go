// Package cache provides a small generic LRU cache for values that are
// expensive to build and cheap to keep, such as generated kernel sources
// and their compilation results.
//
//	c := cache.New[string, int](16)
//	v, err := c.GetOrCreate("key", func() (int, error) { return 42, nil })
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
