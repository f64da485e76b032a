// Package cache provides a small generic LRU cache.
//
// The wgpu device keeps compiled SPIR-V in one, keyed by a hash of the
// generated WGSL, so programs shared by several variables or renderers
// are compiled once per process:
//
//	c := cache.New[[32]byte, []uint32](64)
//	words, err := c.GetOrCreate(key, compile)
//
// Failed creations are not cached. Cache is safe for concurrent use and
// must not be copied after creation.
package cache
