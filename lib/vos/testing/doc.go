// Package testing provides a conformance suite and benchmarks for the
// versioned object store in package vos.
//
// The suite exercises the iterator protocol on every level (containers,
// objects, distribution keys and value versions) together with the object
// cache and the update, fetch and punch paths that feed it. Engines are
// supplied by a factory so the same suite runs against different cache,
// shard and arena configurations.
//
// Example usage:
//
//	factory := func() *testing.Env {
//		pool, _ := vos.CreatePool(vos.DefaultPoolOptions())
//		cache, _ := vos.NewObjCache(vos.DefaultCacheOptions())
//		return &testing.Env{Pool: pool, Cache: cache}
//	}
//
//	testing.RunIteratorTests(t, "Default", factory)
//	testing.RunEngineBenchmarks(b, "Default", factory)
package testing
