// Package cache provides the explicit cache abstraction used by the permission
// resolver.
//
// Caching is invoked directly (Get, Set, Evict, EvictPrefix) rather than
// declared on methods, so invalidation is visible at every write path and can
// be tested.
//
// Two backends are provided:
//
//   - LRUCache: in-process expirable LRU (hashicorp/golang-lru/v2)
//   - RedisCache: shared Redis keyspace, prefix eviction via SCAN + DEL
//
// Typed[V] layers a JSON codec and a namespace on top of either backend:
//
//	roles := cache.NewTyped[[]string](backend, "role-permissions")
//	roles.Set(ctx, "VIEWER", []string{"sacraments.view"})
//	perms, ok, err := roles.Get(ctx, "VIEWER")
//	roles.Evict(ctx, "VIEWER")
package cache
