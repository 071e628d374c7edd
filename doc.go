// Package storecache is the data-access cache of a storefront whose records
// live in a remote document store. It turns repeated, duplicated and N+1
// reads into cache hits, single shared fetches and bulk fetches.
//
// Components:
//   - Store: process-wide state created with New and released with Close.
//     Entries are grouped by dataType; each dataType has its own TTL and
//     MaxItems bound (LRU eviction, ties broken by insertion order).
//   - Cache[T]: typed view of one dataType. Values are kept encoded by a
//     codec.Codec[T], so readers always receive copies.
//   - GetBatch: resolves a key set with one bulk fetch for the uncached part.
//   - Persister: optional mirror to local durable storage (see package persist),
//     reloaded on New with TTL validation.
//   - Subscribe: change events for observers (UI, metrics, tests).
//
// Keys:
//
//	<dataType>:<key>  - full key; Invalidate matches substrings of it
//
// Concurrency:
//
// Concurrent Gets of one key share a single fetch. A caller whose context
// ends stops waiting but does not cancel the fetch. Every Set, Delete and
// Invalidate moves the key's generation (package genstore); a fetch that
// started under an older generation is returned to its callers but not
// cached, so a read after Invalidate never sees the value it removed.
//
//	c, _ := storecache.NewCache[Product](store, "product", codec.Msgpack[Product]{})
//	p, ok, err := c.Get(ctx, "p1", func(ctx context.Context) (Product, bool, error) {
//		return db.Product(ctx, "p1")
//	})
package storecache
