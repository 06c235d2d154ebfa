// Package skycache implements a backend-agnostic shared cache with lost-update
// safety via optimistic concurrency control. Three categories of reference
// data (locations, stations, zones) live in one logical shared document; many
// stateless writers across a fleet mutate it concurrently, synchronized only
// by the store's conditional write.
//
// Components:
//   - store.Store: versioned document store (DynamoDB, Redis, Badger, local
//     file, in-memory). StoreSharedIf persists only when the stored version
//     still equals the caller's expected version, bumping it by one.
//   - Handler: the category-typed facade callers depend on. The backend is
//     injected once at construction.
//   - provider.Provider + codec.Codec: optional in-process snapshot of the
//     encoded document for read-heavy deployments.
//
// Write pattern (per put):
//
//	doc, ver := fetch()            // authoritative read
//	doc.entries[cat][key] = entry  // merge on the fresh map
//	storeIf(doc, ver)              // commits only if ver still current
//	                               // conflict => backoff, re-read, re-merge
//
// Entries carry an epoch-seconds expiry evaluated by readers; expired entries
// are misses regardless of physical persistence. Cache errors never propagate
// to reads: every failure degrades to a miss and is logged. An exhausted
// write surfaces *WriteFailedError, which callers treat as a skipped cache
// fill, not a failure of their own operation.
package skycache
