// Package ucache provides a tiered cache for social-media username
// metadata, protecting a rate-limited upstream API from redundant and
// excessive calls.
//
// ## Lookup Tiers
//
// A lookup consults three tiers in order: the in-process bounded cache, the
// community shared cache, and the live upstream API. A hit at any tier
// answers immediately and is written back to the faster tiers. Live results
// are also contributed to the shared cache, best effort, so the community
// benefits from every direct call.
//
// ## Request Coalescing
//
// Concurrent lookups for the same key share a single upstream call. The
// first caller performs the fetch; the rest wait for its result. The
// in-flight registration is dropped when the call settles, so a later
// lookup starts fresh.
//
// ## Rate Limiting
//
// All live calls pass through a rate limiter that tracks the upstream's
// blocked-until time and applies exponential backoff on repeated failures.
// While blocked, lookups short-circuit to a "no data" answer without
// touching the network. A bounded semaphore additionally caps how many live
// calls run at once.
//
// ## Negative Caching
//
// When the upstream confirms a user has no data, the cache stores an
// explicit negative entry so the user is not fetched again before a grace
// window passes. Rate-limit failures are never cached negatively: once the
// block lifts, the next lookup may succeed.
//
// ## Cache Eviction and Persistence
//
// The local cache holds a fixed number of entries and evicts the least
// recently used first. There is no in-memory wall-clock expiry; instead,
// snapshots persisted through a datastore stamp each entry with an expiry
// that is enforced when the snapshot is restored.
package ucache
