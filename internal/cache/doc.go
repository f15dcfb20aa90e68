// Package cache provides TTL-keyed result storage with single-flight
// deduplication.
//
// Entries are keyed by a normalized request fingerprint and valid until
// stored_at + ttl; expired entries are misses whether or not a sweep
// has removed them. Two backing stores exist: an in-process MemoryStore
// and a RedisStore for sharing the cache across instances. Store
// failures degrade to misses so the engine falls back to fetching
// fresh rather than failing requests.
package cache
