// Package orchestrator is the engine's entry point. Resolve computes a
// request fingerprint, consults the cache (single-flighted), obtains
// ordered candidates from the registry, and fails over across them
// until one succeeds. Price-sensitive operations can instead fan out
// to the top candidates and cross-check values within a configured
// tolerance, annotating divergent results rather than failing them.
//
// Only ExhaustedError ever propagates to callers; every transient
// provider failure is absorbed by retry and failover.
package orchestrator
