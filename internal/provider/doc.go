// Package provider defines the external data sources the engine can
// query and the registry that tracks their health.
//
// A Provider's identity (id, category, priority, base URL, endpoints) is
// fixed at startup from configuration. Its health fields (status, last
// check, observed response time, last error) are mutated continuously by
// the health monitor and by real request outcomes, and are safe for
// concurrent access.
//
// The Registry orders candidates for an operation by priority, breaking
// ties with the fastest observed response time, so the orchestrator's
// failover walk is deterministic for a given health snapshot.
package provider
