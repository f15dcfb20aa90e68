// Package handler exposes the engine over HTTP: the query API driving
// the orchestrator, and the provider-health API for external
// monitoring dashboards. Expected outcomes (exhaustion, divergence)
// are structured responses, never panics or opaque 500s.
package handler
