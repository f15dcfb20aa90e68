// Package metrics collects engine events (resolves, provider attempts,
// cache lookups, health transitions) over a buffered channel and
// exposes an aggregated JSON snapshot over HTTP. Emission never blocks
// the request path; under pressure events are dropped, not queued.
package metrics
