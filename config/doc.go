// Package config handles loading and parsing of configuration from YAML
// files and environment variables: server settings, the provider
// manifest, circuit breaker and retry tuning, per-operation cache TTLs,
// and consensus validation parameters.
package config
