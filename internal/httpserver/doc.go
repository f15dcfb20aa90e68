// Package httpserver wraps the standard library HTTP server with
// address validation and graceful shutdown.
package httpserver
