// Package ratelimit provides per-provider request throttling using
// token buckets (golang.org/x/time/rate). Capacity is the configured
// request budget, refilled at budget/window. Admission is non-blocking:
// a rejected attempt is routine backpressure, never a provider failure.
package ratelimit
