// Package logger builds the application slog.Logger: JSON output in
// prod, human-readable text elsewhere.
package logger
