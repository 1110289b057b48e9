// Package logger builds the application's slog logger: text output for
// development, JSON for production, with a configurable level.
package logger
