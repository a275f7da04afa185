// Package logging assembles the structured slog loggers used across
// llmbridge services.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and standardizes the field keys that tag log lines with components,
// connection types, and IPC client IDs. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits data with the same shape.
package logging
