package logging

// Standardized attribute keys shared across components.
const (
	// FieldComponent identifies the subsystem emitting the log line.
	FieldComponent = "component"
	// FieldEventType classifies notable events for log scraping.
	FieldEventType = "event_type"
	// FieldErrorHint suggests a next step for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldConnection carries the connection type a line refers to.
	FieldConnection = "connection"
	// FieldClientID correlates lines with a single IPC client.
	FieldClientID = "client_id"
	// FieldRunID correlates lines with one daemon process lifetime.
	FieldRunID = "run_id"
)
