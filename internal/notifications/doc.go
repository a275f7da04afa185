// Package notifications pushes connection health alerts to an ntfy topic.
// With no topic configured every notification is a silent no-op, so callers
// never need to branch on whether notifications are enabled.
package notifications
