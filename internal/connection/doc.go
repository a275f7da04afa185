// Package connection defines the broker's core data model: the two backend
// connection types, their durable configuration, and their live status.
//
// Config values are owned by the registry and persisted as JSON; Status
// values are owned exclusively by the broker's monitor loop and handed out
// only as snapshots.
package connection
