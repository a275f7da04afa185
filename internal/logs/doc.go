// Package logs reads the daemon's run log for the CLI: a bounded tail of
// the most recent lines plus incremental follow reads keyed by byte offset.
// The daemon appends; this package only ever reads.
package logs
