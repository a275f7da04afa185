// Package config loads and validates the operator-facing daemon settings
// from TOML.
//
// Settings here are read once at startup and immutable afterwards. Runtime
// state that changes while the daemon runs (auth tokens, connection
// overrides) belongs to the registry's JSON document, not this file.
package config
