// Package registry owns the durable per-connection configuration and its
// JSON persistence.
//
// The registry performs no network I/O. Config mutations persist
// best-effort and trigger an out-of-band health re-check through a hook the
// broker installs at startup.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"llmbridge/internal/config"
	"llmbridge/internal/connection"
	"llmbridge/internal/logging"
)

// RecheckFunc requests an immediate health probe for one connection.
type RecheckFunc func(connection.Type)

// Registry stores exactly one Config per connection type. One slot per
// type instead of a keyed map keeps lookups exhaustive at compile time.
type Registry struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	local connection.Config
	cloud connection.Config

	recheck RecheckFunc
}

// New builds a registry seeded from daemon settings and loads any persisted
// overrides. A missing file is replaced with the defaults.
func New(cfg *config.Config, logger *slog.Logger) *Registry {
	r := &Registry{
		path:   cfg.ConnectionConfigPath(),
		logger: logging.NewComponentLogger(logger, "registry"),
		local:  connection.DefaultLocal(cfg.Ollama.Host, cfg.Ollama.Port, cfg.Ollama.Timeout),
		cloud:  connection.DefaultCloud(cfg.Cloud.BaseURL, cfg.Cloud.Timeout),
	}
	r.load()
	return r
}

// SetRecheck installs the broker's out-of-band probe trigger.
func (r *Registry) SetRecheck(fn RecheckFunc) {
	r.mu.Lock()
	r.recheck = fn
	r.mu.Unlock()
}

// Config returns a copy of the config for the given type.
func (r *Registry) Config(t connection.Type) connection.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.slot(t)
}

// Configs returns copies of all configs in selection priority order.
func (r *Registry) Configs() []connection.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return []connection.Config{r.local, r.cloud}
}

// UpdateAuthToken sets the cloud relay token. The relay is enabled exactly
// while a non-empty token is present. The change persists immediately and
// triggers a relay re-check.
func (r *Registry) UpdateAuthToken(token string) {
	r.mu.Lock()
	r.cloud.AuthToken = token
	r.cloud.Enabled = token != ""
	r.saveLocked()
	recheck := r.recheck
	r.mu.Unlock()

	r.logger.Info("auth token updated",
		logging.String(logging.FieldEventType, "auth_token_updated"),
		logging.Bool("enabled", token != ""),
	)
	if recheck != nil {
		recheck(connection.TypeCloudProxy)
	}
}

// UpdateLocalTarget rewrites the local Ollama address, persists, and
// triggers a local re-check.
func (r *Registry) UpdateLocalTarget(host string, port int) error {
	if host == "" {
		return errors.New("host is required")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}

	r.mu.Lock()
	r.local.Host = host
	r.local.Port = port
	r.local.BaseURL = connection.LocalBaseURL(host, port)
	r.saveLocked()
	recheck := r.recheck
	r.mu.Unlock()

	r.logger.Info("local target updated",
		logging.String(logging.FieldEventType, "local_target_updated"),
		logging.String("host", host),
		logging.Int("port", port),
	)
	if recheck != nil {
		recheck(connection.TypeLocalOllama)
	}
	return nil
}

func (r *Registry) slot(t connection.Type) *connection.Config {
	if t == connection.TypeCloudProxy {
		return &r.cloud
	}
	return &r.local
}

// load reads persisted configs. Unknown or malformed per-type entries are
// skipped with a warning; they never abort the load.
func (r *Registry) load() {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.mu.Lock()
		r.saveLocked()
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.logger.Error("read connection config", logging.Error(err),
			logging.String("path", r.path))
		return
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		r.logger.Error("parse connection config", logging.Error(err),
			logging.String("path", r.path))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, raw := range entries {
		t, ok := connection.ParseType(name)
		if !ok {
			r.logger.Warn("skipping unknown connection type",
				logging.String(logging.FieldConnection, name),
				logging.String(logging.FieldEventType, "config_entry_skipped"),
			)
			continue
		}
		var cfg connection.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			r.logger.Warn("skipping malformed connection config",
				logging.String(logging.FieldConnection, name),
				logging.Error(err),
				logging.String(logging.FieldEventType, "config_entry_skipped"),
			)
			continue
		}
		cfg.Type = t
		if err := cfg.Validate(); err != nil {
			r.logger.Warn("skipping invalid connection config",
				logging.String(logging.FieldConnection, name),
				logging.Error(err),
				logging.String(logging.FieldEventType, "config_entry_skipped"),
			)
			continue
		}
		*r.slot(t) = cfg
	}
}

// saveLocked persists all configs. Failures are logged, never surfaced:
// a read-only data dir degrades persistence, not brokering.
func (r *Registry) saveLocked() {
	payload := map[connection.Type]connection.Config{
		connection.TypeLocalOllama: r.local,
		connection.TypeCloudProxy:  r.cloud,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		r.logger.Error("encode connection config", logging.Error(err))
		return
	}
	if err := os.WriteFile(r.path, append(data, '\n'), 0o600); err != nil {
		r.logger.Error("write connection config", logging.Error(err),
			logging.String("path", r.path),
			logging.String(logging.FieldEventType, "config_save_failed"),
			logging.String(logging.FieldErrorHint, "check data_dir permissions"),
		)
	}
}
