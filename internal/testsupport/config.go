// Package testsupport provides shared helpers for llmbridge tests: config
// builders seeded with temp directories and scripted HTTP backends.
package testsupport

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"llmbridge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t   testing.TB
	cfg *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test
// and timings fast enough for unit tests. It applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.IPC.Port = 0
	cfgVal.Ollama.Timeout = 2
	cfgVal.Cloud.Timeout = 2
	cfgVal.Monitor.ProbeInterval = 1
	cfgVal.Monitor.ErrorBackoff = 1
	cfgVal.Monitor.SubmitTimeout = 5

	builder := &configBuilder{t: t, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{cfgVal.Paths.DataDir, cfgVal.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return builder.cfg
}

// WithOllamaURL points the local connection defaults at a test server URL.
func WithOllamaURL(rawURL string) ConfigOption {
	return func(b *configBuilder) {
		host, port := splitHostPort(b.t, rawURL)
		b.cfg.Ollama.Host = host
		b.cfg.Ollama.Port = port
	}
}

// WithCloudURL points the relay defaults at a test server URL.
func WithCloudURL(rawURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cloud.BaseURL = rawURL
	}
}

// WithSubmitTimeout overrides the cross-goroutine submission deadline.
func WithSubmitTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Monitor.SubmitTimeout = seconds
	}
}

// WithRequestTimeout overrides both backends' per-request deadline.
func WithRequestTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ollama.Timeout = seconds
		b.cfg.Cloud.Timeout = seconds
	}
}

func splitHostPort(t testing.TB, rawURL string) (string, int) {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url %q: %v", rawURL, err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		t.Fatalf("parse port of %q: %v", rawURL, err)
	}
	return parsed.Hostname(), port
}
