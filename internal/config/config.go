package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// IPC contains the loopback bridge bind configuration.
type IPC struct {
	Host string `toml:"host"`
	Port int    `toml:"port"` // 0 auto-assigns; the bound port is published via the port file
}

// Ollama contains defaults for the local direct connection.
type Ollama struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Timeout int    `toml:"timeout"`
}

// Cloud contains defaults for the authenticated relay connection.
type Cloud struct {
	BaseURL string `toml:"base_url"`
	Timeout int    `toml:"timeout"`
}

// Monitor contains health monitor timing configuration.
type Monitor struct {
	ProbeInterval int `toml:"probe_interval"`
	ErrorBackoff  int `toml:"error_backoff"`
	SubmitTimeout int `toml:"submit_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains ntfy push configuration. An empty topic disables
// notifications.
type Notifications struct {
	NtfyTopic   string `toml:"ntfy_topic"`
	NtfyTimeout int    `toml:"ntfy_timeout"`
}

// Config encapsulates all daemon settings for llmbridge.
//
// These are operator-facing settings read once at startup. The broker's
// per-connection configuration (host, token, enabled) is a separate
// runtime-mutable JSON document owned by the registry; the [ollama] and
// [cloud] sections here only seed its defaults on first run.
type Config struct {
	Paths         Paths         `toml:"paths"`
	IPC           IPC           `toml:"ipc"`
	Ollama        Ollama        `toml:"ollama"`
	Cloud         Cloud         `toml:"cloud"`
	Monitor       Monitor       `toml:"monitor"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// CurrentLogPath returns the stable pointer to the active run's log file.
func (c *Config) CurrentLogPath() string {
	return filepath.Join(c.Paths.LogDir, "llmbridge.log")
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/llmbridge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("llmbridge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ConnectionConfigPath returns the path of the registry's JSON document.
func (c *Config) ConnectionConfigPath() string {
	return filepath.Join(c.Paths.DataDir, "connection_config.json")
}

// PortFilePath returns the IPC port discovery file path.
func (c *Config) PortFilePath() string {
	return filepath.Join(c.Paths.DataDir, "llmbridge_port")
}

// PIDFilePath returns the daemon pid file path.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.Paths.DataDir, "llmbridged.pid")
}

// LockFilePath returns the single-instance lock file path.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.DataDir, "llmbridged.lock")
}

// ProbeInterval returns the health monitor tick interval.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Monitor.ProbeInterval) * time.Second
}

// ErrorBackoff returns the monitor sleep applied after a failed tick.
func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.Monitor.ErrorBackoff) * time.Second
}

// SubmitTimeout returns the cross-scheduler submission deadline.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Monitor.SubmitTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
