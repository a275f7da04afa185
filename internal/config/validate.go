package config

import (
	"fmt"
	"net/url"
	"strings"
)

// normalize expands relative and home-anchored paths and fills in zero values
// that have sensible fallbacks.
func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(valueOr(c.Paths.DataDir, defaultDataDir)); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(valueOr(c.Paths.LogDir, defaultLogDir)); err != nil {
		return err
	}
	c.IPC.Host = valueOr(c.IPC.Host, defaultIPCHost)
	c.Ollama.Host = valueOr(c.Ollama.Host, defaultOllamaHost)
	if c.Ollama.Port == 0 {
		c.Ollama.Port = defaultOllamaPort
	}
	if c.Ollama.Timeout <= 0 {
		c.Ollama.Timeout = defaultRequestTimeout
	}
	c.Cloud.BaseURL = strings.TrimRight(valueOr(c.Cloud.BaseURL, defaultCloudBaseURL), "/")
	if c.Cloud.Timeout <= 0 {
		c.Cloud.Timeout = defaultRequestTimeout
	}
	if c.Monitor.ProbeInterval <= 0 {
		c.Monitor.ProbeInterval = defaultProbeInterval
	}
	if c.Monitor.ErrorBackoff <= 0 {
		c.Monitor.ErrorBackoff = defaultErrorBackoff
	}
	if c.Monitor.SubmitTimeout <= 0 {
		c.Monitor.SubmitTimeout = defaultSubmitTimeout
	}
	c.Logging.Format = valueOr(c.Logging.Format, defaultLogFormat)
	c.Logging.Level = valueOr(c.Logging.Level, defaultLogLevel)
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTimeout <= 0 {
		c.Notifications.NtfyTimeout = defaultNtfyTimeout
	}
	return nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.IPC.Port < 0 || c.IPC.Port > 65535 {
		return fmt.Errorf("ipc port: %d out of range", c.IPC.Port)
	}
	if c.Ollama.Port < 1 || c.Ollama.Port > 65535 {
		return fmt.Errorf("ollama port: %d out of range", c.Ollama.Port)
	}
	parsed, err := url.Parse(c.Cloud.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("cloud base_url: %q is not an absolute URL", c.Cloud.BaseURL)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logging format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
