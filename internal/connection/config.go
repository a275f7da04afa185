package connection

import (
	"fmt"
	"strings"
)

// Config holds the durable settings for one connection.
//
// JSON field names follow the persisted connection_config.json layout.
type Config struct {
	Type      Type   `json:"connection_type"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	BaseURL   string `json:"api_base_url"`
	AuthToken string `json:"auth_token"`
	Timeout   int    `json:"timeout"`
	Enabled   bool   `json:"enabled"`
}

// LocalBaseURL derives the base URL for a local direct connection.
func LocalBaseURL(host string, port int) string {
	return fmt.Sprintf("http://%s:%d", host, port)
}

// DefaultLocal returns the default local Ollama config.
func DefaultLocal(host string, port, timeout int) Config {
	return Config{
		Type:    TypeLocalOllama,
		Host:    host,
		Port:    port,
		BaseURL: LocalBaseURL(host, port),
		Timeout: timeout,
		Enabled: true,
	}
}

// DefaultCloud returns the default cloud relay config. The relay stays
// disabled until an auth token is set.
func DefaultCloud(baseURL string, timeout int) Config {
	return Config{
		Type:    TypeCloudProxy,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: timeout,
		Enabled: false,
	}
}

// Validate rejects configs that cannot be probed.
func (c Config) Validate() error {
	if _, ok := ParseType(string(c.Type)); !ok {
		return fmt.Errorf("unknown connection type %q", string(c.Type))
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%s: api_base_url is required", c.Type)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%s: timeout must be positive", c.Type)
	}
	return nil
}
