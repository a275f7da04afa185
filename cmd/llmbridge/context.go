package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"llmbridge/internal/config"
	"llmbridge/internal/daemonctl"
	"llmbridge/internal/ipc"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	client, err := daemonctl.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w (start it with `llmbridge start`)", err)
	}
	defer client.Close()
	return fn(client)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
