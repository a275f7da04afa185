// llmbridged runs the connection broker daemon directly, without the CLI
// wrapper. It is what service managers should launch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"llmbridge/internal/config"
	"llmbridge/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "prepare directories: %v\n", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		LogLevel: *logLevel,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "llmbridged: %v\n", err)
		os.Exit(1)
	}
}
