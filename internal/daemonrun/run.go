// Package daemonrun wires configuration, logging, the daemon, and the IPC
// server into a running llmbridged process.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"llmbridge/internal/config"
	"llmbridge/internal/daemon"
	"llmbridge/internal/ipc"
	"llmbridge/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the llmbridged runtime loop and blocks until a signal or a
// client QUIT asks it to exit.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("llmbridge-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldRunID, runID))

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update llmbridge.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "llmbridge-*.log", Exclude: []string{logPath}},
	)

	pidPath := cfg.PIDFilePath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Stop()

	ipcServer, err := ipc.NewServer(signalCtx, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()

	d.Start()
	ipcServer.Serve()

	logger.Info("llmbridged running",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.Int("ipc_port", ipcServer.Port()),
	)

	select {
	case <-signalCtx.Done():
		logger.Info("signal received, shutting down")
	case <-d.ShutdownRequested():
		logger.Info("client requested shutdown")
	}
	return nil
}

// ensureCurrentLogPointer keeps a stable llmbridge.log pointing at the
// current run's log.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "llmbridge.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
