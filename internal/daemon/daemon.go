// Package daemon ties the broker, registry, and status bus into one
// process-wide service with single-instance locking and the presentation
// state mirrored to tray front-ends.
package daemon

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofrs/flock"

	"llmbridge/internal/broker"
	"llmbridge/internal/config"
	"llmbridge/internal/logging"
	"llmbridge/internal/notifications"
	"llmbridge/internal/registry"
	"llmbridge/internal/statusbus"
)

// Daemon owns the long-lived broker components and the process lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	bus      *statusbus.Bus
	broker   *broker.Broker
	notifier notifications.Service
	lock     *flock.Flock

	mu            sync.Mutex
	tooltip       string
	iconState     string
	authenticated bool

	presCancel func()
	presDone   chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}

	startMu sync.Mutex
	started bool
}

// New acquires the instance lock and assembles the daemon. It fails when
// another daemon already holds the lock.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	lock := flock.New(cfg.LockFilePath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another instance is already running (lock %s)", cfg.LockFilePath())
	}

	bus := statusbus.New(logger)
	reg := registry.New(cfg, logger)
	brk := broker.New(cfg, reg, bus, logger)

	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		registry:  reg,
		bus:       bus,
		broker:    brk,
		notifier:  notifications.NewService(cfg),
		lock:      lock,
		tooltip:   defaultTooltip,
		iconState: iconIdle,
		shutdown:  make(chan struct{}),
	}, nil
}

// Start launches the broker and the presentation subscriber.
func (d *Daemon) Start() {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if d.started {
		return
	}
	d.started = true

	events, cancel := d.bus.Subscribe()
	d.presCancel = cancel
	d.presDone = make(chan struct{})
	go d.watchTransitions(events)

	d.broker.Start()
	d.logger.Info("daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
	)
}

// Stop tears everything down. Errors during teardown are logged, never
// returned; shutdown is best-effort.
func (d *Daemon) Stop() {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if !d.started {
		d.releaseLock()
		return
	}
	d.started = false

	d.broker.Stop()
	if d.presCancel != nil {
		d.presCancel()
		<-d.presDone
	}
	d.bus.Close()
	d.releaseLock()
	d.logger.Info("daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stop"),
	)
}

func (d *Daemon) releaseLock() {
	if d.lock == nil {
		return
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release instance lock", logging.Error(err))
	}
	d.lock = nil
}

// RequestShutdown asks the process to exit. Idempotent; the run harness
// watches ShutdownRequested.
func (d *Daemon) RequestShutdown() {
	d.shutdownOnce.Do(func() {
		d.logger.Info("shutdown requested",
			logging.String(logging.FieldEventType, "shutdown_requested"),
		)
		close(d.shutdown)
	})
}

// ShutdownRequested is closed once a client or signal asks the daemon to
// exit.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdown
}

// Broker exposes the connection broker to the IPC layer.
func (d *Daemon) Broker() *broker.Broker { return d.broker }

// Registry exposes the connection registry to the IPC layer.
func (d *Daemon) Registry() *registry.Registry { return d.registry }

// Bus exposes the status bus for broadcast subscribers.
func (d *Daemon) Bus() *statusbus.Bus { return d.bus }

// Config returns the daemon settings.
func (d *Daemon) Config() *config.Config { return d.cfg }
