package broker

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"llmbridge/internal/config"
	"llmbridge/internal/connection"
	"llmbridge/internal/logging"
	"llmbridge/internal/registry"
	"llmbridge/internal/statusbus"
)

// Broker owns connection health state and target selection.
type Broker struct {
	registry *registry.Registry
	bus      *statusbus.Bus
	logger   *slog.Logger
	client   *http.Client

	probeInterval time.Duration
	errorBackoff  time.Duration
	submitTimeout time.Duration

	tasks   chan func()
	recheck chan connection.Type
	results chan cycleResult

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	// Everything below is touched only by the run loop.
	local *connection.Status
	cloud *connection.Status
}

// New builds a stopped broker. Call Start before submitting work.
func New(cfg *config.Config, reg *registry.Registry, bus *statusbus.Bus, logger *slog.Logger) *Broker {
	b := &Broker{
		registry:      reg,
		bus:           bus,
		logger:        logging.NewComponentLogger(logger, "broker"),
		client:        &http.Client{},
		probeInterval: cfg.ProbeInterval(),
		errorBackoff:  cfg.ErrorBackoff(),
		submitTimeout: cfg.SubmitTimeout(),
		tasks:         make(chan func(), 16),
		recheck:       make(chan connection.Type, 4),
		results:       make(chan cycleResult, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		local:         connection.NewStatus(connection.TypeLocalOllama),
		cloud:         connection.NewStatus(connection.TypeCloudProxy),
	}
	reg.SetRecheck(b.Recheck)
	return b
}

// Start launches the run loop. The first probe cycle begins immediately.
func (b *Broker) Start() {
	if !b.running.CompareAndSwap(false, true) {
		return
	}
	b.logger.Info("starting broker",
		logging.Duration("probe_interval", b.probeInterval),
	)
	go b.run()
}

// Stop shuts the run loop down and waits for it to exit. In-flight probe
// goroutines are abandoned; their results are discarded.
func (b *Broker) Stop() {
	if !b.running.Load() {
		return
	}
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	<-b.done
	b.client.CloseIdleConnections()
	b.logger.Info("broker stopped")
}

// Recheck requests an immediate probe of one connection. Safe from any
// goroutine; coalesced when the loop is busy.
func (b *Broker) Recheck(t connection.Type) {
	select {
	case b.recheck <- t:
	default:
	}
}

// submit runs fn on the loop goroutine and waits for it to finish, bounded
// by the submission timeout and the caller's context.
func (b *Broker) submit(ctx context.Context, fn func()) error {
	if !b.running.Load() {
		return ErrBrokerUnavailable
	}
	timer := time.NewTimer(b.submitTimeout)
	defer timer.Stop()

	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}

	select {
	case b.tasks <- wrapped:
	case <-b.stop:
		return ErrBrokerUnavailable
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrSubmissionTimeout
	}
	select {
	case <-done:
		return nil
	case <-b.stop:
		return ErrBrokerUnavailable
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrSubmissionTimeout
	}
}

// Status returns a snapshot of one connection's health.
func (b *Broker) Status(ctx context.Context, t connection.Type) (connection.Status, error) {
	var snap connection.Status
	err := b.submit(ctx, func() {
		snap = b.statusFor(t).Snapshot()
	})
	return snap, err
}

// Statuses returns snapshots for all connections.
func (b *Broker) Statuses(ctx context.Context) (map[connection.Type]connection.Status, error) {
	var snaps map[connection.Type]connection.Status
	err := b.submit(ctx, func() {
		snaps = map[connection.Type]connection.Status{
			connection.TypeLocalOllama: b.local.Snapshot(),
			connection.TypeCloudProxy:  b.cloud.Snapshot(),
		}
	})
	return snaps, err
}

// Best returns the highest-priority connection that is enabled and
// connected. Local always wins over the relay.
func (b *Broker) Best(ctx context.Context) (connection.Type, error) {
	var best connection.Type
	found := false
	err := b.submit(ctx, func() {
		for _, t := range connection.Types() {
			if b.registry.Config(t).Enabled && b.statusFor(t).State == connection.StateConnected {
				best = t
				found = true
				return
			}
		}
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNoAvailableConnection
	}
	return best, nil
}

// resolveTarget picks the config for an outbound call. An explicit
// preference is honored without a health check so callers can reach a
// backend the monitor has not caught up with yet.
func (b *Broker) resolveTarget(ctx context.Context, preferred *connection.Type) (connection.Config, error) {
	if preferred != nil {
		return b.registry.Config(*preferred), nil
	}
	best, err := b.Best(ctx)
	if err != nil {
		return connection.Config{}, err
	}
	return b.registry.Config(best), nil
}

func (b *Broker) statusFor(t connection.Type) *connection.Status {
	if t == connection.TypeCloudProxy {
		return b.cloud
	}
	return b.local
}

func (b *Broker) run() {
	defer close(b.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	inFlight := false
	pending := map[connection.Type]bool{}

	for {
		select {
		case <-b.stop:
			return

		case fn := <-b.tasks:
			fn()

		case t := <-b.recheck:
			if inFlight {
				pending[t] = true
				continue
			}
			inFlight = true
			b.startCycle([]connection.Type{t})

		case <-timer.C:
			if inFlight {
				timer.Reset(b.probeInterval)
				continue
			}
			inFlight = true
			b.startCycle(connection.Types())

		case res := <-b.results:
			inFlight = false
			interval := b.applyCycle(res)
			if len(pending) > 0 {
				types := make([]connection.Type, 0, len(pending))
				for t := range pending {
					types = append(types, t)
				}
				clear(pending)
				inFlight = true
				b.startCycle(types)
			}
			resetTimer(timer, interval)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
