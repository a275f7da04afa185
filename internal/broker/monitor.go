package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"llmbridge/internal/connection"
	"llmbridge/internal/logging"
	"llmbridge/internal/statusbus"
)

const cloudVersionLabel = "Cloud Bridge"

type probeJob struct {
	cfg  connection.Config
	prev connection.State
}

type probeResult struct {
	conn connection.Type
	prev connection.State

	state   connection.State
	errMsg  string
	version string
	// nil leaves the previously discovered model list untouched.
	models []string
}

type cycleResult struct {
	results []probeResult
	err     error
}

// startCycle marks the probed connections CONNECTING and hands the network
// work to a cycle goroutine. Runs on the loop goroutine.
func (b *Broker) startCycle(types []connection.Type) {
	jobs := make([]probeJob, 0, len(types))
	for _, t := range types {
		cfg := b.registry.Config(t)
		status := b.statusFor(t)
		prev := status.State

		// A disabled relay still yields a settled status so a cleared
		// token is reflected without a network call. A disabled local
		// connection is simply skipped.
		if !cfg.Enabled && t != connection.TypeCloudProxy {
			continue
		}
		jobs = append(jobs, probeJob{cfg: cfg, prev: prev})
		if cfg.Enabled {
			status.State = connection.StateConnecting
		}
	}
	if len(jobs) == 0 {
		b.results <- cycleResult{}
		return
	}
	go b.runCycle(jobs)
}

// runCycle probes each connection sequentially off the loop goroutine and
// reports back. A panic in a probe is contained so the monitor never dies
// from a single bad cycle.
func (b *Broker) runCycle(jobs []probeJob) {
	var out cycleResult
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("probe cycle panic: %v", r)
		}
		select {
		case b.results <- out:
		case <-b.stop:
		}
	}()

	for _, job := range jobs {
		res := b.probe(job.cfg)
		res.prev = job.prev
		out.results = append(out.results, res)
	}
}

func (b *Broker) probe(cfg connection.Config) probeResult {
	if cfg.Type == connection.TypeCloudProxy {
		return b.probeCloud(cfg)
	}
	return b.probeLocal(cfg)
}

// probeLocal checks the direct Ollama instance: version first, then the
// model list. A model-list failure never demotes a connected backend.
func (b *Broker) probeLocal(cfg connection.Config) probeResult {
	res := probeResult{conn: cfg.Type}

	ctx, cancel := probeContext(cfg)
	defer cancel()

	status, body, err := b.get(ctx, cfg.BaseURL+"/api/version", "")
	if err != nil {
		res.state, res.errMsg = classifyProbeError(err)
		return res
	}
	if status != http.StatusOK {
		res.state = connection.StateError
		res.errMsg = fmt.Sprintf("HTTP %d", status)
		return res
	}

	var version struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &version); err != nil || version.Version == "" {
		version.Version = "unknown"
	}
	res.state = connection.StateConnected
	res.version = version.Version

	res.models = b.fetchModels(ctx, cfg)
	return res
}

// fetchModels lists the backend's models. For the relay the tags path is
// translated and the bearer token attached. Failures are logged and return
// nil so the caller keeps whatever list it already had.
func (b *Broker) fetchModels(ctx context.Context, cfg connection.Config) []string {
	url, token := b.targetURL(cfg, "/api/tags")
	status, body, err := b.get(ctx, url, token)
	if err != nil || status != http.StatusOK {
		if err == nil {
			err = fmt.Errorf("HTTP %d", status)
		}
		b.logger.Warn("model list fetch failed",
			logging.String(logging.FieldConnection, string(cfg.Type)),
			logging.Error(err),
		)
		return nil
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &tags); err != nil {
		b.logger.Warn("model list parse failed",
			logging.String(logging.FieldConnection, string(cfg.Type)),
			logging.Error(err),
		)
		return nil
	}
	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return models
}

// probeCloud checks the authenticated relay. Without a token it settles to
// DISCONNECTED immediately; no network call is made.
func (b *Broker) probeCloud(cfg connection.Config) probeResult {
	res := probeResult{conn: cfg.Type}

	if cfg.AuthToken == "" {
		res.state = connection.StateDisconnected
		res.errMsg = "No authentication token"
		return res
	}

	ctx, cancel := probeContext(cfg)
	defer cancel()

	status, _, err := b.get(ctx, cfg.BaseURL+"/health", cfg.AuthToken)
	if err != nil {
		res.state, res.errMsg = classifyProbeError(err)
		return res
	}
	if status != http.StatusOK {
		res.state = connection.StateError
		res.errMsg = fmt.Sprintf("HTTP %d", status)
		return res
	}
	res.state = connection.StateConnected
	res.version = cloudVersionLabel
	res.models = b.fetchModels(ctx, cfg)
	return res
}

func (b *Broker) get(ctx context.Context, url, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func probeContext(cfg connection.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(cfg.Timeout)*time.Second)
}

// classifyProbeError folds transport failures into status, never into
// caller-visible errors. A timeout is ERROR; an unreachable backend is
// DISCONNECTED; anything else is ERROR with the raw cause.
func classifyProbeError(err error) (connection.State, string) {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return connection.StateError, "Connection timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return connection.StateDisconnected, "Connection refused"
	}
	return connection.StateError, err.Error()
}

// applyCycle folds probe results into the loop-owned statuses, publishing
// an event per settled state change. Returns the delay before the next
// scheduled cycle. Runs on the loop goroutine.
func (b *Broker) applyCycle(res cycleResult) time.Duration {
	if res.err != nil {
		b.logger.Error("probe cycle failed", logging.Error(res.err))
	}

	now := time.Now()
	for _, r := range res.results {
		status := b.statusFor(r.conn)
		status.State = r.state
		status.ErrorMessage = r.errMsg
		status.LastCheck = now
		if r.version != "" {
			status.Version = r.version
		}
		if r.models != nil {
			status.Models = r.models
		}

		if r.prev != r.state {
			b.logger.Info("connection state changed",
				logging.String(logging.FieldConnection, string(r.conn)),
				logging.String("from", string(r.prev)),
				logging.String("to", string(r.state)),
				logging.String(logging.FieldEventType, "connection_state_changed"),
			)
			b.bus.Publish(statusbus.Event{
				Connection: r.conn,
				Previous:   r.prev,
				Current:    r.state,
				Status:     status.Snapshot(),
			})
		}
	}

	if res.err != nil {
		return b.errorBackoff
	}
	return b.probeInterval
}
