package broker

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"llmbridge/internal/config"
	"llmbridge/internal/connection"
	"llmbridge/internal/logging"
	"llmbridge/internal/registry"
	"llmbridge/internal/statusbus"
	"llmbridge/internal/testsupport"
)

type testHarness struct {
	broker   *Broker
	registry *registry.Registry
	bus      *statusbus.Bus
}

func startBroker(t *testing.T, cfg *config.Config) *testHarness {
	t.Helper()

	reg := registry.New(cfg, logging.NewNop())
	bus := statusbus.New(logging.NewNop())
	b := New(cfg, reg, bus, logging.NewNop())
	b.Start()
	t.Cleanup(func() {
		b.Stop()
		bus.Close()
	})
	return &testHarness{broker: b, registry: reg, bus: bus}
}

func waitForState(t *testing.T, b *Broker, conn connection.Type, want connection.State) connection.Status {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	var last connection.Status
	for time.Now().Before(deadline) {
		status, err := b.Status(context.Background(), conn)
		if err == nil && status.State == want {
			return status
		}
		last = status
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("connection %s never reached %s (last: %s %q)", conn, want, last.State, last.ErrorMessage)
	return connection.Status{}
}

// closedPort reserves a port and releases it so probes hit a dead address.
func closedPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}

func TestProbeConnectsAndDiscoversModels(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0", "llama3:8b", "phi3:mini")
	cfg := testsupport.NewConfig(t, testsupport.WithOllamaURL(backend.URL()))
	h := startBroker(t, cfg)

	status := waitForState(t, h.broker, connection.TypeLocalOllama, connection.StateConnected)
	if status.Version != "0.9.0" {
		t.Errorf("version = %q, want 0.9.0", status.Version)
	}
	if status.ErrorMessage != "" {
		t.Errorf("error message = %q, want empty", status.ErrorMessage)
	}
	if len(status.Models) != 2 || status.Models[0] != "llama3:8b" {
		t.Errorf("models = %v", status.Models)
	}
}

func TestProbeRefusedBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ollama.Host = "127.0.0.1"
	cfg.Ollama.Port = closedPort(t)
	h := startBroker(t, cfg)

	status := waitForState(t, h.broker, connection.TypeLocalOllama, connection.StateDisconnected)
	if status.ErrorMessage != "Connection refused" {
		t.Errorf("error message = %q, want Connection refused", status.ErrorMessage)
	}
}

func TestProbeTimeout(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0")
	backend.Handle("/api/version", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	})
	cfg := testsupport.NewConfig(t,
		testsupport.WithOllamaURL(backend.URL()),
		testsupport.WithRequestTimeout(1),
	)
	h := startBroker(t, cfg)

	status := waitForState(t, h.broker, connection.TypeLocalOllama, connection.StateError)
	if status.ErrorMessage != "Connection timeout" {
		t.Errorf("error message = %q, want Connection timeout", status.ErrorMessage)
	}
}

func TestProbeNon200(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0")
	backend.Handle("/api/version", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	cfg := testsupport.NewConfig(t, testsupport.WithOllamaURL(backend.URL()))
	h := startBroker(t, cfg)

	status := waitForState(t, h.broker, connection.TypeLocalOllama, connection.StateError)
	if status.ErrorMessage != "HTTP 500" {
		t.Errorf("error message = %q, want HTTP 500", status.ErrorMessage)
	}
}

func TestCloudWithoutTokenSkipsNetwork(t *testing.T) {
	var hits atomic.Int64
	cloud := testsupport.NewCloudBackend(t, "secret")
	cloud.Handle("/health", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	cfg := testsupport.NewConfig(t,
		testsupport.WithCloudURL(cloud.URL()),
	)
	cfg.Ollama.Host = "127.0.0.1"
	cfg.Ollama.Port = closedPort(t)
	h := startBroker(t, cfg)

	status := waitForState(t, h.broker, connection.TypeCloudProxy, connection.StateDisconnected)
	if status.ErrorMessage != "No authentication token" {
		t.Errorf("error message = %q, want No authentication token", status.ErrorMessage)
	}
	// Allow another cycle to pass, then confirm the relay was never called.
	time.Sleep(1200 * time.Millisecond)
	if hits.Load() != 0 {
		t.Errorf("relay health endpoint was called %d times with no token", hits.Load())
	}
}

func TestTokenUpdateEnablesCloud(t *testing.T) {
	cloud := testsupport.NewCloudBackend(t, "secret")
	cfg := testsupport.NewConfig(t, testsupport.WithCloudURL(cloud.URL()))
	cfg.Ollama.Host = "127.0.0.1"
	cfg.Ollama.Port = closedPort(t)
	h := startBroker(t, cfg)

	waitForState(t, h.broker, connection.TypeCloudProxy, connection.StateDisconnected)
	h.registry.UpdateAuthToken("secret")

	status := waitForState(t, h.broker, connection.TypeCloudProxy, connection.StateConnected)
	if status.Version != "Cloud Bridge" {
		t.Errorf("version = %q, want Cloud Bridge", status.Version)
	}

	best, err := h.broker.Best(context.Background())
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best != connection.TypeCloudProxy {
		t.Errorf("best = %s, want cloud_proxy", best)
	}
}

func TestBestPrefersLocal(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0", "llama3:8b")
	cloud := testsupport.NewCloudBackend(t, "secret")
	cfg := testsupport.NewConfig(t,
		testsupport.WithOllamaURL(backend.URL()),
		testsupport.WithCloudURL(cloud.URL()),
	)
	h := startBroker(t, cfg)
	h.registry.UpdateAuthToken("secret")

	waitForState(t, h.broker, connection.TypeLocalOllama, connection.StateConnected)
	waitForState(t, h.broker, connection.TypeCloudProxy, connection.StateConnected)

	best, err := h.broker.Best(context.Background())
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best != connection.TypeLocalOllama {
		t.Errorf("best = %s, want local_ollama", best)
	}
}

func TestProxyWithoutConnection(t *testing.T) {
	var hits atomic.Int64
	backend := testsupport.NewOllamaBackend(t, "0.9.0")
	backend.Handle("/api/version", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	cfg := testsupport.NewConfig(t, testsupport.WithOllamaURL(backend.URL()))
	h := startBroker(t, cfg)

	waitForState(t, h.broker, connection.TypeLocalOllama, connection.StateError)
	before := hits.Load()

	_, err := h.broker.Proxy(context.Background(), "GET", "/api/version", nil, nil)
	if !errors.Is(err, ErrNoAvailableConnection) {
		t.Fatalf("err = %v, want ErrNoAvailableConnection", err)
	}
	if hits.Load() != before {
		t.Errorf("proxy attempted a network call with no available connection")
	}
}

func TestProxyLocalRoundTrip(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0", "llama3:8b")
	var gotBody string
	backend.Handle("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"hello"}`))
	})
	cfg := testsupport.NewConfig(t, testsupport.WithOllamaURL(backend.URL()))
	h := startBroker(t, cfg)
	waitForState(t, h.broker, connection.TypeLocalOllama, connection.StateConnected)

	result, err := h.broker.Proxy(context.Background(), "post", "/api/generate",
		[]byte(`{"model":"llama3:8b","prompt":"hi"}`), nil)
	if err != nil {
		t.Fatalf("Proxy: %v", err)
	}
	if string(result) != `{"response":"hello"}` {
		t.Errorf("result = %s", result)
	}
	if !strings.Contains(gotBody, `"prompt":"hi"`) {
		t.Errorf("backend body = %q", gotBody)
	}
}

func TestProxyCloudRewritesPathAndAuth(t *testing.T) {
	cloud := testsupport.NewCloudBackend(t, "secret")
	var sawPath, sawAuth string
	cloud.Handle("/api/proxy/status", func(w http.ResponseWriter, r *http.Request) {
		sawPath = r.URL.Path
		sawAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	cfg := testsupport.NewConfig(t, testsupport.WithCloudURL(cloud.URL()))
	cfg.Ollama.Host = "127.0.0.1"
	cfg.Ollama.Port = closedPort(t)
	h := startBroker(t, cfg)
	h.registry.UpdateAuthToken("secret")
	waitForState(t, h.broker, connection.TypeCloudProxy, connection.StateConnected)

	if _, err := h.broker.Proxy(context.Background(), "GET", "/api/version", nil, nil); err != nil {
		t.Fatalf("Proxy: %v", err)
	}
	if sawPath != "/api/proxy/status" {
		t.Errorf("relay saw path %q, want /api/proxy/status", sawPath)
	}
	if sawAuth != "Bearer secret" {
		t.Errorf("relay saw auth %q", sawAuth)
	}
}

func TestProxyHTTPError(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0", "llama3:8b")
	backend.Handle("/api/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("model not found"))
	})
	cfg := testsupport.NewConfig(t, testsupport.WithOllamaURL(backend.URL()))
	h := startBroker(t, cfg)
	waitForState(t, h.broker, connection.TypeLocalOllama, connection.StateConnected)

	_, err := h.broker.Proxy(context.Background(), "GET", "/api/missing", nil, nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if httpErr.Status != 404 || httpErr.Body != "model not found" {
		t.Errorf("httpErr = %+v", httpErr)
	}
}

func TestProxyRejectsUnsupportedMethod(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := startBroker(t, cfg)

	_, err := h.broker.Proxy(context.Background(), "DELETE", "/api/tags", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "unsupported method") {
		t.Fatalf("err = %v, want unsupported method", err)
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	reg := registry.New(cfg, logging.NewNop())
	bus := statusbus.New(logging.NewNop())
	b := New(cfg, reg, bus, logging.NewNop())

	if _, err := b.Status(context.Background(), connection.TypeLocalOllama); !errors.Is(err, ErrBrokerUnavailable) {
		t.Fatalf("err = %v, want ErrBrokerUnavailable", err)
	}
}

func TestStateChangeEventsAreEdgeTriggered(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0", "llama3:8b")
	cfg := testsupport.NewConfig(t, testsupport.WithOllamaURL(backend.URL()))

	reg := registry.New(cfg, logging.NewNop())
	bus := statusbus.New(logging.NewNop())
	events, cancel := bus.Subscribe()
	defer cancel()

	b := New(cfg, reg, bus, logging.NewNop())
	b.Start()
	t.Cleanup(func() {
		b.Stop()
		bus.Close()
	})

	select {
	case ev := <-events:
		if ev.Connection != connection.TypeLocalOllama {
			t.Fatalf("event for %s, want local_ollama", ev.Connection)
		}
		if ev.Current != connection.StateConnected {
			t.Fatalf("event state %s, want connected", ev.Current)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no transition event after first probe")
	}

	// The state is now stable; further ticks must not emit events.
	select {
	case ev := <-events:
		t.Fatalf("unexpected event on stable state: %+v", ev)
	case <-time.After(1500 * time.Millisecond):
	}
}
