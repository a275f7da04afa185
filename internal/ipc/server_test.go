package ipc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"llmbridge/internal/broker"
	"llmbridge/internal/config"
	"llmbridge/internal/connection"
	"llmbridge/internal/daemon"
	"llmbridge/internal/logging"
	"llmbridge/internal/testsupport"
)

func startServer(t *testing.T, cfg *config.Config) (*Server, *daemon.Daemon) {
	t.Helper()

	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	srv, err := NewServer(context.Background(), d, logging.NewNop())
	if err != nil {
		d.Stop()
		t.Fatalf("NewServer: %v", err)
	}
	d.Start()
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
		d.Stop()
	})
	return srv, d
}

func dialServer(t *testing.T, srv *Server) *Client {
	t.Helper()

	c, err := Dial("127.0.0.1", srv.Port(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitForBrokerState(t *testing.T, d *daemon.Daemon, conn connection.Type, want connection.State) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := d.Broker().Status(context.Background(), conn)
		if err == nil && status.State == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("connection %s never reached %s", conn, want)
}

func TestPingAndConnectionStatus(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0", "llama3:8b")
	cfg := testsupport.NewConfig(t, testsupport.WithOllamaURL(backend.URL()))
	srv, d := startServer(t, cfg)
	c := dialServer(t, srv)

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	waitForBrokerState(t, d, connection.TypeLocalOllama, connection.StateConnected)

	status, err := c.ConnectionStatus()
	if err != nil {
		t.Fatalf("ConnectionStatus: %v", err)
	}
	local, ok := status["local_ollama"]
	if !ok {
		t.Fatalf("status missing local_ollama: %v", status)
	}
	if local.State != connection.StateConnected {
		t.Errorf("local state = %s", local.State)
	}
	if local.Version != "0.9.0" {
		t.Errorf("local version = %q", local.Version)
	}
	if len(local.Models) != 1 || local.Models[0] != "llama3:8b" {
		t.Errorf("local models = %v", local.Models)
	}
	if local.LastCheck == 0 {
		t.Error("last_check not set after probe")
	}
	if _, ok := status["cloud_proxy"]; !ok {
		t.Error("status missing cloud_proxy")
	}
}

func TestAuthTokenUpdateBroadcastsTransition(t *testing.T) {
	cloud := testsupport.NewCloudBackend(t, "secret")
	cfg := testsupport.NewConfig(t, testsupport.WithCloudURL(cloud.URL()))
	cfg.Ollama.Port = 1 // nothing listens there
	srv, _ := startServer(t, cfg)

	watcher := dialServer(t, srv)
	sender := dialServer(t, srv)

	if err := sender.UpdateAuthToken("secret"); err != nil {
		t.Fatalf("UpdateAuthToken: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("no relay transition event received")
		}
		ev, err := watcher.ReadEvent(5 * time.Second)
		if err != nil {
			t.Fatalf("ReadEvent: %v", err)
		}
		if ev.ConnectionType != connection.TypeCloudProxy {
			continue
		}
		if ev.Status.State != connection.StateConnected {
			t.Fatalf("relay event state = %s", ev.Status.State)
		}
		if ev.Status.Version != "Cloud Bridge" {
			t.Errorf("relay event version = %q", ev.Status.Version)
		}
		return
	}
}

func TestProxyRequestRoundTrip(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0", "llama3:8b", "phi3:mini")
	cfg := testsupport.NewConfig(t, testsupport.WithOllamaURL(backend.URL()))
	srv, d := startServer(t, cfg)
	waitForBrokerState(t, d, connection.TypeLocalOllama, connection.StateConnected)
	c := dialServer(t, srv)

	result, err := c.ProxyRequest("GET", "/api/tags", nil, "")
	if err != nil {
		t.Fatalf("ProxyRequest: %v", err)
	}
	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(parsed.Models) != 2 {
		t.Errorf("models = %+v", parsed.Models)
	}
}

func TestProxyRequestSurfacesBackendError(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0", "llama3:8b")
	backend.Handle("/api/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream gone"))
	})
	cfg := testsupport.NewConfig(t, testsupport.WithOllamaURL(backend.URL()))
	srv, d := startServer(t, cfg)
	waitForBrokerState(t, d, connection.TypeLocalOllama, connection.StateConnected)
	c := dialServer(t, srv)

	_, err := c.ProxyRequest("GET", "/api/broken", nil, "")
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Fatalf("err = %v, want HTTP 502", err)
	}
}

func TestInvalidJSONLineKeepsConnection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv, _ := startServer(t, cfg)
	c := dialServer(t, srv)

	if _, err := c.conn.Write([]byte("{this is not json\n")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping after garbage line: %v", err)
	}
}

func TestSlowProxyDoesNotBlockOtherClients(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0", "llama3:8b")
	backend.Handle("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(10 * time.Second):
		case <-r.Context().Done():
		}
	})
	cfg := testsupport.NewConfig(t,
		testsupport.WithOllamaURL(backend.URL()),
		testsupport.WithSubmitTimeout(1),
		testsupport.WithRequestTimeout(30),
	)
	srv, d := startServer(t, cfg)
	waitForBrokerState(t, d, connection.TypeLocalOllama, connection.StateConnected)

	slow := dialServer(t, srv)
	fast := dialServer(t, srv)

	proxyErr := make(chan error, 1)
	go func() {
		_, err := slow.ProxyRequest("POST", "/api/generate",
			[]byte(`{"model":"llama3:8b","prompt":"count to a billion"}`), "")
		proxyErr <- err
	}()

	// While the slow request is pending, other clients get served.
	time.Sleep(100 * time.Millisecond)
	if err := fast.Ping(); err != nil {
		t.Fatalf("Ping during slow proxy: %v", err)
	}

	select {
	case err := <-proxyErr:
		if err == nil || err.Error() != broker.ErrSubmissionTimeout.Error() {
			t.Errorf("slow proxy err = %v, want %v", err, broker.ErrSubmissionTimeout)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("slow proxy never returned")
	}
}

func TestStreamChatOverIPC(t *testing.T) {
	backend := testsupport.NewOllamaBackend(t, "0.9.0", "llama3:8b")
	backend.Handle("/api/chat", func(w http.ResponseWriter, _ *http.Request) {
		testsupport.StreamChunks(t, w, "Hello", ", ", "world")
	})
	cfg := testsupport.NewConfig(t, testsupport.WithOllamaURL(backend.URL()))
	srv, d := startServer(t, cfg)
	waitForBrokerState(t, d, connection.TypeLocalOllama, connection.StateConnected)
	c := dialServer(t, srv)

	var transcript strings.Builder
	err := c.StreamChat("llama3:8b", []broker.ChatMessage{{Role: "user", Content: "greet me"}}, "",
		func(chunk json.RawMessage) error {
			var parsed struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}
			if err := json.Unmarshal(chunk, &parsed); err != nil {
				return err
			}
			transcript.WriteString(parsed.Message.Content)
			return nil
		})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if transcript.String() != "Hello, world" {
		t.Errorf("transcript = %q", transcript.String())
	}
}

func TestStreamChatRequiresModel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv, _ := startServer(t, cfg)
	c := dialServer(t, srv)

	err := c.StreamChat("", nil, "", func(json.RawMessage) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "model is required") {
		t.Fatalf("err = %v, want model is required", err)
	}
}

func TestUpdateLocalTarget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv, d := startServer(t, cfg)
	c := dialServer(t, srv)

	if err := c.UpdateLocalTarget("10.1.2.3", 11500); err != nil {
		t.Fatalf("UpdateLocalTarget: %v", err)
	}
	local := d.Registry().Config(connection.TypeLocalOllama)
	if local.Host != "10.1.2.3" || local.Port != 11500 {
		t.Errorf("local config = %+v", local)
	}

	if err := c.UpdateLocalTarget("", 11500); err == nil {
		t.Error("empty host accepted over IPC")
	}
}

func TestQuitRequestsShutdown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv, d := startServer(t, cfg)
	c := dialServer(t, srv)

	if err := c.Quit(); err != nil {
		t.Fatalf("Quit: %v", err)
	}
	select {
	case <-d.ShutdownRequested():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown never requested")
	}
}

func TestFrontendStatusUpdatesPresentation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv, d := startServer(t, cfg)
	c := dialServer(t, srv)

	payload, _ := json.Marshal(daemon.FrontendStatus{
		ConnectionType: "ollama",
		Connected:      true,
		Version:        "0.9.0",
		Models:         []string{"llama3:8b", "phi3:mini"},
	})
	if err := c.Send(Request{Command: CommandUpdateConnectionStatus, Status: payload}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	want := "LLMBridge - Ollama 0.9.0 (2 models)"
	for time.Now().Before(deadline) {
		if d.Presentation().Tooltip == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tooltip = %q, want %q", d.Presentation().Tooltip, want)
}
