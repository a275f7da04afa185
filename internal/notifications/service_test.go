package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmbridge/internal/config"
	"llmbridge/internal/connection"
	"llmbridge/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCapturingServer(t *testing.T) (*httptest.Server, *[]captured) {
	t.Helper()

	var requests []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func serviceFor(topic string) notifications.Service {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	cfg.Notifications.NtfyTimeout = 2
	return notifications.NewService(&cfg)
}

func TestNoTopicIsNoop(t *testing.T) {
	svc := serviceFor("")
	if err := svc.NotifyConnectionLost(context.Background(), connection.TypeLocalOllama, "refused"); err != nil {
		t.Fatalf("noop notify returned error: %v", err)
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop test returned error: %v", err)
	}
}

func TestConnectionLostNotification(t *testing.T) {
	server, requests := newCapturingServer(t)
	svc := serviceFor(server.URL)

	err := svc.NotifyConnectionLost(context.Background(), connection.TypeLocalOllama, "Connection refused")
	if err != nil {
		t.Fatalf("NotifyConnectionLost: %v", err)
	}

	if len(*requests) != 1 {
		t.Fatalf("got %d requests", len(*requests))
	}
	got := (*requests)[0]
	if got.title != "LLMBridge - Connection Lost" {
		t.Errorf("title = %q", got.title)
	}
	if !strings.Contains(got.body, "Local Ollama") || !strings.Contains(got.body, "Connection refused") {
		t.Errorf("body = %q", got.body)
	}
	if got.priority != "high" {
		t.Errorf("priority = %q", got.priority)
	}
	if !strings.Contains(got.tags, "local_ollama") {
		t.Errorf("tags = %q", got.tags)
	}
}

func TestConnectionRestoredNotification(t *testing.T) {
	server, requests := newCapturingServer(t)
	svc := serviceFor(server.URL)

	err := svc.NotifyConnectionRestored(context.Background(), connection.TypeCloudProxy, "Cloud Bridge")
	if err != nil {
		t.Fatalf("NotifyConnectionRestored: %v", err)
	}

	got := (*requests)[0]
	if got.title != "LLMBridge - Connection Restored" {
		t.Errorf("title = %q", got.title)
	}
	if !strings.Contains(got.body, "Cloud relay") || !strings.Contains(got.body, "Cloud Bridge") {
		t.Errorf("body = %q", got.body)
	}
	if got.priority != "" {
		t.Errorf("priority = %q, want default", got.priority)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("denied"))
	}))
	t.Cleanup(server.Close)
	svc := serviceFor(server.URL)

	err := svc.NotifyAllBackendsDown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err = %v, want ntfy 403", err)
	}
}
