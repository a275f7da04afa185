package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"llmbridge/internal/config"
	"llmbridge/internal/connection"
)

const userAgent = "LLMBridge-Go/0.1.0"

// Service is the notification surface exposed to the daemon.
type Service interface {
	NotifyConnectionLost(ctx context.Context, conn connection.Type, reason string) error
	NotifyConnectionRestored(ctx context.Context, conn connection.Type, version string) error
	NotifyAllBackendsDown(ctx context.Context) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.NtfyTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func connectionLabel(conn connection.Type) string {
	switch conn {
	case connection.TypeLocalOllama:
		return "Local Ollama"
	case connection.TypeCloudProxy:
		return "Cloud relay"
	default:
		return string(conn)
	}
}

func (n *ntfyService) NotifyConnectionLost(ctx context.Context, conn connection.Type, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "LLMBridge - Connection Lost",
		message:  fmt.Sprintf("%s is unreachable: %s", connectionLabel(conn), reason),
		tags:     []string{"llmbridge", string(conn), "lost"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyConnectionRestored(ctx context.Context, conn connection.Type, version string) error {
	message := fmt.Sprintf("%s is back online", connectionLabel(conn))
	if version = strings.TrimSpace(version); version != "" {
		message = fmt.Sprintf("%s (%s)", message, version)
	}
	data := payload{
		title:   "LLMBridge - Connection Restored",
		message: message,
		tags:    []string{"llmbridge", string(conn), "restored"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAllBackendsDown(ctx context.Context) error {
	data := payload{
		title:    "LLMBridge - No Backends",
		message:  "No LLM backend is reachable; requests will fail until one recovers",
		tags:     []string{"llmbridge", "down", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "LLMBridge - Test",
		message:  "Notification system test",
		tags:     []string{"llmbridge", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyConnectionLost(context.Context, connection.Type, string) error {
	return nil
}

func (noopService) NotifyConnectionRestored(context.Context, connection.Type, string) error {
	return nil
}

func (noopService) NotifyAllBackendsDown(context.Context) error { return nil }
func (noopService) TestNotification(context.Context) error      { return nil }
