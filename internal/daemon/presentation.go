package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"llmbridge/internal/connection"
	"llmbridge/internal/logging"
	"llmbridge/internal/statusbus"
)

// Icon states understood by tray front-ends.
const (
	iconIdle         = "idle"
	iconConnected    = "connected"
	iconDisconnected = "disconnected"
)

const defaultTooltip = "LLMBridge"

// Presentation is a snapshot of the tray-facing state.
type Presentation struct {
	Tooltip       string `json:"tooltip"`
	IconState     string `json:"icon_state"`
	Authenticated bool   `json:"authenticated"`
}

// Presentation returns the current tray-facing state.
func (d *Daemon) Presentation() Presentation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Presentation{
		Tooltip:       d.tooltip,
		IconState:     d.iconState,
		Authenticated: d.authenticated,
	}
}

// SetTooltip replaces the tray tooltip. An empty text resets the default.
func (d *Daemon) SetTooltip(text string) {
	if text == "" {
		text = defaultTooltip
	}
	d.mu.Lock()
	d.tooltip = text
	d.mu.Unlock()
}

// SetIconState replaces the tray icon state.
func (d *Daemon) SetIconState(state string) {
	if state == "" {
		state = iconIdle
	}
	d.mu.Lock()
	d.iconState = state
	d.mu.Unlock()
}

// SetAuthenticated records the front-end's reported authentication state.
// This mirrors what the front-end tells us; it is presentation state, not
// a credential check.
func (d *Daemon) SetAuthenticated(authenticated bool) {
	d.mu.Lock()
	d.authenticated = authenticated
	d.mu.Unlock()
}

// watchTransitions keeps the icon in sync with the broker's view: any
// connected backend shows as connected, none shows as idle. Transitions in
// and out of connected also fire push notifications.
func (d *Daemon) watchTransitions(events <-chan statusbus.Event) {
	defer close(d.presDone)
	for ev := range events {
		anyConnected := false
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SubmitTimeout())
		if _, err := d.broker.Best(ctx); err == nil {
			anyConnected = true
		}

		state := iconIdle
		if anyConnected {
			state = iconConnected
		}
		d.mu.Lock()
		d.iconState = state
		d.mu.Unlock()

		d.notifyTransition(ctx, ev, anyConnected)
		cancel()

		d.logger.Debug("presentation updated",
			logging.String(logging.FieldConnection, string(ev.Connection)),
			logging.String("icon_state", state),
		)
	}
}

// notifyTransition pushes an alert for losses and recoveries. Notification
// failures are logged only; health tracking never depends on delivery.
func (d *Daemon) notifyTransition(ctx context.Context, ev statusbus.Event, anyConnected bool) {
	var err error
	switch {
	case ev.Current == connection.StateConnected && ev.Previous != connection.StateConnected:
		err = d.notifier.NotifyConnectionRestored(ctx, ev.Connection, ev.Status.Version)
	case ev.Previous == connection.StateConnected && ev.Current != connection.StateConnected:
		err = d.notifier.NotifyConnectionLost(ctx, ev.Connection, ev.Status.ErrorMessage)
		if err == nil && !anyConnected {
			err = d.notifier.NotifyAllBackendsDown(ctx)
		}
	default:
		return
	}
	if err != nil {
		d.logger.Warn("notification delivery failed",
			logging.String(logging.FieldConnection, string(ev.Connection)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "alert not delivered; health tracking unaffected"),
		)
	}
}

// FrontendStatus is the front-end's own connectivity view, pushed over IPC
// to drive the tooltip and icon only.
type FrontendStatus struct {
	ConnectionType string   `json:"connection_type"`
	Connected      bool     `json:"connected"`
	Version        string   `json:"version"`
	Models         []string `json:"models"`
	Endpoint       string   `json:"endpoint"`
	Error          string   `json:"error"`
}

// ApplyFrontendStatus folds a front-end status push into the presentation
// state. Malformed payloads are rejected; broker health state is never
// touched.
func (d *Daemon) ApplyFrontendStatus(raw json.RawMessage) error {
	var status FrontendStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("parse status payload: %w", err)
	}

	tooltip := defaultTooltip
	icon := iconDisconnected
	if status.Connected {
		icon = iconConnected
		switch status.ConnectionType {
		case "ollama":
			version := status.Version
			if version == "" {
				version = "Unknown"
			}
			tooltip = fmt.Sprintf("%s - Ollama %s (%d models)", defaultTooltip, version, len(status.Models))
		case "cloud":
			endpoint := status.Endpoint
			if endpoint == "" {
				endpoint = "Unknown"
			}
			tooltip = fmt.Sprintf("%s - Cloud (%s)", defaultTooltip, endpoint)
		default:
			tooltip = defaultTooltip + " - Connected"
		}
	} else {
		reason := status.Error
		if reason == "" {
			reason = "Connection failed"
		}
		tooltip = fmt.Sprintf("%s - Disconnected (%s)", defaultTooltip, reason)
	}

	d.mu.Lock()
	d.tooltip = tooltip
	d.iconState = icon
	d.mu.Unlock()

	d.logger.Info("front-end status applied",
		logging.String("tooltip", tooltip),
		logging.String("icon_state", icon),
		logging.String(logging.FieldEventType, "frontend_status_applied"),
	)
	return nil
}
