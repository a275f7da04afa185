package ipc

import (
	"encoding/json"

	"llmbridge/internal/broker"
	"llmbridge/internal/connection"
)

// Commands consumed by the daemon.
const (
	CommandPing                   = "PING"
	CommandUpdateTooltip          = "UPDATE_TOOLTIP"
	CommandUpdateIcon             = "UPDATE_ICON"
	CommandAuthStatus             = "AUTH_STATUS"
	CommandUpdateAuthToken        = "UPDATE_AUTH_TOKEN"
	CommandUpdateLocalTarget      = "UPDATE_LOCAL_TARGET"
	CommandProxyRequest           = "PROXY_REQUEST"
	CommandStreamChat             = "STREAM_CHAT"
	CommandGetConnectionStatus    = "GET_CONNECTION_STATUS"
	CommandUpdateConnectionStatus = "UPDATE_CONNECTION_STATUS"
	CommandQuit                   = "QUIT"
)

// EventConnectionStatusChanged is pushed unsolicited to every client when a
// connection's settled state changes.
const EventConnectionStatusChanged = "CONNECTION_STATUS_CHANGED"

// Request is the flat superset of all inbound command payloads. Which
// fields matter depends on Command.
type Request struct {
	Command string `json:"command"`

	// UPDATE_TOOLTIP
	Text string `json:"text,omitempty"`
	// UPDATE_ICON
	State string `json:"state,omitempty"`
	// AUTH_STATUS
	Authenticated bool `json:"authenticated,omitempty"`
	// UPDATE_AUTH_TOKEN
	Token string `json:"token,omitempty"`
	// UPDATE_LOCAL_TARGET
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	// PROXY_REQUEST; ConnectionType optionally pins the backend.
	Method         string          `json:"method,omitempty"`
	Path           string          `json:"path,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	ConnectionType string          `json:"connection_type,omitempty"`
	// STREAM_CHAT
	Model    string               `json:"model,omitempty"`
	Messages []broker.ChatMessage `json:"messages,omitempty"`
	// UPDATE_CONNECTION_STATUS
	Status json.RawMessage `json:"status,omitempty"`
}

// PongResponse answers PING.
type PongResponse struct {
	Status string `json:"status"`
}

// ErrorResponse carries a caller-facing failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AckResponse confirms a mutation command.
type AckResponse struct {
	Status string `json:"status"`
}

// ResultResponse carries a successful proxy result.
type ResultResponse struct {
	Result json.RawMessage `json:"result"`
}

// StatusResponse answers GET_CONNECTION_STATUS with every connection's
// snapshot keyed by type name.
type StatusResponse struct {
	Status map[string]connection.StatusPayload `json:"status"`
}

// StreamChunk is one streamed chat fragment.
type StreamChunk struct {
	Chunk json.RawMessage `json:"chunk"`
}

// StreamDone terminates a chat stream.
type StreamDone struct {
	Done bool `json:"done"`
}

// StatusEvent is the CONNECTION_STATUS_CHANGED broadcast payload.
type StatusEvent struct {
	Command        string          `json:"command"`
	ConnectionType connection.Type `json:"connection_type"`
	Status         EventStatus     `json:"status"`
}

// EventStatus is the trimmed status carried in broadcast events.
type EventStatus struct {
	State        connection.State `json:"state"`
	ErrorMessage string           `json:"error_message"`
	Version      string           `json:"version"`
	Models       []string         `json:"models"`
}
