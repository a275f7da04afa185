package connection

// Type identifies one of the two backends the broker can talk to.
type Type string

const (
	// TypeLocalOllama is the direct local Ollama instance.
	TypeLocalOllama Type = "local_ollama"
	// TypeCloudProxy is the authenticated cloud relay.
	TypeCloudProxy Type = "cloud_proxy"
)

// Types lists all connection types in selection priority order: local is
// always preferred over the relay when both are available.
func Types() []Type {
	return []Type{TypeLocalOllama, TypeCloudProxy}
}

// ParseType validates a wire-format connection type name.
func ParseType(value string) (Type, bool) {
	switch Type(value) {
	case TypeLocalOllama:
		return TypeLocalOllama, true
	case TypeCloudProxy:
		return TypeCloudProxy, true
	default:
		return "", false
	}
}

// State describes the liveness of a connection as last observed by the
// health monitor.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// ParseState validates a wire-format state name.
func ParseState(value string) (State, bool) {
	switch State(value) {
	case StateDisconnected, StateConnecting, StateConnected, StateError:
		return State(value), true
	default:
		return "", false
	}
}
