package connection

import "time"

// Status is the live health record for one connection. It is owned
// exclusively by the broker's monitor loop; everything else sees copies.
type Status struct {
	Type         Type
	State        State
	LastCheck    time.Time
	ErrorMessage string
	Version      string
	Models       []string
}

// NewStatus returns the startup status for a connection type.
func NewStatus(t Type) *Status {
	return &Status{Type: t, State: StateDisconnected, Models: []string{}}
}

// Snapshot returns a copy safe to hand across goroutines.
func (s *Status) Snapshot() Status {
	cp := *s
	cp.Models = append([]string{}, s.Models...)
	return cp
}

// StatusPayload is the wire representation of a status snapshot. LastCheck
// is seconds since the Unix epoch, zero when the connection has never been
// probed.
type StatusPayload struct {
	Type         Type     `json:"connection_type,omitempty"`
	State        State    `json:"state"`
	LastCheck    float64  `json:"last_check"`
	ErrorMessage string   `json:"error_message"`
	Version      string   `json:"version"`
	Models       []string `json:"models"`
}

// Payload converts a snapshot to its wire representation.
func (s Status) Payload() StatusPayload {
	var lastCheck float64
	if !s.LastCheck.IsZero() {
		lastCheck = float64(s.LastCheck.UnixNano()) / float64(time.Second)
	}
	models := s.Models
	if models == nil {
		models = []string{}
	}
	return StatusPayload{
		Type:         s.Type,
		State:        s.State,
		LastCheck:    lastCheck,
		ErrorMessage: s.ErrorMessage,
		Version:      s.Version,
		Models:       models,
	}
}
