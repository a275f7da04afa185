package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAvailableConnection means no enabled connection is currently
	// connected.
	ErrNoAvailableConnection = errors.New("no available connections")
	// ErrBrokerUnavailable means the run loop is not running.
	ErrBrokerUnavailable = errors.New("broker is not running")
	// ErrSubmissionTimeout means a call into the run loop exceeded its
	// deadline. The work may still complete after the caller gives up.
	ErrSubmissionTimeout = errors.New("broker call timed out")
)

// HTTPError reports a non-200 backend response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}
