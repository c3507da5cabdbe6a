package uem

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates missing or invalid input detected
	// before any request is sent to the console.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound indicates the console has no app versions for a bundle identifier.
	ErrNotFound = errors.New("not found")
)

// TransportError is a failed console request.
// A zero StatusCode means the request did not complete (network failure).
type TransportError struct {
	Op         string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if len(e.Body) > 0 {
		return fmt.Sprintf("%s: unexpected HTTP status %d: %s", e.Op, e.StatusCode, truncate(e.Body, 256))
	}
	return fmt.Sprintf("%s: unexpected HTTP status %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewHTTPError creates a TransportError for an unexpected response status.
func NewHTTPError(op string, statusCode int, body []byte) *TransportError {
	return &TransportError{Op: op, StatusCode: statusCode, Body: body}
}

// PartialBatchFailure reports that some items of a batch action failed.
// Items that succeeded are not rolled back.
type PartialBatchFailure struct {
	Failed int
	Total  int
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("%d of %d batch items failed", e.Failed, e.Total)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
