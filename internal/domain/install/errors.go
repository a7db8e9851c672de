package install

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAlreadyInProgress is returned when the identifier already has a request in flight.
	ErrAlreadyInProgress = errors.New("operation already in progress for package")
	// ErrStreamClosed is returned when the event stream ends without a termination event.
	ErrStreamClosed = errors.New("installer event stream closed before termination")
	// ErrCancelled is returned when the request context ends while the installer runs.
	ErrCancelled = errors.New("operation cancelled")
)

// FetchErrorKind classifies descriptor download failures.
type FetchErrorKind int

const (
	// FetchTransport is a DNS, TLS, timeout or connection failure.
	FetchTransport FetchErrorKind = iota + 1
	// FetchHTTPStatus is a non-2xx response.
	FetchHTTPStatus
	// FetchDecode is a body that could not be read as text.
	FetchDecode
	// FetchPersist is a failure writing the descriptor to disk.
	FetchPersist
)

// String returns a short name of the kind.
func (k FetchErrorKind) String() string {
	switch k {
	case FetchTransport:
		return "transport"
	case FetchHTTPStatus:
		return "http status"
	case FetchDecode:
		return "decode"
	case FetchPersist:
		return "persist"
	default:
		return "unknown"
	}
}

// FetchError is returned by the descriptor fetch phase.
type FetchError struct {
	// Kind is the failure class.
	Kind FetchErrorKind
	// URL is the descriptor location.
	URL string
	// StatusCode is set for FetchHTTPStatus.
	StatusCode int
	// Err is the underlying cause, nil for FetchHTTPStatus.
	Err error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPStatus {
		return fmt.Sprintf("fetch %s: http status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}

	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// SpawnError is returned when the installer process cannot be started.
type SpawnError struct {
	// Program is the executable that failed to start.
	Program string
	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Program, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// NotifyError is returned when the notification sink rejects an event.
type NotifyError struct {
	// Event is the notification name that could not be delivered.
	Event string
	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *NotifyError) Error() string {
	return fmt.Sprintf("emit %s: %v", e.Event, e.Err)
}

// Unwrap returns the underlying cause.
func (e *NotifyError) Unwrap() error {
	return e.Err
}

// ExitError is returned in strict mode when the installer exits non-zero.
type ExitError struct {
	// Code is the installer exit code.
	Code int
}

// Error implements error.
func (e *ExitError) Error() string {
	return fmt.Sprintf("installer exited with code %d", e.Code)
}

// IsHTTPStatus reports whether err is a FetchError for the given status code.
func IsHTTPStatus(err error, code int) bool {
	var fetchErr *FetchError

	return errors.As(err, &fetchErr) && fetchErr.Kind == FetchHTTPStatus && fetchErr.StatusCode == code
}
