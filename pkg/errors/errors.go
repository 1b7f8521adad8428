package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrIndexCorrupt signals a Compressed Block Store integrity failure:
	// a bad trailer, a lookup-sidecar entry out of range, or a block whose
	// decompressed size disagrees with its header.
	ErrIndexCorrupt = errors.New("index corrupt")
	// ErrIoFailure wraps an underlying filesystem error encountered while
	// reading or writing block-store files.
	ErrIoFailure = errors.New("io failure")
	// ErrProtocolError signals a malformed binary query request or a
	// response the wire layer cannot frame (bad tag, term count mismatch).
	ErrProtocolError = errors.New("protocol error")
	// ErrBudgetExhausted is not a failure: it signals that a query phase
	// hit its max_it iteration ceiling and must emit whatever it has
	// accumulated so far. Callers check errors.Is only to log the event,
	// never to abort the query.
	ErrBudgetExhausted = errors.New("iteration budget exhausted")
	// ErrTransport wraps a failure on the TCP connection carrying the
	// binary query protocol (reset, timeout, partial frame on close).
	ErrTransport = errors.New("transport error")

	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrTimeout      = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status code the admin HTTP surface
// should report for it.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrIndexCorrupt):
		return http.StatusConflict
	case errors.Is(err, ErrIoFailure), errors.Is(err, ErrTransport):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrProtocolError), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WireStatus maps an error to the single status byte the binary query
// protocol can carry back to a client on a hard failure. ErrBudgetExhausted
// never reaches this path — it is handled in-band by emitting a normal
// response with whatever the bounded queue holds.
func WireStatus(err error) byte {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrIndexCorrupt):
		return 1
	case errors.Is(err, ErrIoFailure):
		return 2
	case errors.Is(err, ErrProtocolError):
		return 3
	case errors.Is(err, ErrTransport):
		return 4
	default:
		return 255
	}
}
