package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrBackendUnavailable indicates the model server or command could not be reached.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrBackendTimeout indicates the model took longer than the configured timeout.
var ErrBackendTimeout = errors.New("backend timeout")

// Kind classifies a synthesis failure so callers can map it to a response.
type Kind string

const (
	KindInputRejected     Kind = "input_rejected"
	KindResourceExhausted Kind = "resource_exhausted"
	KindUnavailable       Kind = "unavailable"
	KindTimeout           Kind = "timeout"
	KindInternal          Kind = "internal"
)

// BackendError represents a failure reported by the model itself.
type BackendError struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
}

// IsBackendError checks if an error is a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// KindOf classifies any error returned by a Synthesizer.
func KindOf(err error) Kind {
	var be *BackendError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &be):
		return be.Kind
	case errors.Is(err, ErrBackendTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrBackendUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindInputRejected
	case http.StatusRequestEntityTooLarge, http.StatusTooManyRequests,
		http.StatusServiceUnavailable, http.StatusInsufficientStorage:
		return KindResourceExhausted
	default:
		return KindInternal
	}
}
