package clone

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/echoclone/echoclone-go/internal/backend"
	"github.com/echoclone/echoclone-go/internal/queue"
	"github.com/echoclone/echoclone-go/internal/storage"
)

// Kind classifies a failed clone request.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInputRejected     Kind = "input_rejected"
	KindResourceExhausted Kind = "resource_exhausted"
	KindDiskFull          Kind = "disk_full"
	KindUnavailable       Kind = "unavailable"
	KindTimeout           Kind = "timeout"
	KindCanceled          Kind = "canceled"
	KindInternal          Kind = "internal"
)

// ValidationError is a request the service refused before touching the model.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid builds a ValidationError.
func Invalid(status int, format string, args ...any) *ValidationError {
	return &ValidationError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// ErrWrongExtension is returned for uploads that are not named *.wav.
var ErrWrongExtension = &ValidationError{Status: http.StatusBadRequest, Message: "Upload .wav only"}

// Error is a failure after the request was accepted.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of any error returned by Service.Clone.
func KindOf(err error) Kind {
	var ve *ValidationError
	var ce *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ce):
		return ce.Kind
	default:
		return KindInternal
	}
}

// classify turns a queue, model or filesystem error into an *Error.
func classify(err error) *Error {
	var be *backend.BackendError

	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return &Error{Kind: KindResourceExhausted, Message: "inference queue is full, try again later", Err: err}
	case errors.Is(err, queue.ErrShutdown):
		return &Error{Kind: KindResourceExhausted, Message: "server is shutting down", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Message: "request cancelled", Err: err}
	case storage.IsNoSpace(err):
		return &Error{Kind: KindDiskFull, Message: "insufficient storage", Err: err}
	case errors.Is(err, storage.ErrNoOutput), errors.Is(err, storage.ErrEmptyOutput):
		return &Error{Kind: KindInternal, Message: "model produced no audio", Err: err}
	case errors.As(err, &be) && be.Kind == backend.KindInputRejected:
		// The model server's detail can name server-side paths; it stays in Err for the logs.
		return &Error{Kind: KindInputRejected, Message: "model rejected the input, check the text and language", Err: err}
	}

	switch backend.KindOf(err) {
	case backend.KindResourceExhausted:
		return &Error{Kind: KindResourceExhausted, Message: "model is out of resources, try again later", Err: err}
	case backend.KindUnavailable:
		return &Error{Kind: KindUnavailable, Message: "voice model unavailable", Err: err}
	case backend.KindTimeout:
		return &Error{Kind: KindTimeout, Message: "voice model timed out", Err: err}
	default:
		return &Error{Kind: KindInternal, Message: "voice cloning failed", Err: err}
	}
}
