package core

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes orchestration errors.
type ErrorCode string

const (
	// ErrProviderUnavailable covers missing credentials and non-2xx
	// upstream responses. Never retried by this module.
	ErrProviderUnavailable ErrorCode = "provider_unavailable"
	// ErrUnknownModel is returned before any upstream call when the model
	// identifier resolves to no known family.
	ErrUnknownModel ErrorCode = "unknown_model"
	// ErrMissingImageData is returned for vision requests whose last
	// message carries no image payload.
	ErrMissingImageData ErrorCode = "missing_image_data"
	// ErrUpstreamStream marks a failure while iterating an upstream
	// stream after it was successfully opened.
	ErrUpstreamStream ErrorCode = "upstream_stream"
	ErrBadRequest     ErrorCode = "bad_request"
	ErrCanceled       ErrorCode = "canceled"
	ErrInternal       ErrorCode = "internal"
)

// AIError provides categorized context for orchestration consumers.
type AIError struct {
	Code    ErrorCode
	Message string
	Status  int
	wrapped error
}

func (e *AIError) Error() string {
	if e == nil {
		return ""
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.wrapped)
	}
	return e.Message
}

func (e *AIError) Unwrap() error { return e.wrapped }

// NewError builds an AIError explicitly.
func NewError(code ErrorCode, message string, opts ...ErrorOption) *AIError {
	e := &AIError{Code: code, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WrapError wraps err with the provided code unless it already is an
// AIError, in which case the existing classification wins.
func WrapError(err error, code ErrorCode) *AIError {
	if err == nil {
		return nil
	}
	var ai *AIError
	if errors.As(err, &ai) {
		return ai
	}
	return &AIError{Code: code, Message: err.Error(), wrapped: err}
}

// ErrorOption mutates an AIError during construction.
type ErrorOption func(*AIError)

// WithStatus sets the upstream HTTP status code.
func WithStatus(status int) ErrorOption {
	return func(e *AIError) { e.Status = status }
}

// WithWrapped attaches an underlying error.
func WithWrapped(err error) ErrorOption {
	return func(e *AIError) { e.wrapped = err }
}

func classify(code ErrorCode) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		var ai *AIError
		if errors.As(err, &ai) {
			return ai.Code == code
		}
		return false
	}
}

// Predicates for common error handling patterns.
var (
	IsProviderUnavailable = classify(ErrProviderUnavailable)
	IsUnknownModel        = classify(ErrUnknownModel)
	IsMissingImageData    = classify(ErrMissingImageData)
	IsUpstreamStream      = classify(ErrUpstreamStream)
	IsBadRequest          = classify(ErrBadRequest)
	IsCanceled            = classify(ErrCanceled)
)
