package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies collaborator API failures for the executor's
// retry decision: transient kinds are retried with backoff, the rest
// fail the action immediately.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindNetwork     ErrorKind = "network"
	KindAuthExpired ErrorKind = "auth_expired"
	KindInvalid     ErrorKind = "invalid"
	KindOther       ErrorKind = "other"
)

// APIError wraps a collaborator failure with its classification.
type APIError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *APIError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError builds a classified collaborator error.
func NewAPIError(kind ErrorKind, op string, err error) *APIError {
	return &APIError{Kind: kind, Op: op, Err: err}
}

// RateLimited marks an error as retryable due to platform throttling.
func RateLimited(op string, err error) *APIError {
	return NewAPIError(KindRateLimited, op, err)
}

// AuthExpired marks an error as a credential failure; retrying is pointless.
func AuthExpired(op string, err error) *APIError {
	return NewAPIError(KindAuthExpired, op, err)
}

// NetworkError marks a transport-level failure as retryable.
func NetworkError(op string, err error) *APIError {
	return NewAPIError(KindNetwork, op, err)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindRateLimited || apiErr.Kind == KindNetwork
	}
	return false
}

// KindOf extracts the classification of err, defaulting to KindOther.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindOther
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuthExpired
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindNetwork
	case status >= 400:
		return KindInvalid
	default:
		return KindOther
	}
}
