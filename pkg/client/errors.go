package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all attempts for a page are used up.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of failed query attempts.
type ErrorClass string

const (
	// ErrorClassUnauthorized represents 401 responses (expired bearer token).
	ErrorClassUnauthorized ErrorClass = "unauthorized"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport failures (reset, timeout, EOF).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassClient represents every other non-200 status.
	ErrorClassClient ErrorClass = "client"
)

// Classify maps an HTTP status to its error class. 200 has no class.
// 401 is checked first so a refresh is never mistaken for throttling.
func Classify(status int) ErrorClass {
	switch {
	case status == http.StatusOK:
		return ""
	case status == http.StatusUnauthorized:
		return ErrorClassUnauthorized
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// QueryError describes one failed query attempt.
type QueryError struct {
	StatusCode int
	Class      ErrorClass
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query %s error: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("query %s error (status %d): %s", e.Class, e.StatusCode, e.Body)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// Transient reports whether the attempt may succeed after a backoff.
func (e *QueryError) Transient() bool {
	return shouldRetry(e.Class)
}

// shouldRetry determines if an error class is retried after a backoff.
// Unauthorized is retried too, but immediately and after a token refresh.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassRateLimit, ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
