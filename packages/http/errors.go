package http

import (
	"errors"
	"fmt"
	"time"
)

// ErrCancelled is returned when the run was cancelled while a request was pending.
var ErrCancelled = errors.New("cancelled")

// RequestError means the request could not be built or sent at all
// (bad URL, unsupported scheme). It is never retried.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return "invalid request: " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// TransportError means no HTTP response was obtained after every allowed attempt.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError means the per-case deadline expired before a response arrived.
type TimeoutError struct {
	After    time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s (%d attempt(s))", e.After, e.Attempts)
}
