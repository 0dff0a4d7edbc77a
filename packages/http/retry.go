package http

import (
	"errors"
	"time"
)

const (
	// DefaultMaxAttempts is the default number of attempts per request, first try included
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the delay before the first retry
	DefaultBaseDelay = 200 * time.Millisecond
	// DefaultMaxDelay caps the backoff between retries
	DefaultMaxDelay = 5 * time.Second
	// DefaultMultiplier is the backoff growth factor
	DefaultMultiplier = 2.0
)

// RetryPolicy describes how transport failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
	}
}

// NoRetry makes exactly one attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-based).
// The base delay doubles (by Multiplier) per attempt and is capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalize()
	if attempt < 1 || p.BaseDelay == 0 {
		return 0
	}

	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}

	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether err is a transport failure worth another attempt.
// Requests that could not be built are never retried.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var reqErr *RequestError
	return !errors.As(err, &reqErr)
}
