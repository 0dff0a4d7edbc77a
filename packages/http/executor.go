package http

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Timeouts bounds a single attempt and the whole case, retries and backoff included.
type Timeouts struct {
	Attempt time.Duration
	Case    time.Duration
}

// Executor performs one logical request with per-attempt time boxes and bounded retry.
type Executor struct {
	client *Client
	sleep  func(ctx context.Context, d time.Duration) error

	// OnAttempt, when set, is called after every failed attempt
	OnAttempt func(attempt int, err error)
}

func NewExecutor(client *Client) *Executor {
	if client == nil {
		client = NewClient()
	}
	return &Executor{
		client: client,
		sleep:  sleepContext,
	}
}

// Execute returns the first response received, or a typed failure:
// *TimeoutError when the case deadline passes, ErrCancelled when ctx is cancelled,
// *TransportError once the retry budget is spent, *RequestError for unsendable requests.
// A received response is never retried, whatever its status.
func (e *Executor) Execute(ctx context.Context, req *Request, timeouts Timeouts, policy RetryPolicy) (*Response, int, error) {
	policy = policy.normalize()

	caseCtx := ctx
	if timeouts.Case > 0 {
		var cancel context.CancelFunc
		caseCtx, cancel = context.WithTimeout(ctx, timeouts.Case)
		defer cancel()
	}

	var lastErr error
	attempt := 0
	for attempt < policy.MaxAttempts {
		attempt++

		resp, err := e.attempt(caseCtx, req, timeouts.Attempt)
		if err == nil {
			return resp, attempt, nil
		}

		if stop := e.terminal(ctx, caseCtx, timeouts, attempt); stop != nil {
			return nil, attempt, stop
		}

		if e.OnAttempt != nil {
			e.OnAttempt(attempt, err)
		}

		if !policy.ShouldRetry(err) {
			return nil, attempt, err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		if err := e.sleep(caseCtx, policy.Delay(attempt)); err != nil {
			if stop := e.terminal(ctx, caseCtx, timeouts, attempt); stop != nil {
				return nil, attempt, stop
			}
			return nil, attempt, &TransportError{Attempts: attempt, Err: lastErr}
		}
	}

	return nil, attempt, &TransportError{Attempts: attempt, Err: lastErr}
}

func (e *Executor) attempt(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := e.client.Do(ctx, req)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("attempt timed out after %s: %w", timeout, err)
	}
	return resp, err
}

// terminal maps an expired parent or case context onto the matching failure.
func (e *Executor) terminal(parent, caseCtx context.Context, timeouts Timeouts, attempt int) error {
	if parent.Err() != nil {
		return fmt.Errorf("request aborted after %d attempt(s): %w", attempt, ErrCancelled)
	}
	if errors.Is(caseCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{After: timeouts.Case, Attempts: attempt}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
