package http

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 6, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{9, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_DefaultMultiplier(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}
	assert.Equal(t, 20*time.Millisecond, p.Delay(2))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.False(t, p.ShouldRetry(nil))
	assert.True(t, p.ShouldRetry(errors.New("dial tcp: connection refused")))
	assert.False(t, p.ShouldRetry(&RequestError{Err: errors.New("bad url")}))
}

func TestNoRetry(t *testing.T) {
	p := NoRetry().normalize()
	assert.Equal(t, 1, p.MaxAttempts)
}
