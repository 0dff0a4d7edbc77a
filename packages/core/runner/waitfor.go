package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/http"
)

const (
	// DefaultWaitInterval is the delay between readiness probes
	DefaultWaitInterval = 500 * time.Millisecond
	// DefaultWaitTimeout bounds the whole readiness wait
	DefaultWaitTimeout = 30 * time.Second
)

type WaitConfig struct {
	URL      string
	Status   int
	Timeout  time.Duration
	Interval time.Duration
}

// WaitFor polls the target until it returns the expected status, before any case runs.
func (r *Runner) WaitFor(ctx context.Context, cfg WaitConfig) error {
	if cfg.URL == "" {
		return nil
	}
	if cfg.Status == 0 {
		cfg.Status = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWaitTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWaitInterval
	}

	url := http.JoinURL(r.config.BaseURL, cfg.URL)
	r.debug("waiting for %s to return %d (timeout: %v, interval: %v)", url, cfg.Status, cfg.Timeout, cfg.Interval)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	var lastErr error
	var lastStatus int
	for {
		resp, err := r.client.Do(ctx, http.NewRequest("GET", url))
		if err == nil {
			lastStatus = resp.StatusCode
			if resp.StatusCode == cfg.Status {
				r.debug("%s is ready (status: %d)", url, resp.StatusCode)
				return nil
			}
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastStatus != 0 {
				return fmt.Errorf("service %s not ready after %v: got status %d, expected %d", url, cfg.Timeout, lastStatus, cfg.Status)
			}
			return fmt.Errorf("service %s not ready after %v: %v", url, cfg.Timeout, lastErr)
		case <-ticker.C:
		}
	}
}
