// Package http provides the request executor for specrun.
//
// It wraps the standard library's http package with:
//   - Configurable timeouts, redirects, proxy and TLS settings
//   - An optional request-rate throttle
//   - Per-attempt and per-case time boxes
//   - An explicit RetryPolicy with capped exponential backoff
//   - Typed failures (TransportError, TimeoutError, ErrCancelled)
//
// Only transport failures are retried. A received response, whatever its
// status code, is returned to the caller as an observation.
package http
