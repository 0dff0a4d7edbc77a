package http

import (
	"net/http"
	"time"
)

// DefaultSnippetSize is how much of a body is kept for diagnostics
const DefaultSnippetSize = 512

// Header is the canonicalized header set of a response.
type Header = http.Header

// Response is a received response with its body fully read. Every status
// code, 5xx included, is an observation and never an error.
type Response struct {
	StatusCode int
	Status     string
	Headers    Header
	Body       []byte
	// Duration spans one attempt, from sending to the last body byte
	Duration time.Duration
}

func newResponse(resp *http.Response, body []byte, d time.Duration) *Response {
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header.Clone(),
		Body:       body,
		Duration:   d,
	}
}

// Header returns the first value of the named header, ignoring case.
func (r *Response) Header(name string) string {
	return r.Headers.Get(name)
}

// Snippet returns at most n bytes of the body, marking truncation.
func (r *Response) Snippet(n int) string {
	if n <= 0 {
		n = DefaultSnippetSize
	}
	if len(r.Body) <= n {
		return string(r.Body)
	}
	return string(r.Body[:n]) + "..."
}
