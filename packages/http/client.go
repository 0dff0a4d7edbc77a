package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxRedirects is the maximum number of redirects to follow
	DefaultMaxRedirects = 10
	// DefaultMaxIdleConnsPerHost sizes the pool for one target; keep it at or
	// above the runner concurrency so parallel cases reuse connections
	DefaultMaxIdleConnsPerHost = 32
	DefaultIdleConnTimeout     = 90 * time.Second
)

// Client sends resolved requests to the target service. It is safe for
// concurrent use by every case of a run.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	limiter    *rate.Limiter
}

type clientOptions struct {
	timeout         time.Duration
	followRedirects bool
	maxRedirects    int
	validateSSL     bool
	proxyURL        string
	headers         map[string]string
	perSecond       float64
}

type ClientOption func(*clientOptions)

// WithTimeout caps every round trip on top of the request context. Zero, the
// default, leaves the attempt and case deadlines of the executor in charge.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

func WithFollowRedirects(follow bool) ClientOption {
	return func(o *clientOptions) {
		o.followRedirects = follow
	}
}

func WithMaxRedirects(max int) ClientOption {
	return func(o *clientOptions) {
		o.maxRedirects = max
	}
}

// WithDefaultHeaders adds headers sent with every request. Request headers win.
func WithDefaultHeaders(headers map[string]string) ClientOption {
	return func(o *clientOptions) {
		for k, v := range headers {
			o.headers[k] = v
		}
	}
}

// WithValidateSSL enables or disables certificate validation
func WithValidateSSL(validate bool) ClientOption {
	return func(o *clientOptions) {
		o.validateSSL = validate
	}
}

// WithProxy routes every request through proxyURL. An unparsable URL is ignored.
func WithProxy(proxyURL string) ClientOption {
	return func(o *clientOptions) {
		o.proxyURL = proxyURL
	}
}

// WithRateLimit caps outgoing requests per second. Zero or negative disables the cap.
func WithRateLimit(perSecond float64) ClientOption {
	return func(o *clientOptions) {
		o.perSecond = perSecond
	}
}

func NewClient(opts ...ClientOption) *Client {
	o := &clientOptions{
		followRedirects: true,
		maxRedirects:    DefaultMaxRedirects,
		validateSSL:     true,
		headers:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		headers: o.headers,
		httpClient: &http.Client{
			Transport:     o.transport(),
			Timeout:       o.timeout,
			CheckRedirect: o.checkRedirect,
		},
	}
	if o.perSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(o.perSecond), 1)
	}
	return c
}

func (o *clientOptions) transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	t.IdleConnTimeout = DefaultIdleConnTimeout
	t.Proxy = http.ProxyFromEnvironment

	if !o.validateSSL {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if o.proxyURL != "" {
		if u, err := neturl.Parse(o.proxyURL); err == nil {
			t.Proxy = http.ProxyURL(u)
		}
	}
	return t
}

// checkRedirect stops at the last response instead of failing, so the
// redirect status itself can be asserted.
func (o *clientOptions) checkRedirect(req *http.Request, via []*http.Request) error {
	if !o.followRedirects || len(via) >= o.maxRedirects {
		return http.ErrUseLastResponse
	}
	return nil
}

// Do performs a single round trip. Deadlines and cancellation come from ctx.
// Invalid requests return *RequestError; network failures are returned as is.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	target := req.BuildURL()
	if err := ValidateURL(target); err != nil {
		return nil, &RequestError{Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return newResponse(httpResp, data, time.Since(start)), nil
}

// ValidateURL checks that a URL is absolute and uses http or https.
func ValidateURL(rawURL string) error {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q in %s (set a base URL or use http/https)", u.Scheme, rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %s has no host", rawURL)
	}
	return nil
}
