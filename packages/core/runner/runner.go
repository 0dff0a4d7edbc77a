package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/assertions"
	"github.com/abdul-hamid-achik/specrun/packages/core/env"
	"github.com/abdul-hamid-achik/specrun/packages/core/spec"
	"github.com/abdul-hamid-achik/specrun/packages/http"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultConcurrency is the default number of in-flight cases
	DefaultConcurrency = 5
	// DefaultCaseTimeout bounds a case, retries and backoff included
	DefaultCaseTimeout = 30 * time.Second
	// DefaultAttemptTimeout bounds a single attempt
	DefaultAttemptTimeout = 10 * time.Second
	// DefaultGracePeriod is how long in-flight cases may continue after cancellation
	DefaultGracePeriod = 5 * time.Second
)

// Reporter receives each finished suite result exactly once.
type Reporter interface {
	Report(result *SuiteResult) error
}

type Config struct {
	Concurrency int
	BaseURL     string
	Token       string
	// Headers apply to every request before the token and case headers
	Headers map[string]string
	// Variables seed the read-only default layer of the variable context
	Variables map[string]any

	CaseTimeout    time.Duration
	AttemptTimeout time.Duration
	// Retry defaults to http.DefaultRetryPolicy when left zero
	Retry http.RetryPolicy
	// SuiteDeadline, when set, cancels the run after the given duration
	SuiteDeadline time.Duration
	GracePeriod   time.Duration
}

type Runner struct {
	client    *http.Client
	executor  *http.Executor
	config    *Config
	reporters []Reporter
	warnFunc  env.WarnFunc
	debugFunc env.WarnFunc
}

type Option func(*Runner)

// WithClient replaces the default HTTP client, e.g. to add a rate limit or proxy.
func WithClient(client *http.Client) Option {
	return func(r *Runner) {
		r.client = client
	}
}

func WithReporters(reporters ...Reporter) Option {
	return func(r *Runner) {
		r.reporters = append(r.reporters, reporters...)
	}
}

// WithWarnFunc receives reporter failures and capture shadowing warnings.
func WithWarnFunc(fn env.WarnFunc) Option {
	return func(r *Runner) {
		r.warnFunc = fn
	}
}

// WithDebugFunc receives one line per failed attempt and per finished case.
func WithDebugFunc(fn env.WarnFunc) Option {
	return func(r *Runner) {
		r.debugFunc = fn
	}
}

func NewRunner(cfg *Config, opts ...Option) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}

	r := &Runner{config: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = http.NewClient()
	}

	r.executor = http.NewExecutor(r.client)
	if r.debugFunc != nil {
		r.executor.OnAttempt = func(attempt int, err error) {
			r.debug("attempt %d failed: %v", attempt, err)
		}
	}
	return r
}

func (r *Runner) warn(format string, args ...any) {
	if r.warnFunc != nil {
		r.warnFunc(format, args...)
	}
}

func (r *Runner) debug(format string, args ...any) {
	if r.debugFunc != nil {
		r.debugFunc(format, args...)
	}
}

func (r *Runner) concurrency() int64 {
	if r.config.Concurrency > 0 {
		return int64(r.config.Concurrency)
	}
	return DefaultConcurrency
}

func (r *Runner) gracePeriod() time.Duration {
	if r.config.GracePeriod > 0 {
		return r.config.GracePeriod
	}
	return DefaultGracePeriod
}

func (r *Runner) retryPolicy() http.RetryPolicy {
	if r.config.Retry == (http.RetryPolicy{}) {
		return http.DefaultRetryPolicy()
	}
	return r.config.Retry
}

func (r *Runner) timeouts(c *spec.Case) http.Timeouts {
	t := http.Timeouts{
		Attempt: r.config.AttemptTimeout,
		Case:    r.config.CaseTimeout,
	}
	if t.Attempt <= 0 {
		t.Attempt = DefaultAttemptTimeout
	}
	if t.Case <= 0 {
		t.Case = DefaultCaseTimeout
	}
	if c.Request.Timeout > 0 {
		t.Case = c.Request.Timeout
	}
	if t.Attempt > t.Case {
		t.Attempt = t.Case
	}
	return t
}

// Run executes every case of the suite and hands the result to each reporter.
// Case-level failures are recorded in the result; only an unusable suite returns an error.
func (r *Runner) Run(ctx context.Context, suite *spec.Suite) (*SuiteResult, error) {
	if suite == nil || len(suite.Cases) == 0 {
		return nil, errors.New("runner: suite has no cases")
	}

	runCtx := ctx
	if r.config.SuiteDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.SuiteDeadline)
		defer cancel()
	}

	// In-flight cases outlive runCtx by the grace period, then they are aborted.
	flightCtx, abort := context.WithCancel(context.WithoutCancel(runCtx))
	defer abort()
	stopGrace := context.AfterFunc(runCtx, func() {
		time.AfterFunc(r.gracePeriod(), abort)
	})
	defer stopGrace()

	result := &SuiteResult{
		Name:      suite.Name,
		Path:      suite.Path,
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Steps:     make([]*StepResult, len(suite.Cases)),
	}
	for i, c := range suite.Cases {
		result.Steps[i] = &StepResult{
			Index:  c.Index,
			Name:   c.Name,
			State:  StatePending,
			Method: c.Request.Method,
			URL:    c.Request.URL,
		}
	}

	defaults := env.Defaults(r.config.BaseURL, r.config.Token, r.config.Variables)
	vars := env.NewVarContext(defaults)
	vars.SetWarnFunc(r.warnFunc)

	s := newScheduler(suite, r.concurrency(), r.config.Headers)
	started := 0
	for i, c := range suite.Cases {
		if err := s.admit(runCtx, i, vars); err != nil {
			break
		}
		result.Steps[i].State = StateRunning
		started++

		go func() {
			defer s.finish(i)
			r.runCase(flightCtx, c, vars, result.Steps[i])
		}()
	}
	s.wait(started)

	for _, step := range result.Steps {
		if !step.State.Terminal() {
			step.errored(ErrorCancelled, fmt.Errorf("not started: %w", http.ErrCancelled))
		}
		if step.ErrorKind == ErrorCancelled {
			result.Partial = true
		}
	}

	result.Duration = time.Since(result.StartedAt)
	result.tally()

	for _, rep := range r.reporters {
		if err := rep.Report(result); err != nil {
			r.warn("reporter %T failed: %v", rep, err)
		}
	}

	return result, nil
}

// runCase drives one case from Running to a terminal state.
func (r *Runner) runCase(ctx context.Context, c *spec.Case, vars *env.VarContext, step *StepResult) {
	req, err := r.buildRequest(c, vars)
	if err != nil {
		var unresolved *env.UnresolvedVariableError
		if errors.As(err, &unresolved) {
			step.errored(ErrorUnresolved, err)
		} else {
			step.errored(ErrorRequest, err)
		}
		r.debug("%s: %v", c.Name, err)
		return
	}
	step.URL = req.BuildURL()

	start := time.Now()
	resp, attempts, err := r.executor.Execute(ctx, req, r.timeouts(c), r.retryPolicy())
	step.Latency = time.Since(start)
	step.Attempts = attempts

	if err != nil {
		step.errored(classify(err), err)
		r.debug("%s %s: %v", req.Method, step.URL, err)
		return
	}

	step.StatusCode = resp.StatusCode
	step.Snippet = resp.Snippet(http.DefaultSnippetSize)
	r.debug("%s %s -> %d in %s (%d attempt(s))", req.Method, step.URL, resp.StatusCode, step.Latency.Round(time.Millisecond), attempts)

	outcome := assertions.Evaluate(c.Expect, resp.StatusCode, resp.Body)

	// Captures run whatever the verdict so later cases can still resolve.
	var captureErrs []error
	for _, save := range c.Expect.Save {
		if err := vars.Capture(save.Path, save.Name, resp); err != nil {
			captureErrs = append(captureErrs, err)
			continue
		}
		if step.Captures == nil {
			step.Captures = make(map[string]any)
		}
		step.Captures[save.Name], _ = vars.Get(save.Name)
	}

	switch {
	case !outcome.Passed:
		step.fail(errors.Join(append([]error{outcome.Err}, captureErrs...)...))
	case len(captureErrs) > 0:
		step.fail(errors.Join(captureErrs...))
	default:
		step.pass()
	}
}

func classify(err error) ErrorKind {
	var (
		timeoutErr   *http.TimeoutError
		transportErr *http.TransportError
		requestErr   *http.RequestError
	)
	switch {
	case errors.Is(err, http.ErrCancelled):
		return ErrorCancelled
	case errors.As(err, &timeoutErr):
		return ErrorTimeout
	case errors.As(err, &requestErr):
		return ErrorRequest
	case errors.As(err, &transportErr):
		return ErrorTransport
	default:
		return ErrorTransport
	}
}

// scheduler admits cases in insertion order under the concurrency bound and
// the dependency barriers.
type scheduler struct {
	cases []*spec.Case
	sem   *semaphore.Weighted
	done  []chan struct{}
	names map[string][]int
	// headers are the configured headers sent with every case that does not override them
	headers map[string]string
}

func newScheduler(suite *spec.Suite, concurrency int64, headers map[string]string) *scheduler {
	s := &scheduler{
		cases:   suite.Cases,
		sem:     semaphore.NewWeighted(concurrency),
		done:    make([]chan struct{}, len(suite.Cases)),
		names:   make(map[string][]int),
		headers: headers,
	}
	for i, c := range suite.Cases {
		s.done[i] = make(chan struct{})
		s.names[c.Name] = append(s.names[c.Name], i)
	}
	return s
}

// admit blocks until case i may start and holds a pool slot for it.
// A case waits for every earlier case when it reads a variable that is not
// yet defined, and for the named cases when it declares dependsOn.
func (s *scheduler) admit(ctx context.Context, i int, vars *env.VarContext) error {
	c := s.cases[i]

	var waitFor []int
	if s.needsBarrier(c, vars) {
		for j := 0; j < i; j++ {
			waitFor = append(waitFor, j)
		}
	} else {
		for _, dep := range c.DependsOn {
			for _, j := range s.names[dep] {
				if j < i {
					waitFor = append(waitFor, j)
				}
			}
		}
	}

	for _, j := range waitFor {
		select {
		case <-s.done[j]:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	// Acquire may succeed on a done context when a slot is free.
	if err := ctx.Err(); err != nil {
		s.sem.Release(1)
		return err
	}
	return nil
}

func (s *scheduler) needsBarrier(c *spec.Case, vars *env.VarContext) bool {
	templates := c.Request.Templates()
	for k, v := range s.headers {
		if !hasHeader(c.Request.Headers, k) {
			templates = append(templates, v)
		}
	}
	for _, tmpl := range templates {
		for _, name := range vars.References(tmpl) {
			if !vars.Has(name) {
				return true
			}
		}
	}
	return false
}

func (s *scheduler) finish(i int) {
	close(s.done[i])
	s.sem.Release(1)
}

// wait blocks until the first n cases have finished.
func (s *scheduler) wait(n int) {
	for i := 0; i < n; i++ {
		<-s.done[i]
	}
}
