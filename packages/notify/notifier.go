// Package notify posts a run summary to chat webhooks once per run.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/core/runner"
)

// NotifyOn specifies when to send notifications
type NotifyOn string

const (
	// NotifyAlways sends notifications for every run
	NotifyAlways NotifyOn = "always"
	// NotifyFailure sends notifications only when a case failed or errored
	NotifyFailure NotifyOn = "failure"
	// NotifySuccess sends notifications only when every case passed
	NotifySuccess NotifyOn = "success"
	// NotifyRecovery sends failures and the first success after a failure
	NotifyRecovery NotifyOn = "recovery"
)

// maxListedFailures caps the failures listed in a message
const maxListedFailures = 10

const defaultTimeout = 10 * time.Second

// Summary aggregates the suites reported since the last flush.
type Summary struct {
	Suites     int
	Total      int
	Passed     int
	Failed     int
	Errored    int
	Duration   time.Duration
	Partial    bool
	Failures   []Failure
	IsRecovery bool
}

// OK reports whether every case passed.
func (s *Summary) OK() bool {
	return s.Failed+s.Errored == 0
}

type Failure struct {
	Suite  string
	Case   string
	Kind   string
	Reason string
}

func (f Failure) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s / %s", f.Suite, f.Case)
	if f.Kind != "" {
		fmt.Fprintf(&b, " [%s]", f.Kind)
	}
	if reason, _, _ := strings.Cut(f.Reason, "\n"); reason != "" {
		b.WriteString(": " + reason)
	}
	return b.String()
}

// listed returns the failures to print and how many were left out.
func (s *Summary) listed() ([]Failure, int) {
	if len(s.Failures) <= maxListedFailures {
		return s.Failures, 0
	}
	return s.Failures[:maxListedFailures], len(s.Failures) - maxListedFailures
}

// Notifier is the interface for notification services
type Notifier interface {
	Notify(ctx context.Context, summary *Summary) error
	Name() string
}

// Manager applies the NotifyOn policy across runs.
type Manager struct {
	notifiers []Notifier
	notifyOn  NotifyOn
	lastOK    bool
}

func NewManager(notifyOn NotifyOn, notifiers ...Notifier) *Manager {
	if notifyOn == "" {
		notifyOn = NotifyFailure
	}
	return &Manager{
		notifiers: notifiers,
		notifyOn:  notifyOn,
		lastOK:    true,
	}
}

// Notify sends the summary to every notifier when the policy allows it.
func (m *Manager) Notify(ctx context.Context, summary *Summary) error {
	ok := summary.OK()

	var send bool
	switch m.notifyOn {
	case NotifyAlways:
		send = true
	case NotifyFailure:
		send = !ok
	case NotifySuccess:
		send = ok
	case NotifyRecovery:
		summary.IsRecovery = ok && !m.lastOK
		send = !ok || summary.IsRecovery
	}
	m.lastOK = ok

	if !send {
		return nil
	}

	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, summary); err != nil {
			errs = append(errs, fmt.Errorf("%s notification: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Reporter collects suite results and hands one summary per Flush to the manager.
type Reporter struct {
	mu      sync.Mutex
	manager *Manager
	summary Summary
}

func NewReporter(manager *Manager) *Reporter {
	return &Reporter{manager: manager}
}

func (r *Reporter) Report(result *runner.SuiteResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := result.Name
	if name == "" {
		name = result.Path
	}

	s := &r.summary
	s.Suites++
	s.Total += result.Total
	s.Passed += result.Passed
	s.Failed += result.Failed
	s.Errored += result.Errored
	s.Duration += result.Duration
	s.Partial = s.Partial || result.Partial
	for _, step := range result.Steps {
		if step.State != runner.StateFailed && step.State != runner.StateErrored {
			continue
		}
		s.Failures = append(s.Failures, Failure{
			Suite:  name,
			Case:   step.Name,
			Kind:   step.ErrorKind.String(),
			Reason: step.Reason,
		})
	}
	return nil
}

// Flush notifies about everything reported since the previous flush.
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	summary := r.summary
	r.summary = Summary{}
	r.mu.Unlock()

	if summary.Suites == 0 {
		return nil
	}
	return r.manager.Notify(ctx, &summary)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
