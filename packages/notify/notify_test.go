package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/core/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	calls []Summary
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, s *Summary) error {
	r.calls = append(r.calls, *s)
	return r.err
}

func (r *recordingNotifier) Name() string { return "recording" }

func suiteResult(name string, states ...runner.State) *runner.SuiteResult {
	result := &runner.SuiteResult{Name: name, Duration: time.Second}
	for i, state := range states {
		step := &runner.StepResult{Index: i, Name: fmt.Sprintf("case-%d", i), State: state}
		switch state {
		case runner.StatePassed:
			result.Passed++
		case runner.StateFailed:
			step.Reason = "expected status 200, got 500\nmore detail"
			result.Failed++
		case runner.StateErrored:
			step.ErrorKind = runner.ErrorTimeout
			step.Reason = "attempt timed out"
			result.Errored++
		}
		result.Steps = append(result.Steps, step)
	}
	result.Total = len(states)
	return result
}

func TestManagerPolicies(t *testing.T) {
	failing := &Summary{Total: 1, Failed: 1}
	passing := &Summary{Total: 1, Passed: 1}

	tests := []struct {
		on    NotifyOn
		runs  []*Summary
		calls int
	}{
		{NotifyAlways, []*Summary{passing, failing}, 2},
		{NotifyFailure, []*Summary{passing, failing}, 1},
		{NotifySuccess, []*Summary{passing, failing}, 1},
		{NotifyRecovery, []*Summary{passing, failing, passing, passing}, 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.on), func(t *testing.T) {
			rec := &recordingNotifier{}
			m := NewManager(tt.on, rec)
			for _, run := range tt.runs {
				s := *run
				require.NoError(t, m.Notify(context.Background(), &s))
			}
			assert.Len(t, rec.calls, tt.calls)
		})
	}
}

func TestManagerMarksRecovery(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(NotifyRecovery, rec)

	require.NoError(t, m.Notify(context.Background(), &Summary{Total: 1, Errored: 1}))
	require.NoError(t, m.Notify(context.Background(), &Summary{Total: 1, Passed: 1}))

	require.Len(t, rec.calls, 2)
	assert.False(t, rec.calls[0].IsRecovery)
	assert.True(t, rec.calls[1].IsRecovery)
}

func TestManagerDefaultsToFailure(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager("", rec)

	require.NoError(t, m.Notify(context.Background(), &Summary{Total: 1, Passed: 1}))
	assert.Empty(t, rec.calls)
}

func TestManagerJoinsErrors(t *testing.T) {
	m := NewManager(NotifyAlways, &recordingNotifier{err: errors.New("boom")})

	err := m.Notify(context.Background(), &Summary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording notification: boom")
}

func TestReporterAggregatesUntilFlush(t *testing.T) {
	rec := &recordingNotifier{}
	r := NewReporter(NewManager(NotifyAlways, rec))

	require.NoError(t, r.Report(suiteResult("users", runner.StatePassed, runner.StateFailed)))
	require.NoError(t, r.Report(suiteResult("orders", runner.StateErrored)))
	require.NoError(t, r.Flush(context.Background()))

	require.Len(t, rec.calls, 1)
	s := rec.calls[0]
	assert.Equal(t, 2, s.Suites)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Errored)
	assert.Equal(t, 2*time.Second, s.Duration)
	require.Len(t, s.Failures, 2)
	assert.Equal(t, "users / case-1: expected status 200, got 500", s.Failures[0].String())
	assert.Equal(t, "orders / case-0 [Timeout]: attempt timed out", s.Failures[1].String())

	// Nothing reported since the last flush.
	require.NoError(t, r.Flush(context.Background()))
	assert.Len(t, rec.calls, 1)
}

func TestSummaryListedCapsFailures(t *testing.T) {
	s := &Summary{Failures: make([]Failure, maxListedFailures+3)}
	listed, more := s.listed()
	assert.Len(t, listed, maxListedFailures)
	assert.Equal(t, 3, more)
}

func TestSlackNotifier(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewSlackNotifier(server.URL, WithSlackChannel("#api"))
	err := n.Notify(context.Background(), &Summary{
		Total:    2,
		Passed:   1,
		Failed:   1,
		Failures: []Failure{{Suite: "users", Case: "create", Reason: "expected status 201, got 400"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "#api", got["channel"])
	assert.Equal(t, "specrun", got["username"])
	attachments := got["attachments"].([]any)
	require.Len(t, attachments, 1)
	att := attachments[0].(map[string]any)
	assert.Equal(t, "danger", att["color"])
	assert.Contains(t, att["title"], "1 case(s) failed")
	assert.Contains(t, att["text"], "users / create: expected status 201, got 400")
}

func TestSlackNotifierRejectedWebhook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL).Notify(context.Background(), &Summary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403: invalid_token")
}

func TestTeamsNotifier(t *testing.T) {
	var got teamsMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	err := NewTeamsNotifier(server.URL).Notify(context.Background(), &Summary{
		Total:      3,
		Passed:     3,
		IsRecovery: true,
		Partial:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, "message", got.Type)
	require.Len(t, got.Attachments, 1)
	body := got.Attachments[0].Content.Body
	require.Len(t, body, 3)
	assert.Equal(t, "Cases recovered", body[0].Text)
	assert.Equal(t, "Good", body[0].Color)
	assert.Len(t, body[1].Facts, 5)
	assert.Equal(t, "Run cancelled: results are partial", body[2].Text)
}
