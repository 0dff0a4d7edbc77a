package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/core/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func suiteResult() *runner.SuiteResult {
	return &runner.SuiteResult{
		Name:  "users",
		RunID: "run-1",
		Steps: []*runner.StepResult{
			{Name: "list", State: runner.StatePassed, Method: "GET", URL: "http://api/users", StatusCode: 200, Attempts: 1, Latency: 100 * time.Millisecond},
			{Name: "create", State: runner.StateFailed, Method: "POST", URL: "http://api/users", StatusCode: 400, Attempts: 1, Latency: 200 * time.Millisecond},
			{Name: "health", State: runner.StateErrored, ErrorKind: runner.ErrorTimeout, Method: "GET", URL: "http://api/health", Attempts: 2, Latency: 300 * time.Millisecond},
		},
	}
}

type stubExporter struct {
	snapshots []*Snapshot
	err       error
	closed    bool
}

func (s *stubExporter) Export(snapshot *Snapshot) error {
	s.snapshots = append(s.snapshots, snapshot)
	return s.err
}

func (s *stubExporter) Close() error {
	s.closed = true
	return nil
}

func TestReporter_Aggregates(t *testing.T) {
	exp := &stubExporter{}
	r := NewReporter(WithExporters(exp))

	require.NoError(t, r.Report(suiteResult()))

	agg := r.Aggregate()
	assert.Equal(t, int64(3), agg.Cases)
	assert.Equal(t, int64(2), agg.Failures)
	assert.InDelta(t, 0.6, agg.SumSeconds, 1e-9)
	assert.InDelta(t, 0.1, agg.MinSeconds, 0.001)
	assert.InDelta(t, 0.3, agg.MaxSeconds, 0.001)
	assert.InDelta(t, 0.2, agg.P50Seconds, 0.001)
	assert.InDelta(t, 0.3, agg.P99Seconds, 0.001)
	assert.Equal(t, map[string]int64{"passed": 1, "failed": 1, "errored": 1}, agg.ByState)
	assert.Equal(t, map[int]int64{200: 1, 400: 1}, agg.StatusCodes)

	require.Len(t, exp.snapshots, 1)
	cases := exp.snapshots[0].Cases
	require.Len(t, cases, 3)
	assert.False(t, cases[0].Failed)
	assert.True(t, cases[2].Failed)
	assert.Equal(t, "Timeout", cases[2].ErrorKind)
	assert.Equal(t, "users", cases[1].Suite)

	require.NoError(t, r.Report(suiteResult()))
	assert.Equal(t, int64(6), r.Aggregate().Cases)
	assert.Len(t, exp.snapshots[1].Cases, 3)

	require.NoError(t, r.Close())
	assert.True(t, exp.closed)
}

func TestReporter_ExporterErrorsAreWarned(t *testing.T) {
	broken := &stubExporter{err: errors.New("connection refused")}
	healthy := &stubExporter{}

	var warnings []string
	r := NewReporter(
		WithExporters(broken, healthy),
		WithWarnFunc(func(format string, args ...any) {
			warnings = append(warnings, fmt.Sprintf(format, args...))
		}),
	)

	assert.NoError(t, r.Report(suiteResult()))
	assert.Len(t, healthy.snapshots, 1)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "connection refused")
}

func TestReporter_ClampsLatency(t *testing.T) {
	r := NewReporter()
	result := &runner.SuiteResult{Steps: []*runner.StepResult{
		{Name: "instant", State: runner.StatePassed},
		{Name: "forever", State: runner.StatePassed, Latency: time.Hour},
	}}

	require.NoError(t, r.Report(result))
	agg := r.Aggregate()
	assert.Equal(t, int64(2), agg.Cases)
	assert.InDelta(t, 600, agg.MaxSeconds, 1)
}

func TestWritePrometheus(t *testing.T) {
	r := NewReporter()
	require.NoError(t, r.Report(suiteResult()))

	var buf bytes.Buffer
	WritePrometheus(&buf, r.Aggregate())
	out := buf.String()

	assert.Contains(t, out, "# TYPE specrun_case_duration_seconds histogram\n")
	assert.Contains(t, out, "specrun_case_duration_seconds_bucket{le=\"0.05\"} 0\n")
	assert.Contains(t, out, "specrun_case_duration_seconds_bucket{le=\"0.1\"} 1\n")
	assert.Contains(t, out, "specrun_case_duration_seconds_bucket{le=\"0.25\"} 2\n")
	assert.Contains(t, out, "specrun_case_duration_seconds_bucket{le=\"0.5\"} 3\n")
	assert.Contains(t, out, "specrun_case_duration_seconds_bucket{le=\"+Inf\"} 3\n")
	assert.NotContains(t, out, "quantile")
	assert.Contains(t, out, "specrun_case_duration_seconds_count 3\n")
	assert.Contains(t, out, "# TYPE specrun_case_failures_total counter\n")
	assert.Contains(t, out, "specrun_case_failures_total 2\n")
	assert.Contains(t, out, "specrun_cases_total{state=\"errored\"} 1\n")
}

func TestWritePrometheus_Empty(t *testing.T) {
	var buf bytes.Buffer
	WritePrometheus(&buf, NewReporter().Aggregate())

	assert.Contains(t, buf.String(), "specrun_case_duration_seconds_bucket{le=\"1\"} 0\n")
	assert.Contains(t, buf.String(), "specrun_case_duration_seconds_bucket{le=\"+Inf\"} 0\n")
	assert.Contains(t, buf.String(), "specrun_case_duration_seconds_count 0\n")
	assert.Contains(t, buf.String(), "specrun_case_failures_total 0\n")
}

func TestPrometheusExporter_Pushgateway(t *testing.T) {
	var method, path, body, contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path, contentType = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := NewReporter(WithExporters(NewPrometheusExporter(WithPushgateway(server.URL))))
	require.NoError(t, r.Report(suiteResult()))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/specrun", path)
	assert.True(t, strings.HasPrefix(contentType, "text/plain"))
	assert.Contains(t, body, "specrun_case_failures_total 2")
}

func TestPrometheusExporter_PushFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad metric", http.StatusBadRequest)
	}))
	defer server.Close()

	exp := NewPrometheusExporter(WithPushgateway(server.URL))
	err := exp.Export(&Snapshot{Aggregate: NewReporter().Aggregate()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad metric")
}

func TestPushURL(t *testing.T) {
	tests := map[string]string{
		"http://gw:9091":                    "http://gw:9091/metrics/job/specrun",
		"http://gw:9091/":                   "http://gw:9091/metrics/job/specrun",
		"http://gw:9091/metrics/job/ci":     "http://gw:9091/metrics/job/ci",
		"http://gw/metrics/job/ci/branch/x": "http://gw/metrics/job/ci/branch/x",
	}
	for in, want := range tests {
		assert.Equal(t, want, pushURL(in), in)
	}
}

func TestDataDogExporter(t *testing.T) {
	var apiKey string
	var payload datadogPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("DD-API-KEY")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	exp := NewDataDogExporter(
		WithDataDogAPIKey("key-123"),
		WithDataDogEndpoint(server.URL),
		WithDataDogTags([]string{"env:ci"}),
	)
	r := NewReporter(WithExporters(exp))
	require.NoError(t, r.Report(suiteResult()))

	assert.Equal(t, "key-123", apiKey)
	require.Len(t, payload.Series, 7)

	first := payload.Series[0]
	assert.Equal(t, DurationMetric, first.Metric)
	assert.Contains(t, first.Tags, "case:list")
	assert.Contains(t, first.Tags, "env:ci")
	assert.InDelta(t, 0.1, first.Points[0][1], 1e-9)

	failures := payload.Series[3]
	assert.Equal(t, FailuresMetric, failures.Metric)
	assert.Equal(t, "count", failures.Type)
	assert.Equal(t, float64(2), failures.Points[0][1])

	assert.Equal(t, DurationMetric+".p99", payload.Series[6].Metric)
}

func TestDataDogExporter_RequiresKey(t *testing.T) {
	t.Setenv("DD_API_KEY", "")
	exp := NewDataDogExporter()
	err := exp.Export(&Snapshot{})
	assert.ErrorContains(t, err, "API key")
}

func TestDataDogExporter_Site(t *testing.T) {
	exp := NewDataDogExporter(WithDataDogAPIKey("k"), WithDataDogSite("datadoghq.eu"))
	assert.Equal(t, "https://api.datadoghq.eu/api/v1/series", exp.endpoint)
}

func TestJSONExporter_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	r := NewReporter(WithExporters(NewJSONExporter(WithJSONFile(path))))

	require.NoError(t, r.Report(suiteResult()))
	require.NoError(t, r.Report(suiteResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out JSONMetricsOutput
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Len(t, out.Cases, 6)
	assert.Equal(t, int64(6), out.Summary.Cases)
	assert.Equal(t, int64(4), out.Summary.Failures)
	assert.Equal(t, DurationMetric, out.Metrics.Duration)
	assert.Equal(t, FailuresMetric, out.Metrics.Failures)
	assert.Equal(t, CasesMetric, out.Metrics.Cases)
	assert.Equal(t, JSONFormatVersion, out.Metadata.Version)
	assert.Equal(t, []string{"run-1"}, out.Metadata.RunIDs)
}
