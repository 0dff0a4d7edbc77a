package metrics

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// DefaultPushJob is the Pushgateway job label used when the URL names none
const DefaultPushJob = "specrun"

// PrometheusExporter writes the running aggregate in the Prometheus text
// exposition format, to a writer and/or a Pushgateway.
type PrometheusExporter struct {
	writer  io.Writer
	pushURL string
	client  *http.Client
}

type PrometheusOption func(*PrometheusExporter)

// WithPrometheusWriter sets the output writer for Prometheus metrics
func WithPrometheusWriter(w io.Writer) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.writer = w
	}
}

// WithPushgateway pushes every snapshot to the gateway at url.
// A bare gateway address gets /metrics/job/specrun appended.
func WithPushgateway(url string) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.pushURL = pushURL(url)
	}
}

func NewPrometheusExporter(opts ...PrometheusOption) *PrometheusExporter {
	p := &PrometheusExporter{
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func pushURL(raw string) string {
	raw = strings.TrimRight(raw, "/")
	if strings.Contains(raw, "/metrics/job/") {
		return raw
	}
	return raw + "/metrics/job/" + DefaultPushJob
}

func (p *PrometheusExporter) Export(s *Snapshot) error {
	var buf bytes.Buffer
	WritePrometheus(&buf, s.Aggregate)

	if p.writer != nil {
		if _, err := p.writer.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	if p.pushURL == "" {
		return nil
	}

	// PUT replaces every metric of the grouping key.
	req, err := http.NewRequest(http.MethodPut, p.pushURL, &buf)
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushgateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// WritePrometheus writes agg as a latency histogram, a failure counter and per-state counts.
func WritePrometheus(w io.Writer, agg *AggregateMetrics) {
	fmt.Fprintf(w, "# HELP %s Case latency in seconds, retries included\n", DurationMetric)
	fmt.Fprintf(w, "# TYPE %s histogram\n", DurationMetric)
	for _, b := range agg.Buckets {
		fmt.Fprintf(w, "%s_bucket{le=\"%g\"} %d\n", DurationMetric, b.UpperSeconds, b.Count)
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", DurationMetric, agg.Cases)
	fmt.Fprintf(w, "%s_sum %g\n", DurationMetric, agg.SumSeconds)
	fmt.Fprintf(w, "%s_count %d\n", DurationMetric, agg.Cases)

	fmt.Fprintf(w, "# HELP %s Cases that failed or errored\n", FailuresMetric)
	fmt.Fprintf(w, "# TYPE %s counter\n", FailuresMetric)
	fmt.Fprintf(w, "%s %d\n", FailuresMetric, agg.Failures)

	if len(agg.ByState) > 0 {
		fmt.Fprintf(w, "# HELP %s Cases by final state\n", CasesMetric)
		fmt.Fprintf(w, "# TYPE %s counter\n", CasesMetric)

		states := make([]string, 0, len(agg.ByState))
		for state := range agg.ByState {
			states = append(states, state)
		}
		sort.Strings(states)
		for _, state := range states {
			fmt.Fprintf(w, "%s{state=\"%s\"} %d\n", CasesMetric, sanitizeLabel(state), agg.ByState[state])
		}
	}
}

// sanitizeLabel makes a string safe for use as a Prometheus label value
func sanitizeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func (p *PrometheusExporter) Close() error {
	return nil
}
