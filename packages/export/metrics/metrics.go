// Package metrics exports case latency and failure counts from suite results.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/abdul-hamid-achik/specrun/packages/core/env"
	"github.com/abdul-hamid-achik/specrun/packages/core/runner"
)

const (
	// DurationMetric is the latency series, one observation per case
	DurationMetric = "specrun_case_duration_seconds"
	// FailuresMetric counts failed and errored cases
	FailuresMetric = "specrun_case_failures_total"
	// CasesMetric counts cases by final state
	CasesMetric = "specrun_cases_total"

	// histogram range in microseconds: 1us to 10m
	minLatencyUs = 1
	maxLatencyUs = 600_000_000
)

// DurationBuckets are the upper bounds, in seconds, of the latency histogram buckets.
var DurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Bucket is a cumulative histogram bucket: Count cases took at most UpperSeconds.
type Bucket struct {
	UpperSeconds float64 `json:"le"`
	Count        int64   `json:"count"`
}

// CaseMetrics is the observation recorded for one case
type CaseMetrics struct {
	Suite           string    `json:"suite"`
	RunID           string    `json:"run_id"`
	Case            string    `json:"case"`
	Method          string    `json:"method"`
	URL             string    `json:"url"`
	StatusCode      int       `json:"status_code,omitempty"`
	State           string    `json:"state"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	Attempts        int       `json:"attempts"`
	DurationSeconds float64   `json:"duration_seconds"`
	Failed          bool      `json:"failed"`
	Timestamp       time.Time `json:"timestamp"`
}

// AggregateMetrics summarises every case recorded so far
type AggregateMetrics struct {
	Cases       int64            `json:"cases"`
	Failures    int64            `json:"failures"`
	SumSeconds  float64          `json:"sum_seconds"`
	MinSeconds  float64          `json:"min_seconds"`
	MaxSeconds  float64          `json:"max_seconds"`
	MeanSeconds float64          `json:"mean_seconds"`
	P50Seconds  float64          `json:"p50_seconds"`
	P95Seconds  float64          `json:"p95_seconds"`
	P99Seconds  float64          `json:"p99_seconds"`
	ByState     map[string]int64 `json:"by_state"`
	StatusCodes map[int]int64    `json:"status_codes,omitempty"`
	Buckets     []Bucket         `json:"buckets"`
}

// Snapshot carries the cases of one suite run and the running aggregate.
type Snapshot struct {
	Cases     []*CaseMetrics
	Aggregate *AggregateMetrics
}

// Exporter is the interface for metrics sinks
type Exporter interface {
	// Export sends one snapshot to the target destination
	Export(s *Snapshot) error

	// Close flushes any buffered data
	Close() error
}

// Reporter records every case of every suite result and hands a snapshot to
// each exporter. Exporter failures are reported through the warning callback.
type Reporter struct {
	mu          sync.Mutex
	histogram   *hdrhistogram.Histogram
	failures    int64
	sum         float64
	byState     map[string]int64
	statusCodes map[int]int64
	exporters   []Exporter
	warnFunc    env.WarnFunc
}

type Option func(*Reporter)

func WithExporters(exporters ...Exporter) Option {
	return func(r *Reporter) {
		r.exporters = append(r.exporters, exporters...)
	}
}

func WithWarnFunc(fn env.WarnFunc) Option {
	return func(r *Reporter) {
		r.warnFunc = fn
	}
}

func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{
		histogram:   hdrhistogram.New(minLatencyUs, maxLatencyUs, 3),
		byState:     make(map[string]int64),
		statusCodes: make(map[int]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reporter) warn(format string, args ...any) {
	if r.warnFunc != nil {
		r.warnFunc(format, args...)
	}
}

// Report records the result and exports it. It never returns an error.
func (r *Reporter) Report(result *runner.SuiteResult) error {
	snapshot := r.record(result)

	for _, exp := range r.exporters {
		if err := exp.Export(snapshot); err != nil {
			r.warn("metrics: %v", err)
		}
	}
	return nil
}

func (r *Reporter) record(result *runner.SuiteResult) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cases := make([]*CaseMetrics, 0, len(result.Steps))
	for _, s := range result.Steps {
		failed := s.State != runner.StatePassed
		m := &CaseMetrics{
			Suite:           result.Name,
			RunID:           result.RunID,
			Case:            s.Name,
			Method:          s.Method,
			URL:             s.URL,
			StatusCode:      s.StatusCode,
			State:           s.State.String(),
			ErrorKind:       s.ErrorKind.String(),
			Attempts:        s.Attempts,
			DurationSeconds: s.Latency.Seconds(),
			Failed:          failed,
			Timestamp:       now,
		}
		cases = append(cases, m)

		us := s.Latency.Microseconds()
		if us < minLatencyUs {
			us = minLatencyUs
		}
		if us > maxLatencyUs {
			us = maxLatencyUs
		}
		_ = r.histogram.RecordValue(us)
		r.sum += m.DurationSeconds
		if failed {
			r.failures++
		}
		r.byState[m.State]++
		if s.StatusCode != 0 {
			r.statusCodes[s.StatusCode]++
		}
	}

	return &Snapshot{Cases: cases, Aggregate: r.aggregateLocked()}
}

// Aggregate returns a copy of the running totals.
func (r *Reporter) Aggregate() *AggregateMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aggregateLocked()
}

func (r *Reporter) aggregateLocked() *AggregateMetrics {
	agg := &AggregateMetrics{
		Cases:       r.histogram.TotalCount(),
		Failures:    r.failures,
		SumSeconds:  r.sum,
		ByState:     make(map[string]int64, len(r.byState)),
		StatusCodes: make(map[int]int64, len(r.statusCodes)),
	}
	for k, v := range r.byState {
		agg.ByState[k] = v
	}
	for k, v := range r.statusCodes {
		agg.StatusCodes[k] = v
	}
	if agg.Cases > 0 {
		agg.MinSeconds = microsToSeconds(r.histogram.Min())
		agg.MaxSeconds = microsToSeconds(r.histogram.Max())
		agg.MeanSeconds = r.histogram.Mean() / 1e6
		agg.P50Seconds = microsToSeconds(r.histogram.ValueAtQuantile(50))
		agg.P95Seconds = microsToSeconds(r.histogram.ValueAtQuantile(95))
		agg.P99Seconds = microsToSeconds(r.histogram.ValueAtQuantile(99))
	}

	dist := r.histogram.Distribution()
	agg.Buckets = make([]Bucket, len(DurationBuckets))
	for i, le := range DurationBuckets {
		bound := int64(le * 1e6)
		var n int64
		for _, bar := range dist {
			if bar.Count > 0 && bar.From <= bound {
				n += bar.Count
			}
		}
		agg.Buckets[i] = Bucket{UpperSeconds: le, Count: n}
	}
	return agg
}

func microsToSeconds(us int64) float64 {
	return float64(us) / 1e6
}

// Close closes all exporters and returns the first error.
func (r *Reporter) Close() error {
	var first error
	for _, exp := range r.exporters {
		if err := exp.Close(); err != nil && first == nil {
			first = fmt.Errorf("closing metrics exporter: %w", err)
		}
	}
	return first
}
