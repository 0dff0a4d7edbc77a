package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"
)

// JSONFormatVersion is bumped when the document layout changes
const JSONFormatVersion = "1"

// JSONExporter keeps every case exported so far and rewrites the whole
// document on each export, so the last write is always complete.
type JSONExporter struct {
	mu      sync.Mutex
	writer  io.Writer
	path    string
	indent  bool
	started time.Time
	runIDs  []string
	cases   []*CaseMetrics
}

type JSONOption func(*JSONExporter)

func WithJSONWriter(w io.Writer) JSONOption {
	return func(j *JSONExporter) {
		j.writer = w
	}
}

func WithJSONFile(path string) JSONOption {
	return func(j *JSONExporter) {
		j.path = path
	}
}

func WithJSONPretty(pretty bool) JSONOption {
	return func(j *JSONExporter) {
		j.indent = pretty
	}
}

func NewJSONExporter(opts ...JSONOption) *JSONExporter {
	j := &JSONExporter{indent: true, started: time.Now()}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// JSONMetricsOutput is the document written by JSONExporter
type JSONMetricsOutput struct {
	Metadata JSONMetadata      `json:"metadata"`
	Metrics  JSONMetricNames   `json:"metrics"`
	Summary  *AggregateMetrics `json:"summary"`
	Cases    []*CaseMetrics    `json:"cases"`
}

type JSONMetadata struct {
	Version     string    `json:"version"`
	StartedAt   time.Time `json:"started_at"`
	GeneratedAt time.Time `json:"generated_at"`
	RunIDs      []string  `json:"run_ids"`
}

type JSONMetricNames struct {
	Duration string `json:"duration"`
	Failures string `json:"failures"`
	Cases    string `json:"cases"`
}

func (j *JSONExporter) Export(s *Snapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, c := range s.Cases {
		if !slices.Contains(j.runIDs, c.RunID) {
			j.runIDs = append(j.runIDs, c.RunID)
		}
	}
	j.cases = append(j.cases, s.Cases...)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if j.indent {
		enc.SetIndent("", "  ")
	}
	err := enc.Encode(JSONMetricsOutput{
		Metadata: JSONMetadata{
			Version:     JSONFormatVersion,
			StartedAt:   j.started.UTC(),
			GeneratedAt: time.Now().UTC(),
			RunIDs:      j.runIDs,
		},
		Metrics: JSONMetricNames{Duration: DurationMetric, Failures: FailuresMetric, Cases: CasesMetric},
		Summary: s.Aggregate,
		Cases:   j.cases,
	})
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	if j.path != "" {
		if err := os.WriteFile(j.path, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
	}
	if j.writer != nil {
		if _, err := j.writer.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

func (j *JSONExporter) Close() error {
	return nil
}
