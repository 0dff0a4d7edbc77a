package output

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/core/runner"
)

// JSONOutput is the complete JSON document
type JSONOutput struct {
	Summary JSONSummary `json:"summary"`
	Suites  []JSONSuite `json:"suites"`
	Time    string      `json:"time"`
}

type JSONSummary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Errored  int     `json:"errored"`
	Duration float64 `json:"duration"`
}

type JSONSuite struct {
	Name     string     `json:"name"`
	File     string     `json:"file,omitempty"`
	RunID    string     `json:"runId"`
	Partial  bool       `json:"partial,omitempty"`
	Duration float64    `json:"duration"`
	Tests    []JSONTest `json:"tests"`
}

// JSONTest is a single case result. Durations are in milliseconds.
type JSONTest struct {
	Name       string         `json:"name"`
	State      string         `json:"state"`
	ErrorKind  string         `json:"errorKind,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Method     string         `json:"method"`
	URL        string         `json:"url"`
	StatusCode int            `json:"statusCode,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`
	Duration   float64        `json:"duration"`
	Captures   map[string]any `json:"captures,omitempty"`
}

type JSONReporter struct {
	mu     sync.Mutex
	writer io.Writer
	suites []JSONSuite
}

type JSONOption func(*JSONReporter)

func NewJSONReporter(opts ...JSONOption) *JSONReporter {
	f := &JSONReporter{
		writer: os.Stdout,
		suites: make([]JSONSuite, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONReporter) {
		f.writer = w
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func (f *JSONReporter) Report(result *runner.SuiteResult) error {
	suite := JSONSuite{
		Name:     result.Name,
		File:     result.Path,
		RunID:    result.RunID,
		Partial:  result.Partial,
		Duration: milliseconds(result.Duration),
		Tests:    make([]JSONTest, 0, len(result.Steps)),
	}

	for _, s := range result.Steps {
		test := JSONTest{
			Name:       s.Name,
			State:      s.State.String(),
			ErrorKind:  s.ErrorKind.String(),
			Reason:     s.Reason,
			Method:     s.Method,
			URL:        s.URL,
			StatusCode: s.StatusCode,
			Attempts:   s.Attempts,
			Duration:   milliseconds(s.Latency),
		}
		if len(s.Captures) > 0 {
			test.Captures = s.Captures
		}
		suite.Tests = append(suite.Tests, test)
	}

	f.mu.Lock()
	f.suites = append(f.suites, suite)
	f.mu.Unlock()
	return nil
}

// Flush writes the accumulated JSON document and resets the reporter.
func (f *JSONReporter) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	output := JSONOutput{
		Suites: f.suites,
		Time:   time.Now().Format(time.RFC3339),
	}
	for _, suite := range f.suites {
		output.Summary.Duration += suite.Duration
		for _, t := range suite.Tests {
			output.Summary.Total++
			switch t.State {
			case runner.StatePassed.String():
				output.Summary.Passed++
			case runner.StateFailed.String():
				output.Summary.Failed++
			case runner.StateErrored.String():
				output.Summary.Errored++
			}
		}
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		return err
	}
	f.suites = f.suites[:0]
	return nil
}
