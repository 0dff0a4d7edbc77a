package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/core/runner"
)

// JUnitTestSuites is the root element
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr,omitempty"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Time       float64          `xml:"time,attr"`
	Timestamp  string           `xml:"timestamp,attr,omitempty"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite is one suite run
type JUnitTestSuite struct {
	XMLName    xml.Name        `xml:"testsuite"`
	Name       string          `xml:"name,attr"`
	ID         string          `xml:"id,attr,omitempty"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr,omitempty"`
	Properties []JUnitProperty `xml:"properties>property,omitempty"`
	TestCases  []JUnitTestCase `xml:"testcase"`
}

type JUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
}

// JUnitFailure is emitted for failed and errored cases alike; Type tells them apart.
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

type JUnitReporter struct {
	mu         sync.Mutex
	writer     io.Writer
	testSuites []JUnitTestSuite
}

type JUnitOption func(*JUnitReporter)

func NewJUnitReporter(opts ...JUnitOption) *JUnitReporter {
	f := &JUnitReporter{
		writer:     os.Stdout,
		testSuites: make([]JUnitTestSuite, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JUnitWithWriter(w io.Writer) JUnitOption {
	return func(f *JUnitReporter) {
		f.writer = w
	}
}

func (f *JUnitReporter) Report(result *runner.SuiteResult) error {
	className := result.Name
	if result.Path != "" {
		className = result.Path
	}

	suite := JUnitTestSuite{
		Name:      result.Name,
		ID:        result.RunID,
		Tests:     result.Total,
		Failures:  result.Failed,
		Errors:    result.Errored,
		Time:      result.Duration.Seconds(),
		Timestamp: result.StartedAt.Format(time.RFC3339),
		TestCases: make([]JUnitTestCase, 0, len(result.Steps)),
	}
	if result.Partial {
		suite.Properties = append(suite.Properties, JUnitProperty{Name: "partial", Value: "true"})
	}

	for _, s := range result.Steps {
		tc := JUnitTestCase{
			Name:      s.Name,
			ClassName: className,
			Time:      s.Latency.Seconds(),
		}

		switch s.State {
		case runner.StateFailed:
			tc.Failure = &JUnitFailure{
				Message: s.Reason,
				Type:    "AssertionError",
				Content: failureDetail(s),
			}
		case runner.StateErrored:
			tc.Failure = &JUnitFailure{
				Message: s.Reason,
				Type:    s.ErrorKind.String(),
				Content: failureDetail(s),
			}
		}

		suite.TestCases = append(suite.TestCases, tc)
	}

	f.mu.Lock()
	f.testSuites = append(f.testSuites, suite)
	f.mu.Unlock()
	return nil
}

func failureDetail(s *runner.StepResult) string {
	detail := fmt.Sprintf("%s %s", s.Method, s.URL)
	if s.StatusCode != 0 {
		detail += fmt.Sprintf(" -> %d", s.StatusCode)
	}
	if s.Attempts > 0 {
		detail += fmt.Sprintf(" (%d attempt(s))", s.Attempts)
	}
	if s.Snippet != "" {
		detail += "\n" + s.Snippet
	}
	return detail
}

// Flush writes the accumulated JUnit XML document and resets the reporter.
func (f *JUnitReporter) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	suites := JUnitTestSuites{
		Name:       "specrun",
		Timestamp:  time.Now().Format(time.RFC3339),
		TestSuites: f.testSuites,
	}
	for _, suite := range f.testSuites {
		suites.Tests += suite.Tests
		suites.Failures += suite.Failures
		suites.Errors += suite.Errors
		suites.Time += suite.Time
	}

	if _, err := io.WriteString(f.writer, xml.Header); err != nil {
		return err
	}
	encoder := xml.NewEncoder(f.writer)
	encoder.Indent("", "  ")
	if err := encoder.Encode(suites); err != nil {
		return err
	}
	f.testSuites = f.testSuites[:0]
	_, err := io.WriteString(f.writer, "\n")
	return err
}
