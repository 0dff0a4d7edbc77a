package runner

import (
	"fmt"
	"time"
)

type State int

const (
	StatePending State = iota
	StateRunning
	StatePassed
	StateFailed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePassed || s == StateFailed || s == StateErrored
}

// ErrorKind classifies why an errored case never produced a verdict.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorUnresolved
	ErrorTransport
	ErrorTimeout
	ErrorCancelled
	ErrorRequest
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return ""
	case ErrorUnresolved:
		return "UnresolvedVariable"
	case ErrorTransport:
		return "Transport"
	case ErrorTimeout:
		return "Timeout"
	case ErrorCancelled:
		return "Cancelled"
	case ErrorRequest:
		return "Request"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

type StepResult struct {
	Index     int
	Name      string
	State     State
	Reason    string
	Err       error
	ErrorKind ErrorKind

	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Latency    time.Duration
	Snippet    string
	Captures   map[string]any
}

func (s *StepResult) pass() {
	s.State = StatePassed
}

func (s *StepResult) fail(err error) {
	s.State = StateFailed
	s.Err = err
	s.Reason = err.Error()
}

func (s *StepResult) errored(kind ErrorKind, err error) {
	s.State = StateErrored
	s.ErrorKind = kind
	s.Err = err
	s.Reason = err.Error()
}

type SuiteResult struct {
	Name      string
	Path      string
	RunID     string
	Steps     []*StepResult
	Total     int
	Passed    int
	Failed    int
	Errored   int
	StartedAt time.Time
	Duration  time.Duration
	// Partial is set when the run was cancelled before every case finished
	Partial bool
}

// OK reports whether every case passed.
func (r *SuiteResult) OK() bool {
	return r.Failed+r.Errored == 0
}

func (r *SuiteResult) tally() {
	r.Total = len(r.Steps)
	r.Passed, r.Failed, r.Errored = 0, 0, 0
	for _, s := range r.Steps {
		switch s.State {
		case StatePassed:
			r.Passed++
		case StateFailed:
			r.Failed++
		case StateErrored:
			r.Errored++
		}
	}
}
