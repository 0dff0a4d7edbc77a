package output

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/core/runner"
	"github.com/fatih/color"
)

// formatValue formats a value for display, truncating long values
func formatValue(v any, maxLen int) string {
	switch val := v.(type) {
	case []any:
		return fmt.Sprintf("[array with %d items]", len(val))
	case map[string]any:
		return fmt.Sprintf("{object with %d keys}", len(val))
	}
	str := fmt.Sprintf("%v", v)
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}

type ConsoleReporter struct {
	mu      sync.Mutex
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleReporter)

func NewConsoleReporter(opts ...ConsoleOption) *ConsoleReporter {
	f := &ConsoleReporter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleReporter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleReporter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleReporter) {
		f.noColor = nc
	}
}

func (f *ConsoleReporter) Report(result *runner.SuiteResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	title := result.Name
	if result.Path != "" {
		title = result.Path
	}
	fmt.Fprintf(f.writer, "\n%s\n\n", bold("Running: "+title))

	for _, s := range result.Steps {
		symbol := green("✓")
		if s.State != runner.StatePassed {
			symbol = red("✗")
		}
		fmt.Fprintf(f.writer, "  %s %s %s", symbol, s.Name, cyan(fmt.Sprintf("(%dms)", s.Latency.Milliseconds())))
		if s.State == runner.StateErrored {
			fmt.Fprintf(f.writer, " %s", red("["+s.ErrorKind.String()+"]"))
		}
		fmt.Fprintln(f.writer)

		if f.verbose {
			fmt.Fprintf(f.writer, "    %s %s", s.Method, s.URL)
			if s.StatusCode != 0 {
				fmt.Fprintf(f.writer, " -> %d", s.StatusCode)
			}
			if s.Attempts > 1 {
				fmt.Fprintf(f.writer, " (%d attempts)", s.Attempts)
			}
			fmt.Fprintln(f.writer)
		}

		if s.State != runner.StatePassed && s.Reason != "" {
			for _, line := range strings.Split(s.Reason, "\n") {
				fmt.Fprintf(f.writer, "    %s %s\n", red("→"), strings.TrimSpace(line))
			}
			if f.verbose && s.Snippet != "" {
				fmt.Fprintf(f.writer, "      Body: %s\n", formatValue(s.Snippet, 200))
			}
		}

		if f.verbose && len(s.Captures) > 0 {
			fmt.Fprintf(f.writer, "    Captures:\n")
			names := make([]string, 0, len(s.Captures))
			for name := range s.Captures {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(f.writer, "      %s = %s\n", name, formatValue(s.Captures[name], 100))
			}
		}
	}

	fmt.Fprintln(f.writer)
	if result.Partial {
		fmt.Fprintf(f.writer, "%s\n", yellow("Run cancelled: results are partial"))
	}
	failed := result.Failed + result.Errored
	summary := fmt.Sprintf("Total: %d, Failed: %d, Time: %.2fs", result.Total, failed, result.Duration.Round(time.Millisecond).Seconds())
	if failed > 0 {
		fmt.Fprintln(f.writer, red(summary))
	} else {
		fmt.Fprintln(f.writer, green(summary))
	}
	return nil
}

func (f *ConsoleReporter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}

func (f *ConsoleReporter) FormatHeader(version string) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "%s %s\n", bold("specrun"), version)
}
