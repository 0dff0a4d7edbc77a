package assertions

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/specrun/packages/core/spec"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// AssertionFailure is an expected-versus-observed mismatch.
type AssertionFailure struct {
	Subject  string
	Expected any
	Actual   any
	Message  string
}

func (e *AssertionFailure) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("expected %s %v, got %v", e.Subject, e.Expected, e.Actual)
}

// SchemaValidationError carries every violation reported for a body.
type SchemaValidationError struct {
	Violations []string
}

func (e *SchemaValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema validation failed with %d violation(s):", len(e.Violations))
	for _, v := range e.Violations {
		b.WriteString("\n  - ")
		b.WriteString(v)
	}
	return b.String()
}

type Outcome struct {
	Passed bool
	// Err is *AssertionFailure or *SchemaValidationError when Passed is false
	Err             error
	SchemaEvaluated bool
}

func (o *Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func passed(schemaEvaluated bool) *Outcome {
	return &Outcome{Passed: true, SchemaEvaluated: schemaEvaluated}
}

func failed(err error, schemaEvaluated bool) *Outcome {
	return &Outcome{Err: err, SchemaEvaluated: schemaEvaluated}
}

// Evaluate judges a received response. A status mismatch fails immediately and
// the schema is not evaluated. With neither status nor schema the case passes.
func Evaluate(expect spec.Expect, status int, body []byte) *Outcome {
	switch expect.Kind {
	case spec.ExpectNone:
		return passed(false)
	case spec.ExpectStatus:
		if err := checkStatus(expect.Status, status); err != nil {
			return failed(err, false)
		}
		return passed(false)
	case spec.ExpectSchema:
		return checkSchema(expect.Schema, body)
	case spec.ExpectStatusAndSchema:
		if err := checkStatus(expect.Status, status); err != nil {
			return failed(err, false)
		}
		return checkSchema(expect.Schema, body)
	default:
		return failed(fmt.Errorf("unknown expectation kind %s", expect.Kind), false)
	}
}

func checkStatus(expected, actual int) error {
	if expected == actual {
		return nil
	}
	return &AssertionFailure{
		Subject:  "status",
		Expected: expected,
		Actual:   actual,
		Message:  fmt.Sprintf("expected status %d, got %d", expected, actual),
	}
}

func checkSchema(schema *gojsonschema.Schema, body []byte) *Outcome {
	if schema == nil {
		return failed(fmt.Errorf("schema expectation without a compiled schema"), false)
	}
	if !gjson.ValidBytes(body) {
		return failed(&AssertionFailure{
			Subject:  "body",
			Expected: "JSON",
			Actual:   fmt.Sprintf("%d byte(s) of non-JSON", len(body)),
			Message:  "response body is not valid JSON",
		}, true)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return failed(fmt.Errorf("schema validation error: %w", err), true)
	}
	if result.Valid() {
		return passed(true)
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return failed(&SchemaValidationError{Violations: violations}, true)
}
