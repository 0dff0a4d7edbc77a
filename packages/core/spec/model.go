package spec

import (
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/capture"
	"github.com/xeipuuv/gojsonschema"
)

// Suite is an ordered, validated set of cases loaded from one document.
// Insertion order is the start order and the implicit dependency order.
type Suite struct {
	Name  string
	Path  string
	Cases []*Case
}

type Case struct {
	Index     int
	Name      string
	Request   RequestSpec
	Expect    Expect
	DependsOn []string
}

type RequestSpec struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	// Body is the structured JSON body; HasBody distinguishes an explicit null from no body
	Body    any
	HasBody bool
	Timeout time.Duration
}

// Templates returns every string in the request that may carry placeholders.
func (r *RequestSpec) Templates() []string {
	out := []string{r.URL}
	for _, v := range r.Headers {
		out = append(out, v)
	}
	for _, v := range r.Query {
		out = append(out, v)
	}
	if r.HasBody {
		out = appendStrings(out, r.Body)
	}
	return out
}

func appendStrings(out []string, v any) []string {
	switch val := v.(type) {
	case string:
		out = append(out, val)
	case map[string]any:
		for _, item := range val {
			out = appendStrings(out, item)
		}
	case []any:
		for _, item := range val {
			out = appendStrings(out, item)
		}
	}
	return out
}

type ExpectKind int

const (
	ExpectNone ExpectKind = iota
	ExpectStatus
	ExpectSchema
	ExpectStatusAndSchema
)

func (k ExpectKind) String() string {
	switch k {
	case ExpectNone:
		return "none"
	case ExpectStatus:
		return "status"
	case ExpectSchema:
		return "schema"
	case ExpectStatusAndSchema:
		return "status+schema"
	default:
		return fmt.Sprintf("ExpectKind(%d)", int(k))
	}
}

type Expect struct {
	Kind   ExpectKind
	Status int
	Schema *gojsonschema.Schema
	// SchemaSource is the file the schema came from, empty when inline
	SchemaSource string
	Save         []Save
}

func (e Expect) HasStatus() bool {
	return e.Kind == ExpectStatus || e.Kind == ExpectStatusAndSchema
}

func (e Expect) HasSchema() bool {
	return e.Kind == ExpectSchema || e.Kind == ExpectStatusAndSchema
}

// Save binds an extraction path to a variable name. Saves keep document order.
type Save struct {
	Path capture.Path
	Name string
}

func kindOf(hasStatus, hasSchema bool) ExpectKind {
	switch {
	case hasStatus && hasSchema:
		return ExpectStatusAndSchema
	case hasStatus:
		return ExpectStatus
	case hasSchema:
		return ExpectSchema
	default:
		return ExpectNone
	}
}
