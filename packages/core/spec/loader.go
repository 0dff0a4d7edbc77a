package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/specrun/packages/capture"
	"github.com/abdul-hamid-achik/specrun/packages/core/env"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

var validMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"OPTIONS": true,
	"TRACE":   true,
	"CONNECT": true,
}

// SpecError reports a malformed document. Index is -1 for document-level problems.
type SpecError struct {
	Path    string
	Index   int
	Field   string
	Message string
}

func (e *SpecError) Error() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path)
	} else {
		b.WriteString("<input>")
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, ": case %d", e.Index)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

type rawSuite struct {
	Name  string    `yaml:"name"`
	Cases []rawCase `yaml:"cases"`
}

type rawCase struct {
	Name      string      `yaml:"name"`
	Request   *rawRequest `yaml:"request"`
	Expect    *rawExpect  `yaml:"expect"`
	DependsOn []string    `yaml:"dependsOn"`
}

type rawRequest struct {
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	JSON    yaml.Node         `yaml:"json"`
	Query   map[string]string `yaml:"query"`
	Timeout string            `yaml:"timeout"`
}

type rawExpect struct {
	Status *int      `yaml:"status"`
	Schema yaml.Node `yaml:"schema"`
	Save   yaml.Node `yaml:"save"`
}

type Loader struct {
	warnFunc env.WarnFunc
}

type Option func(*Loader)

// WithWarnFunc receives non-fatal findings such as duplicate case names.
func WithWarnFunc(fn env.WarnFunc) Option {
	return func(l *Loader) {
		l.warnFunc = fn
	}
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) warn(format string, args ...any) {
	if l.warnFunc != nil {
		l.warnFunc(format, args...)
	}
}

func Load(data []byte, path string) (*Suite, error) {
	return NewLoader().Load(data, path)
}

func LoadFile(path string) (*Suite, error) {
	return NewLoader().LoadFile(path)
}

func (l *Loader) LoadFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	return l.Load(data, path)
}

// Load decodes and validates a document. Nothing is resolved against variables here.
func (l *Loader) Load(data []byte, path string) (*Suite, error) {
	docErr := func(format string, args ...any) error {
		return &SpecError{Path: path, Index: -1, Message: fmt.Sprintf(format, args...)}
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, docErr("%v", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, docErr("empty document")
	}

	var (
		raw   rawSuite
		cases *yaml.Node
	)
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		cases = root
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			key, value := root.Content[i], root.Content[i+1]
			switch key.Value {
			case "name":
				if err := value.Decode(&raw.Name); err != nil {
					return nil, &SpecError{Path: path, Index: -1, Field: "name", Message: err.Error()}
				}
			case "cases":
				cases = value
			default:
				return nil, &SpecError{Path: path, Index: -1, Field: key.Value, Message: "unknown field"}
			}
		}
	default:
		return nil, docErr("document must be a list of cases")
	}

	if cases != nil && cases.Kind != yaml.SequenceNode && cases.Tag != "!!null" {
		return nil, &SpecError{Path: path, Index: -1, Field: "cases", Message: "cases must be a list"}
	}
	if cases != nil && cases.Kind == yaml.SequenceNode {
		raw.Cases = make([]rawCase, len(cases.Content))
		for i, node := range cases.Content {
			if field, ok := unknownField(node, ""); ok {
				return nil, &SpecError{Path: path, Index: i, Field: field, Message: "unknown field"}
			}
			if err := node.Decode(&raw.Cases[i]); err != nil {
				return nil, &SpecError{Path: path, Index: i, Message: err.Error()}
			}
		}
	}

	if len(raw.Cases) == 0 {
		return nil, docErr("suite has no cases")
	}

	suite := &Suite{
		Name: raw.Name,
		Path: path,
	}
	if suite.Name == "" {
		suite.Name = suiteName(path)
	}

	seen := make(map[string][]int)
	for i := range raw.Cases {
		c, err := l.buildCase(&raw.Cases[i], i, path, seen)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[c.Name]; dup {
			l.warn("%s: case %d reuses the name %q of case %d", displayPath(path), i, c.Name, prev[0])
		}
		seen[c.Name] = append(seen[c.Name], i)
		suite.Cases = append(suite.Cases, c)
	}

	return suite, nil
}

// caseFields lists the keys a case mapping may hold, per nesting level.
var caseFields = map[string][]string{
	"":        {"name", "request", "expect", "dependsOn"},
	"request": {"method", "url", "headers", "json", "query", "timeout"},
	"expect":  {"status", "schema", "save"},
}

// unknownField returns the dotted path of the first key of a case that is not
// part of the document format.
func unknownField(node *yaml.Node, prefix string) (string, bool) {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind != yaml.MappingNode {
		return "", false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		field := key
		if prefix != "" {
			field = prefix + "." + key
		}
		if !slices.Contains(caseFields[prefix], key) {
			return field, true
		}
		if _, nested := caseFields[key]; nested && prefix == "" && key != "" {
			if f, ok := unknownField(node.Content[i+1], key); ok {
				return f, true
			}
		}
	}
	return "", false
}

func (l *Loader) buildCase(raw *rawCase, index int, path string, earlier map[string][]int) (*Case, error) {
	fail := func(field, format string, args ...any) error {
		return &SpecError{Path: path, Index: index, Field: field, Message: fmt.Sprintf(format, args...)}
	}

	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return nil, fail("name", "name is required")
	}
	if raw.Request == nil {
		return nil, fail("request", "request is required")
	}

	req := raw.Request
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if !validMethods[method] {
		return nil, fail("request.method", "unsupported method %q", req.Method)
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return nil, fail("request.url", "url is required")
	}

	c := &Case{
		Index: index,
		Name:  name,
		Request: RequestSpec{
			Method:  method,
			URL:     url,
			Headers: req.Headers,
			Query:   req.Query,
		},
	}

	if req.JSON.Kind != 0 {
		var body any
		if err := req.JSON.Decode(&body); err != nil {
			return nil, fail("request.json", "%v", err)
		}
		c.Request.Body = normalize(body)
		c.Request.HasBody = true
	}

	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			return nil, fail("request.timeout", "%v", err)
		}
		if d <= 0 {
			return nil, fail("request.timeout", "timeout must be positive, got %s", d)
		}
		c.Request.Timeout = d
	}

	if raw.Expect != nil {
		expect, err := buildExpect(raw.Expect, path, fail)
		if err != nil {
			return nil, err
		}
		c.Expect = expect
	}

	for _, dep := range raw.DependsOn {
		if dep == name {
			return nil, fail("dependsOn", "case cannot depend on itself")
		}
		if _, ok := earlier[dep]; !ok {
			return nil, fail("dependsOn", "%q does not name an earlier case", dep)
		}
		c.DependsOn = append(c.DependsOn, dep)
	}

	return c, nil
}

func buildExpect(raw *rawExpect, path string, fail func(field, format string, args ...any) error) (Expect, error) {
	var expect Expect

	hasStatus := raw.Status != nil
	if hasStatus {
		if *raw.Status < 100 || *raw.Status > 599 {
			return expect, fail("expect.status", "status %d is outside 100..599", *raw.Status)
		}
		expect.Status = *raw.Status
	}

	hasSchema := raw.Schema.Kind != 0 && raw.Schema.ShortTag() != "!!null"
	if hasSchema {
		schema, source, err := compileSchema(&raw.Schema, path)
		if err != nil {
			return expect, fail("expect.schema", "%v", err)
		}
		expect.Schema = schema
		expect.SchemaSource = source
	}

	expect.Kind = kindOf(hasStatus, hasSchema)

	if raw.Save.Kind != 0 && raw.Save.ShortTag() != "!!null" {
		if raw.Save.Kind != yaml.MappingNode {
			return expect, fail("expect.save", "save must map extraction paths to variable names")
		}
		for i := 0; i+1 < len(raw.Save.Content); i += 2 {
			key, value := raw.Save.Content[i], raw.Save.Content[i+1]
			if key.Kind != yaml.ScalarNode || value.Kind != yaml.ScalarNode {
				return expect, fail("expect.save", "line %d: path and variable name must be scalars", key.Line)
			}
			p, err := capture.Parse(key.Value)
			if err != nil {
				return expect, fail("expect.save", "%v", err)
			}
			if !env.IsIdentifier(value.Value) {
				return expect, fail("expect.save", "%q is not a valid variable name", value.Value)
			}
			expect.Save = append(expect.Save, Save{Path: p, Name: value.Value})
		}
	}

	return expect, nil
}

// compileSchema accepts an inline schema document or a path relative to the suite file.
func compileSchema(node *yaml.Node, specPath string) (*gojsonschema.Schema, string, error) {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!str" {
		file := node.Value
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(specPath), file)
		}
		abs, err := filepath.Abs(file)
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve schema path: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, "", fmt.Errorf("schema file: %w", err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs)))
		if err != nil {
			return nil, "", fmt.Errorf("invalid schema %s: %w", node.Value, err)
		}
		return schema, file, nil
	}

	var doc any
	if err := node.Decode(&doc); err != nil {
		return nil, "", err
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(normalize(doc)))
	if err != nil {
		return nil, "", fmt.Errorf("invalid schema: %w", err)
	}
	return schema, "", nil
}

// normalize converts YAML-decoded values into JSON-compatible ones.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalize(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = normalize(item)
		}
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}

func suiteName(path string) string {
	if path == "" {
		return "suite"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func displayPath(path string) string {
	if path == "" {
		return "<input>"
	}
	return path
}
