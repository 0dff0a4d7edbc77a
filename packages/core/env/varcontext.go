package env

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/specrun/packages/builtin"
	"github.com/abdul-hamid-achik/specrun/packages/capture"
	"github.com/abdul-hamid-achik/specrun/packages/http"
)

// placeholderPattern matches {expr}. An opening quote or whitespace is excluded so JSON text is left alone.
var placeholderPattern = regexp.MustCompile(`\{([^{}"\s][^{}]*)\}`)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// WarnFunc is a function type for handling warnings
type WarnFunc func(format string, args ...any)

func IsIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// UnresolvedVariableError lists every placeholder name that had no value.
type UnresolvedVariableError struct {
	Names []string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variable(s): %s", strings.Join(e.Names, ", "))
}

type CaptureError struct {
	Path string
	Name string
	Err  error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s into %q: %v", e.Path, e.Name, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// VarContext is the variable store for one suite run. Defaults are read-only;
// captures are written by Capture and shadow defaults of the same name.
type VarContext struct {
	mu       sync.RWMutex
	defaults map[string]any
	captures map[string]any
	funcs    *builtin.Registry
	lookup   func(string) (string, bool)
	warnFunc WarnFunc
}

func NewVarContext(defaults map[string]any) *VarContext {
	c := &VarContext{
		defaults: make(map[string]any, len(defaults)),
		captures: make(map[string]any),
		funcs:    builtin.NewRegistry(),
		lookup:   os.LookupEnv,
	}
	for k, v := range defaults {
		c.defaults[k] = v
	}
	return c
}

// SetWarnFunc sets a function to be called when a capture shadows a default
func (c *VarContext) SetWarnFunc(fn WarnFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnFunc = fn
}

func (c *VarContext) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

func (c *VarContext) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.get(name)
}

func (c *VarContext) get(name string) (any, bool) {
	if v, ok := c.captures[name]; ok {
		return v, true
	}
	v, ok := c.defaults[name]
	return v, ok
}

// Snapshot returns a copy of every visible variable.
func (c *VarContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.defaults)+len(c.captures))
	for k, v := range c.defaults {
		out[k] = v
	}
	for k, v := range c.captures {
		out[k] = v
	}
	return out
}

// Capture extracts path from resp and stores it under name, last write wins.
func (c *VarContext) Capture(path capture.Path, name string, resp *http.Response) error {
	if resp == nil {
		return &CaptureError{Path: path.Raw, Name: name, Err: fmt.Errorf("no response")}
	}
	value, err := path.Extract(resp)
	if err != nil {
		return &CaptureError{Path: path.Raw, Name: name, Err: err}
	}

	c.mu.Lock()
	_, shadows := c.defaults[name]
	c.captures[name] = value
	warn := c.warnFunc
	c.mu.Unlock()

	if shadows && warn != nil {
		warn("capture %q shadows a configured variable", name)
	}
	return nil
}

// References returns the variable names a template reads, in order of first use.
// Environment lookups and function calls are not variables.
func (c *VarContext) References(template string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		expr := strings.TrimSpace(m[1])
		if IsIdentifier(expr) && !seen[expr] {
			seen[expr] = true
			names = append(names, expr)
		}
	}
	return names
}

// Resolve substitutes every placeholder with the string form of its value.
func (c *VarContext) Resolve(template string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r := &resolution{ctx: c}
	out := r.interpolate(template)
	return out, r.err()
}

// ResolveValue walks a structured body. A string that is exactly one placeholder
// becomes the typed value; other strings are interpolated. The input is not modified.
func (c *VarContext) ResolveValue(v any) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r := &resolution{ctx: c}
	out := r.walk(v)
	return out, r.err()
}

type resolution struct {
	ctx     *VarContext
	missing []string
	failure error
}

func (r *resolution) err() error {
	if r.failure != nil {
		return r.failure
	}
	if len(r.missing) > 0 {
		return &UnresolvedVariableError{Names: r.missing}
	}
	return nil
}

func (r *resolution) walk(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.walk(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.walk(item)
		}
		return out
	case string:
		loc := placeholderPattern.FindStringSubmatchIndex(val)
		if loc != nil && loc[0] == 0 && loc[1] == len(val) {
			if typed, ok := r.lookup(strings.TrimSpace(val[loc[2]:loc[3]])); ok {
				return typed
			}
			return val
		}
		return r.interpolate(val)
	default:
		return v
	}
}

func (r *resolution) interpolate(template string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		expr := strings.TrimSpace(match[1 : len(match)-1])
		if v, ok := r.lookup(expr); ok {
			return Stringify(v)
		}
		return match
	})
}

// lookup evaluates one placeholder expression. Expressions that are not
// identifiers, $ENV names or function calls are left verbatim.
func (r *resolution) lookup(expr string) (any, bool) {
	switch {
	case strings.HasPrefix(expr, "$") && IsIdentifier(expr[1:]):
		if v, ok := r.ctx.lookup(expr[1:]); ok {
			return v, true
		}
		r.miss(expr)
		return nil, false
	case builtin.IsCall(expr):
		v, ok, err := r.ctx.funcs.Call(expr)
		if !ok {
			r.miss(expr)
			return nil, false
		}
		if err != nil && r.failure == nil {
			r.failure = fmt.Errorf("template function: %w", err)
		}
		return v, err == nil
	case IsIdentifier(expr):
		if v, ok := r.ctx.get(expr); ok {
			return v, true
		}
		r.miss(expr)
		return nil, false
	default:
		return nil, false
	}
}

func (r *resolution) miss(name string) {
	for _, n := range r.missing {
		if n == name {
			return
		}
	}
	r.missing = append(r.missing, name)
}

// Stringify renders a value for URL, header and query contexts.
// Numbers keep their literal text and structured values become compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case json.RawMessage:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
