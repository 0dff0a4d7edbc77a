package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/specrun/packages/http"
	"github.com/tidwall/gjson"
)

var (
	ErrNotFound = errors.New("path not found")
	ErrNotJSON  = errors.New("response body is not JSON")
)

type Source int

const (
	SourceBody Source = iota
	SourceHeader
	SourceStatus
)

// Path is a parsed extraction path. Expr is the gjson form for body paths,
// the header name for header paths, and empty for the whole body or status.
type Path struct {
	Raw    string
	Source Source
	Expr   string
}

// Parse accepts $.a.b[0].c, $, /a/b/0/c, gjson syntax, header:<Name> and status:.
// A bare "status" is a body key like any other gjson path.
func Parse(raw string) (Path, error) {
	p := Path{Raw: raw}
	trimmed := strings.TrimSpace(raw)

	switch {
	case trimmed == "":
		return p, fmt.Errorf("empty extraction path")
	case strings.HasPrefix(trimmed, "status:"):
		if strings.TrimSpace(strings.TrimPrefix(trimmed, "status:")) != "" {
			return p, fmt.Errorf("extraction path %q: status: takes no name", raw)
		}
		p.Source = SourceStatus
		return p, nil
	case strings.HasPrefix(trimmed, "header:"):
		name := strings.TrimSpace(strings.TrimPrefix(trimmed, "header:"))
		if name == "" {
			return p, fmt.Errorf("extraction path %q: empty header name", raw)
		}
		p.Source = SourceHeader
		p.Expr = name
		return p, nil
	case trimmed == "$":
		return p, nil
	case strings.HasPrefix(trimmed, "$"):
		expr, err := fromJSONPath(trimmed)
		if err != nil {
			return p, fmt.Errorf("extraction path %q: %w", raw, err)
		}
		p.Expr = expr
		return p, nil
	case strings.HasPrefix(trimmed, "/"):
		p.Expr = fromPointer(trimmed)
		return p, nil
	default:
		p.Expr = trimmed
		return p, nil
	}
}

// fromJSONPath converts the dotted/bracketed $ subset into gjson syntax.
func fromJSONPath(s string) (string, error) {
	var segments []string
	i := 1
	for i < len(s) {
		switch s[i] {
		case '.':
			j := i + 1
			for j < len(s) && s[j] != '.' && s[j] != '[' {
				j++
			}
			if j == i+1 {
				return "", fmt.Errorf("empty segment at offset %d", i)
			}
			segments = append(segments, escapeKey(s[i+1:j]))
			i = j
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return "", fmt.Errorf("unterminated bracket at offset %d", i)
			}
			inner := s[i+1 : i+end]
			if unq, err := strconv.Unquote(strings.ReplaceAll(inner, "'", `"`)); err == nil {
				segments = append(segments, escapeKey(unq))
			} else if _, err := strconv.Atoi(inner); err == nil {
				segments = append(segments, inner)
			} else {
				return "", fmt.Errorf("unsupported index %q", inner)
			}
			i += end + 1
		default:
			return "", fmt.Errorf("unexpected %q at offset %d", s[i], i)
		}
	}
	return strings.Join(segments, "."), nil
}

func fromPointer(s string) string {
	parts := strings.Split(s[1:], "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		parts[i] = escapeKey(part)
	}
	return strings.Join(parts, ".")
}

func escapeKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteByte(key[i])
	}
	return b.String()
}

// Extract evaluates the path against a response. Numbers come back as json.Number
// holding their literal text; objects and arrays as compact json.RawMessage.
func (p Path) Extract(resp *http.Response) (any, error) {
	switch p.Source {
	case SourceStatus:
		return resp.StatusCode, nil
	case SourceHeader:
		value := resp.Header(p.Expr)
		if value == "" {
			return nil, fmt.Errorf("header %s: %w", p.Expr, ErrNotFound)
		}
		return value, nil
	}

	if !gjson.ValidBytes(resp.Body) {
		return nil, ErrNotJSON
	}

	var result gjson.Result
	if p.Expr == "" {
		result = gjson.ParseBytes(resp.Body)
	} else {
		result = gjson.GetBytes(resp.Body, p.Expr)
	}
	if !result.Exists() {
		return nil, fmt.Errorf("%s: %w", p.Raw, ErrNotFound)
	}
	return Value(result), nil
}

// Value converts a gjson result into a literal-preserving Go value.
func Value(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return json.Number(r.Raw)
	case gjson.String:
		return r.String()
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(r.Raw)); err != nil {
			return json.RawMessage(r.Raw)
		}
		return json.RawMessage(buf.Bytes())
	}
}
