package capture

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/abdul-hamid-achik/specrun/packages/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: 201,
		Headers:    http.Header{"Content-Type": {"application/json"}, "Location": {"/users/7"}},
		Body:       []byte(body),
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw    string
		source Source
		expr   string
	}{
		{"$", SourceBody, ""},
		{"$.id", SourceBody, "id"},
		{"$.data.items[0].id", SourceBody, "data.items.0.id"},
		{"$['a.b'].c", SourceBody, `a\.b.c`},
		{"/data/items/0/id", SourceBody, "data.items.0.id"},
		{"/a~1b/c~0d", SourceBody, "a/b.c~d"},
		{"data.items.#", SourceBody, "data.items.#"},
		{"header:Location", SourceHeader, "Location"},
		{"status:", SourceStatus, ""},
		{"status", SourceBody, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.source, p.Source)
			assert.Equal(t, tt.expr, p.Expr)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, raw := range []string{"", "  ", "$..a", "$[x]", "$.a[0", "header:", "status:code"} {
		_, err := Parse(raw)
		assert.Error(t, err, "path %q", raw)
	}
}

func TestExtract(t *testing.T) {
	resp := jsonResponse(`{"id": 10.50, "name": "ada", "ok": true, "gone": null, "tags": ["a", "b"], "meta": {"x": 1}, "status": "active"}`)

	tests := []struct {
		path string
		want any
	}{
		{"$.id", json.Number("10.50")},
		{"/name", "ada"},
		{"ok", true},
		{"$.gone", nil},
		{"$.tags", json.RawMessage(`["a","b"]`)},
		{"$.meta", json.RawMessage(`{"x":1}`)},
		{"$.tags[1]", "b"},
		{"header:location", "/users/7"},
		{"status:", 201},
		{"status", "active"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p, err := Parse(tt.path)
			require.NoError(t, err)
			got, err := p.Extract(resp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_Failures(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		p, _ := Parse("$.missing")
		_, err := p.Extract(jsonResponse(`{"id": 1}`))
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("body not json", func(t *testing.T) {
		p, _ := Parse("$.id")
		_, err := p.Extract(&http.Response{StatusCode: 200, Body: []byte("<html>")})
		assert.True(t, errors.Is(err, ErrNotJSON))
	})

	t.Run("missing header", func(t *testing.T) {
		p, _ := Parse("header:X-Nope")
		_, err := p.Extract(jsonResponse(`{}`))
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}
