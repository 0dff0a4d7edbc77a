package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/abdul-hamid-achik/specrun/packages/core/env"
	"github.com/abdul-hamid-achik/specrun/packages/core/spec"
	"github.com/abdul-hamid-achik/specrun/packages/http"
)

// buildRequest resolves a case against the variable context. Every missing
// variable across url, headers, query and body is reported together.
func (r *Runner) buildRequest(c *spec.Case, vars *env.VarContext) (*http.Request, error) {
	b := &requestBuilder{vars: vars}

	url := b.resolve(c.Request.URL)
	req := http.NewRequest(c.Request.Method, http.JoinURL(r.config.BaseURL, url))

	for k, v := range r.config.Headers {
		if !hasHeader(c.Request.Headers, k) {
			req.SetHeader(k, b.resolve(v))
		}
	}
	if r.config.Token != "" && !hasHeader(c.Request.Headers, "Authorization") {
		req.SetHeader("Authorization", "Bearer "+r.config.Token)
	}
	for k, v := range c.Request.Headers {
		req.SetHeader(k, b.resolve(v))
	}
	for k, v := range c.Request.Query {
		req.SetQueryParam(k, b.resolve(v))
	}

	if c.Request.HasBody {
		body, err := vars.ResolveValue(c.Request.Body)
		b.record(err)
		if err == nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encoding json body: %w", err)
			}
			req.SetBody(data)
			if !req.HasHeader("Content-Type") {
				req.SetHeader("Content-Type", "application/json")
			}
		}
	}

	if err := b.err(); err != nil {
		return nil, err
	}
	return req, nil
}

func hasHeader(headers map[string]string, name string) bool {
	r := http.Request{Headers: headers}
	return r.HasHeader(name)
}

type requestBuilder struct {
	vars    *env.VarContext
	missing []string
	failure error
}

func (b *requestBuilder) resolve(template string) string {
	out, err := b.vars.Resolve(template)
	b.record(err)
	return out
}

func (b *requestBuilder) record(err error) {
	if err == nil {
		return
	}
	var unresolved *env.UnresolvedVariableError
	if !errors.As(err, &unresolved) {
		if b.failure == nil {
			b.failure = err
		}
		return
	}
	for _, name := range unresolved.Names {
		if !slices.Contains(b.missing, name) {
			b.missing = append(b.missing, name)
		}
	}
}

func (b *requestBuilder) err() error {
	if len(b.missing) > 0 {
		return &env.UnresolvedVariableError{Names: b.missing}
	}
	return b.failure
}
