// Package spec loads specrun suite documents into a validated, immutable model.
//
// A document is a YAML (or JSON) list of cases, each with a request, an
// optional expectation and optional explicit dependencies. Validation is
// fail-closed: unknown keys, unsupported methods, malformed schemas and
// forward dependencies all abort loading with a *SpecError before any
// request is sent.
package spec
