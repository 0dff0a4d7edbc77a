// Package capture extracts values from HTTP responses for use in later requests.
//
// Supported extraction paths:
//   - $ and $.a.b[0].c (dotted JSON path subset)
//   - /a/b/0/c (JSON pointer, with ~0 and ~1 escapes)
//   - a.b.0.c (gjson syntax, passed through)
//   - header:<Name> (response header)
//   - status: (response status code)
//
// Body paths are evaluated with gjson and keep numbers as their literal text.
package capture
