// Package assertions judges a received response against a case expectation.
//
// Rules, in order:
//   - an expected status that differs from the observed one fails with an
//     *AssertionFailure naming both values, and the schema is skipped
//   - a schema requires a JSON body and collects every violation into a
//     *SchemaValidationError
//   - with neither set, any received response passes
//
// Schema validation follows JSON-Schema typing, so "200" never equals 200.
package assertions
