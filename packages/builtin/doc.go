// Package builtin provides the template functions available inside specrun placeholders.
//
// Available functions:
//   - uuid(): Random UUID v4
//   - timestamp(): Current Unix timestamp in seconds
//   - timestampMs(): Current Unix timestamp in milliseconds
//   - now(): Current time in RFC 3339, UTC
//   - randomInt(min, max): Random integer in the closed range
//   - randomString(length): Random alphanumeric string
//   - base64(value): Base64 encode a string
//
// Functions are invoked with the {name(args)} placeholder syntax.
package builtin
