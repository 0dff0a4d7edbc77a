// Package output provides reporters for displaying suite results.
//
// Supported formats:
//   - Console: human-readable colored terminal output, written per suite
//   - JUnit: JUnit XML for CI, accumulated and written on Flush
//   - JSON: machine-readable dump, accumulated and written on Flush
//
// Every reporter implements runner.Reporter. JUnit and JSON also implement
// Flush for formats that produce a single document per run.
package output
