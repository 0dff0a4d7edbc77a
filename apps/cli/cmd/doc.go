// Package cmd implements the specrun CLI commands using Cobra.
//
// Available commands:
//   - run: Execute suites from files or directories
//   - validate: Load and validate suites without sending requests
//   - list: Display the cases of each suite
//   - completion: Generate shell completion scripts
//   - version: Show version information
//
// Every run flag falls back to a SPECRUN_* environment variable, and both
// override values from .specrun.yaml.
package cmd
