// Package config handles configuration loading and management for specrun.
//
// It provides functionality for:
//   - Loading .specrun.yaml, .specrun.yml or .specrun.json files
//   - Default configuration values
//   - Merging file values with command-line overrides
//   - Converting the result into runner and HTTP client settings
package config
