// Package env holds the variable context of a suite run.
//
// It provides:
//   - VarContext, the mutex-guarded store read by template resolution and
//     written by captures
//   - Placeholder resolution for {name}, {$ENV_VAR} and {func(args)}
//   - Loading .env files and SPECRUN_VAR_* environment entries as defaults
package env
