package cmd

// Exit codes for the specrun CLI
const (
	// ExitSuccess indicates every case passed
	ExitSuccess = 0

	// ExitFailure covers failed or errored cases, load errors and invalid flags
	ExitFailure = 1
)
