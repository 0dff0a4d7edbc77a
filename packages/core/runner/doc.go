// Package runner executes a loaded suite against a target service.
//
// Cases start in insertion order under a bounded pool. A case that reads a
// variable not yet defined waits for every earlier case to commit its
// captures; a case with dependsOn waits for the named cases. Each case ends
// Passed, Failed or Errored, and a case failure never stops the suite.
//
// Cancelling the context stops new cases from starting. In-flight cases get
// a grace period before they are aborted, and the result is marked partial.
package runner
