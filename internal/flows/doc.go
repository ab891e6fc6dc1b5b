// Package flows contains pure-function orchestrators for the engine's
// multi-step decisions.
//
// Each flow function (RunSignIn, RunLinkOrEnroll) accepts a typed dependency
// struct of function fields and returns a flow-local result. The root
// package wires the functions to its identity provider, tracker, metrics and
// audit dispatcher.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import healthauth (to avoid import cycles).
//   - Perform I/O directly. All I/O goes through the dependency functions.
package flows
