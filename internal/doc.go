// Package internal contains helpers that are private to healthauth, chiefly
// random identifier and one-time code generation.
//
// # Sub-packages
//
//   - cli — healthauthctl command tree, settings, prompts and the bench runner
//   - flows — pure orchestrators for sign-in and second-factor linking decisions
//   - limiters — Redis fixed-window counters for SMS quota and mail resend throttling
//   - logging — context-aware structured logger over log/slog
//   - rate — Redis sign-in attempt limiter
//   - stores — Redis records for code sessions, proofs, tokens and profile documents
//
// # What this package must NOT do
//
//   - Export types that appear in the public healthauth API.
//   - Be imported by any package outside the healthauth module.
package internal
