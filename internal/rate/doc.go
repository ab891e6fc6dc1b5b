// Package rate provides the Redis-backed sign-in attempt limiter.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit, keyed by the
// lower-cased email under the hsi: prefix.
//
// # What this package must NOT do
//
//   - Implement send quotas (those live in internal/limiters).
//   - Be imported outside the healthauth module.
package rate
