// Package limiters provides the identity provider's Redis fixed-window
// counters.
//
// # Limiters
//
//   - [SMSLimiter] — per-number and per-caller quota on verification code sends.
//   - [MailLimiter] — per-recipient throttle on verification and reset mail.
//
// Both limiters are nil-safe: calling CheckSend on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import healthauth or any sibling internal package.
//   - Decide consequences beyond counting; the provider maps denials to error kinds.
package limiters
