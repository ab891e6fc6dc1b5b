// Package healthauth orchestrates account verification for the health
// tracking app: sign-up, sign-in with email and phone checks, SMS phone
// verification and second-factor enrollment over a remote identity
// provider.
//
// The package is designed for concurrent use: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// healthauth is the public surface. It exposes [Engine], [Builder], [Config],
// the [PhoneFlow] state machine, the [Session] context and the
// [VerificationTracker]. Multi-step decisions live in internal/flows; Redis
// records, quotas and limiters live under internal/ and are never exported.
//
// Verification flags have two tiers: the remote profile document is
// authoritative and the [LocalStore] cache is a read accelerator. On load
// the remote value always wins.
//
// # What this package must NOT do
//
//   - Send a phone number to the provider before it is normalized to E.164.
//   - Enroll a second factor for an account whose phone is not verified.
//   - Show one account's cached verification flags to another account.
//   - Import any sub-package that re-imports healthauth (no import cycles).
package healthauth
