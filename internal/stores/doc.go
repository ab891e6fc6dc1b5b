// Package stores provides Redis-backed records for the identity provider and
// the profile document store.
//
// # Records
//
//   - [PhoneCodeStore] holds verification sessions: a versioned binary record
//     with the code digest, expiry and attempt counter. Consume uses a
//     WATCH/MULTI transaction so each session succeeds at most once.
//   - [TokenStore] holds single-use opaque tokens (credential proofs,
//     challenge ids, mail tokens) consumed with GETDEL.
//   - [AccountStore] holds identity accounts as JSON plus a unique email index.
//   - [ProfileDocStore] holds one opaque profile document per account and
//     classifies permission and memory-quota failures.
//
// # What this package must NOT do
//
//   - Import healthauth or any sibling internal package.
//   - Log or expose plaintext codes or tokens.
//   - Compare code digests in variable time.
package stores
