// Package password enforces the account password policy and stores
// accepted passwords as argon2id PHC strings.
//
// Policy violations come back as *healthauth.ProviderError of
// KindWeakPassword, so the identity provider can return them unchanged in
// kind. [Hasher.Stale] lets the provider rehash a password after a
// successful sign-in once the cost parameters have been raised.
package password
