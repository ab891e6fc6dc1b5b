// Package redisid is a Redis-backed healthauth.IdentityProvider.
//
// A Client plays the part of a device-side identity SDK: it holds the
// current account, reports every failure as a *healthauth.ProviderError and
// streams sign-in and sign-out to subscribers. Accounts, SMS code sessions,
// single-use credential proofs, mail tokens and second-factor challenges all
// live in Redis, so several Clients sharing one Redis behave like several
// devices talking to one identity service.
//
// Codes and mail links are handed to the SMSSender and Mailer supplied in
// Deps; nothing is delivered by the package itself.
package redisid
