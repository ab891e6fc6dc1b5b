// Package jwt issues and verifies the session token carried by a
// second-factor challenge. The token names the account, the enrolled factor
// ids that may answer the challenge, and a one-time id that the identity
// provider redeems exactly once.
package jwt
