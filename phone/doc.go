// Package phone normalizes subscriber numbers to E.164 and recovers the
// country calling code from stored E.164 numbers.
//
// Calling-code recovery is prefix based against a small configured country
// list. Countries that share a calling code (US and CA share "1") cannot be
// told apart; the first configured country wins. Callers that need the exact
// country must keep the user's explicit selection.
package phone
