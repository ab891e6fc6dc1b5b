// Package captcha provides both ends of the CAPTCHA check that guards SMS
// code sends.
//
// On the device, a token source implements Verify(ctx) (string, error) and
// satisfies healthauth.CaptchaVerifier. On the service side, a [Checker]
// validates the token before a code is texted. [SiteVerifier] calls a
// reCAPTCHA-compatible siteverify endpoint; [StaticChecker] accepts one
// fixed token for development and tests.
package captcha
