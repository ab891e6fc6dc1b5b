package captcha

import (
	"context"
	"crypto/subtle"
	"errors"
)

var (
	// ErrMissingToken is returned for an empty token.
	ErrMissingToken = errors.New("captcha token missing")
	// ErrRejected means the token was checked and is not valid.
	ErrRejected = errors.New("captcha token rejected")
	// ErrUnavailable means the token could not be checked.
	ErrUnavailable = errors.New("captcha verification unavailable")
)

// Checker validates a CAPTCHA token on the service side.
type Checker interface {
	Check(ctx context.Context, token string) error
}

// StaticToken is a device-side token source that always yields the same
// token.
type StaticToken string

func (t StaticToken) Verify(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t == "" {
		return "", ErrMissingToken
	}
	return string(t), nil
}

// StaticChecker accepts exactly Token.
type StaticChecker struct {
	Token string
}

func (c StaticChecker) Check(_ context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	if c.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(c.Token)) != 1 {
		return ErrRejected
	}
	return nil
}

// AllowAll accepts any non-empty token.
type AllowAll struct{}

func (AllowAll) Check(_ context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	return nil
}
