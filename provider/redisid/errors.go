package redisid

import (
	"errors"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/captcha"
	"github.com/MrEthical07/healthauth/internal/limiters"
	"github.com/MrEthical07/healthauth/internal/rate"
	"github.com/MrEthical07/healthauth/internal/stores"
)

var errFactorNotFound = errors.New("second factor not found")

func providerError(op string, kind healthauth.ErrorKind, err error) *healthauth.ProviderError {
	return healthauth.NewProviderError(op, kind, err)
}

// backendError reports an unreachable Redis as a network failure, which is
// what a device sees when the identity service cannot be reached.
func backendError(op string, err error) *healthauth.ProviderError {
	return providerError(op, healthauth.KindNetwork, err)
}

func accountError(op string, err error) *healthauth.ProviderError {
	if errors.Is(err, stores.ErrAccountNotFound) {
		return providerError(op, healthauth.KindUserNotFound, nil)
	}
	return backendError(op, err)
}

func rateError(op string, err error) *healthauth.ProviderError {
	if errors.Is(err, rate.ErrRateLimited) {
		return providerError(op, healthauth.KindTooManyAttempts, nil)
	}
	return backendError(op, err)
}

func smsLimitError(err error) *healthauth.ProviderError {
	if errors.Is(err, limiters.ErrSMSQuotaExceeded) {
		return providerError(healthauth.OpSendPhoneCode, healthauth.KindQuotaExceeded, nil)
	}
	return backendError(healthauth.OpSendPhoneCode, err)
}

func mailLimitError(err error) *healthauth.ProviderError {
	if errors.Is(err, limiters.ErrMailRateLimited) {
		return providerError(healthauth.OpSendEmail, healthauth.KindTooManyAttempts, nil)
	}
	return backendError(healthauth.OpSendEmail, err)
}

func captchaError(err error) *healthauth.ProviderError {
	if errors.Is(err, captcha.ErrUnavailable) {
		return backendError(healthauth.OpSendPhoneCode, err)
	}
	return providerError(healthauth.OpSendPhoneCode, healthauth.KindCaptchaFailed, err)
}

func codeError(err error) *healthauth.ProviderError {
	switch {
	case errors.Is(err, stores.ErrPhoneCodeNotFound):
		return providerError(healthauth.OpConfirmPhoneCode, healthauth.KindInvalidSession, nil)
	case errors.Is(err, stores.ErrPhoneCodeExpired):
		return providerError(healthauth.OpConfirmPhoneCode, healthauth.KindCodeExpired, nil)
	case errors.Is(err, stores.ErrPhoneCodeMismatch), errors.Is(err, stores.ErrPhoneCodeAttemptsExceeded):
		return providerError(healthauth.OpConfirmPhoneCode, healthauth.KindInvalidCode, nil)
	default:
		return backendError(healthauth.OpConfirmPhoneCode, err)
	}
}
