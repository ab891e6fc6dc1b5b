package cli

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/phone"
)

const maxCodeAttempts = 3

// completePhoneFlow drives flow to completion from the prompt: phone entry
// when the flow has no number yet, then send, then code entry with resend.
func (a *App) completePhoneFlow(ctx context.Context, flow *healthauth.PhoneFlow, countries []phone.Country) (*healthauth.FlowResult, error) {
	defer flow.Close()

	if flow.State() == healthauth.PhoneIdle {
		if err := a.enterPhone(flow, countries); err != nil {
			return nil, err
		}
	}
	if err := flow.SendCode(ctx); err != nil {
		a.failure("%s", healthauth.UserMessage(err))
		return nil, err
	}
	a.notice("Verification code sent to %s", phone.Mask(flow.Snapshot().PhoneNumber))

	for attempt := 1; ; {
		code, err := a.Prompt.Line(`Verification code (or "resend")`)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(code, "resend") {
			if err := flow.Resend(ctx); err != nil {
				if errors.Is(err, healthauth.ErrResendNotReady) {
					a.notice("You can resend the code in %ds", int(flow.ResendIn().Round(time.Second)/time.Second))
					continue
				}
				a.failure("%s", healthauth.UserMessage(err))
				return nil, err
			}
			a.notice("A new code was sent")
			continue
		}

		res, err := flow.SubmitCode(ctx, code)
		if err == nil {
			return res, nil
		}
		a.failure("%s", healthauth.UserMessage(err))

		var fe *healthauth.FieldError
		if !errors.As(err, &fe) {
			next, rerr := flow.Retry()
			if rerr != nil || next != healthauth.PhoneCodeSent {
				return nil, err
			}
		}
		attempt++
		if attempt > maxCodeAttempts {
			return nil, err
		}
	}
}

func (a *App) enterPhone(flow *healthauth.PhoneFlow, countries []phone.Country) error {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := a.Prompt.Line("Country (AU, US, GB, IN, CA)")
		if err != nil {
			return err
		}
		country, ok := phone.Lookup(countries, strings.ToUpper(strings.TrimSpace(code)))
		if !ok {
			a.failure("Please select a valid country code")
			continue
		}
		number, err := a.Prompt.Line("Phone number")
		if err != nil {
			return err
		}
		if err := flow.SubmitPhone(country.CallingCode, number); err != nil {
			a.failure("%s", healthauth.UserMessage(err))
			continue
		}
		return nil
	}
	return errors.New("no valid phone number entered")
}
