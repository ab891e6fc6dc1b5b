package cli

import (
	"errors"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/phone"
	"github.com/spf13/cobra"
)

// signedInCommand builds a subcommand that signs --email in before run.
func signedInCommand(app *App, use, short string, run func(cmd *cobra.Command, rt *runtime) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, err := requireEmail(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return app.withRuntime(ctx, func(rt *runtime) error {
				if err := app.signIn(ctx, rt, email); err != nil {
					return err
				}
				return run(cmd, rt)
			})
		},
	}
	cmd.Flags().StringP("email", "e", "", "email address")
	return cmd
}

func newSecurityCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "security",
		Short: "Two-factor authentication and password settings",
	}

	status := signedInCommand(app, "status", "Show verification and second-factor status", func(cmd *cobra.Command, rt *runtime) error {
		sec, err := rt.engine.SecurityStatus(cmd.Context())
		if err != nil {
			app.failure("%s", healthauth.UserMessage(err))
			return err
		}
		table := newTable(app.Out, "Setting", "Value")
		table.Append([]string{"Email verified", yesNo(sec.Status.EmailVerified)})
		table.Append([]string{"Phone verified", yesNo(sec.Status.PhoneVerified)})
		table.Append([]string{"Phone", phone.Mask(sec.Status.PhoneNumber)})
		table.Append([]string{"Two-factor", yesNo(sec.Status.TwoFactorEnabled)})
		table.Append([]string{"Enrolled factors", itoa(len(sec.Factors))})
		table.Render()
		return nil
	})

	enable := signedInCommand(app, "enable-2fa", "Enroll the verified phone as a second factor", func(cmd *cobra.Command, rt *runtime) error {
		ctx := cmd.Context()
		pass, err := app.Prompt.Secret("Confirm password")
		if err != nil {
			return err
		}
		setup, err := rt.engine.BeginEnableTwoFactor(ctx, pass)
		if err != nil {
			if errors.Is(err, healthauth.ErrPhoneNotVerified) {
				app.failure("Please verify your phone number first.")
			} else {
				app.failure("%s", healthauth.UserMessage(err))
			}
			return err
		}
		if setup.Subscriber != "" {
			app.notice("Using %s number %s", setup.Country.Name, setup.Subscriber)
		}
		res, err := app.completePhoneFlow(ctx, setup.Flow, rt.engine.Config().Phone.Countries)
		if err != nil {
			return err
		}
		if res.PersistErr != nil {
			app.notice("Status saved locally only: %s", healthauth.UserMessage(res.PersistErr))
		}
		app.success("Two-factor authentication enabled")
		return nil
	})

	disable := signedInCommand(app, "disable-2fa", "Remove the phone second factor", func(cmd *cobra.Command, rt *runtime) error {
		pass, err := app.Prompt.Secret("Confirm password")
		if err != nil {
			return err
		}
		if err := rt.engine.DisableTwoFactor(cmd.Context(), pass); err != nil {
			app.failure("%s", healthauth.UserMessage(err))
			return err
		}
		app.success("Two-factor authentication disabled")
		return nil
	})

	change := signedInCommand(app, "change-password", "Change the account password", func(cmd *cobra.Command, rt *runtime) error {
		current, err := app.Prompt.Secret("Current password")
		if err != nil {
			return err
		}
		next, err := app.Prompt.Secret("New password")
		if err != nil {
			return err
		}
		confirm, err := app.Prompt.Secret("Confirm new password")
		if err != nil {
			return err
		}
		if err := rt.engine.ChangePassword(cmd.Context(), current, next, confirm); err != nil {
			app.failure("%s", healthauth.UserMessage(err))
			return err
		}
		app.success("Password changed")
		return nil
	})

	cmd.AddCommand(status, enable, disable, change)
	return cmd
}
