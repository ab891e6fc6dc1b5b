package cli

import (
	"errors"
	"strings"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/phone"
	"github.com/spf13/cobra"
)

func newSignUpCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and verify its phone number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			f := cmd.Flags()
			first, _ := f.GetString("first-name")
			last, _ := f.GetString("last-name")
			email, _ := f.GetString("email")
			country, _ := f.GetString("country")
			number, _ := f.GetString("phone")

			return app.withRuntime(ctx, func(rt *runtime) error {
				c, ok := phone.Lookup(rt.engine.Config().Phone.Countries, country)
				if !ok {
					return errors.New("unknown country " + country)
				}
				pass, err := app.Prompt.Secret("Password")
				if err != nil {
					return err
				}
				confirm, err := app.Prompt.Secret("Confirm password")
				if err != nil {
					return err
				}

				res, err := rt.engine.SignUp(ctx, healthauth.SignUpRequest{
					FirstName:       first,
					LastName:        last,
					Email:           email,
					Password:        pass,
					ConfirmPassword: confirm,
					CallingCode:     c.CallingCode,
					PhoneNumber:     number,
				})
				if err != nil {
					app.failure("%s", healthauth.UserMessage(err))
					return err
				}
				app.success("Account created for %s", res.Account.Email)
				if res.ProfileErr != nil {
					app.notice("Profile could not be saved: %s", healthauth.UserMessage(res.ProfileErr))
				}

				result, err := app.completePhoneFlow(ctx, res.Flow, rt.engine.Config().Phone.Countries)
				if err != nil {
					return err
				}
				app.success("Phone %s verified", phone.Mask(result.PhoneNumber))
				app.notice("Check your inbox to verify your email before signing in.")
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.String("first-name", "", "first name")
	f.String("last-name", "", "last name")
	f.StringP("email", "e", "", "email address")
	f.String("country", "AU", "phone country (ISO code)")
	f.String("phone", "", "phone number without the country calling code")
	return cmd
}

func newSignInCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and complete any pending verification",
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
				snap := rt.engine.Session().Snapshot()
				table := newTable(app.Out, "Check", "Status")
				table.Append([]string{"Email verified", yesNo(snap.Status.EmailVerified)})
				table.Append([]string{"Phone verified", yesNo(snap.Status.PhoneVerified)})
				table.Append([]string{"Two-factor", yesNo(snap.Status.TwoFactorEnabled)})
				table.Append([]string{"Onboarding", yesNo(snap.Onboarded)})
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringP("email", "e", "", "email address")
	return cmd
}

func newVerifyEmailCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-email",
		Short: "Redeem an email verification token, or resend the email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			token, _ := cmd.Flags().GetString("token")
			email, _ := cmd.Flags().GetString("email")
			if token == "" && email == "" {
				return errors.New("--token or --email is required")
			}
			return app.withRuntime(ctx, func(rt *runtime) error {
				if token != "" {
					if err := rt.provider.ConfirmEmailVerification(ctx, strings.TrimSpace(token)); err != nil {
						app.failure("%s", healthauth.UserMessage(err))
						return err
					}
					app.success("Email verified")
					return nil
				}

				// Sign-in with an unverified email resends the mail itself.
				pass, err := app.Prompt.Secret("Password")
				if err != nil {
					return err
				}
				_, err = rt.engine.SignIn(ctx, email, pass)
				switch {
				case errors.Is(err, healthauth.ErrEmailNotVerified):
					app.success("Verification email sent to %s", email)
					return nil
				case err != nil:
					app.failure("%s", healthauth.UserMessage(err))
					return err
				}
				app.notice("%s is already verified", email)
				return nil
			})
		},
	}
	cmd.Flags().String("token", "", "token from the verification email")
	cmd.Flags().StringP("email", "e", "", "resend the verification email for this account")
	return cmd
}

func newResetPasswordCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Password reset by email",
	}

	request := &cobra.Command{
		Use:   "request",
		Short: "Send a password reset email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, err := requireEmail(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return app.withRuntime(ctx, func(rt *runtime) error {
				if err := rt.engine.SendPasswordReset(ctx, email); err != nil {
					app.failure("%s", healthauth.UserMessage(err))
					return err
				}
				app.success("Password reset email sent to %s", email)
				return nil
			})
		},
	}
	request.Flags().StringP("email", "e", "", "email address")

	confirm := &cobra.Command{
		Use:   "confirm",
		Short: "Set a new password with a reset token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, _ := cmd.Flags().GetString("token")
			if token == "" {
				return errors.New("--token is required")
			}
			ctx := cmd.Context()
			return app.withRuntime(ctx, func(rt *runtime) error {
				next, err := app.Prompt.Secret("New password")
				if err != nil {
					return err
				}
				again, err := app.Prompt.Secret("Confirm new password")
				if err != nil {
					return err
				}
				if next != again {
					app.failure("New passwords do not match")
					return errors.New("new passwords do not match")
				}
				if err := rt.provider.ConfirmPasswordReset(ctx, strings.TrimSpace(token), next); err != nil {
					app.failure("%s", healthauth.UserMessage(err))
					return err
				}
				app.success("Password updated")
				return nil
			})
		},
	}
	confirm.Flags().String("token", "", "token from the reset email")

	cmd.AddCommand(request, confirm)
	return cmd
}
