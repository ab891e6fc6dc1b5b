package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/provider/redisid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.1.0"

// App holds the streams and collaborators shared by every command.
// Zero fields are filled from the process by Execute.
type App struct {
	Out    io.Writer
	Err    io.Writer
	Prompt Prompter

	// SMS and Mail replace console delivery when set.
	SMS  redisid.SMSSender
	Mail redisid.Mailer

	viper    *viper.Viper
	settings Settings
	cfgFile  string
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	app := &App{
		Out:    os.Stdout,
		Err:    os.Stderr,
		Prompt: newTerminalPrompter(os.Stdin, os.Stderr),
	}
	cmd := NewRootCommand(app)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(app.Err, failColor.Sprint("Error: ")+err.Error())
		return 1
	}
	return 0
}

// NewRootCommand builds the healthauthctl command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	if app.Out == nil {
		app.Out = io.Discard
	}
	if app.Err == nil {
		app.Err = io.Discard
	}
	app.viper = viper.New()

	root := &cobra.Command{
		Use:   "healthauthctl",
		Short: "Operate the healthauth account and phone verification engine",
		Long: `healthauthctl drives the healthauth engine against a Redis backend:
sign-up with phone verification, sign-in with email, phone and second-factor
checks, security settings, emergency contacts and metrics.

Without redis_addr an embedded Redis is started for the duration of the
command, which is only useful for bench and quick trials.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(app.viper, app.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			app.settings = s
			return nil
		},
	}
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	flags := root.PersistentFlags()
	flags.StringVar(&app.cfgFile, "config", "", "config file (default is $HOME/.healthauthctl.yaml)")
	flags.String("redis-addr", "", "redis address; empty starts an embedded redis")
	flags.String("challenge-key", "", "HS256 key for second-factor challenges (32+ bytes)")
	flags.String("cache-file", "", "device cache file (default is $HOME/.healthauthctl/cache.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("audit", false, "write audit events to stderr as JSON lines")
	_ = app.viper.BindPFlag("redis_addr", flags.Lookup("redis-addr"))
	_ = app.viper.BindPFlag("challenge_key", flags.Lookup("challenge-key"))
	_ = app.viper.BindPFlag("cache_file", flags.Lookup("cache-file"))
	_ = app.viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = app.viper.BindPFlag("audit", flags.Lookup("audit"))

	root.AddCommand(
		newSignUpCommand(app),
		newSignInCommand(app),
		newVerifyEmailCommand(app),
		newResetPasswordCommand(app),
		newSecurityCommand(app),
		newContactsCommand(app),
		newProfileCommand(app),
		newServeMetricsCommand(app),
		newBenchCommand(app),
	)
	return root
}

// withRuntime opens the backend for the duration of fn.
func (a *App) withRuntime(ctx context.Context, fn func(*runtime) error) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

// signIn signs email in with a prompted password and completes whatever
// verification the engine asks for. It returns once the session is
// authenticated.
func (a *App) signIn(ctx context.Context, rt *runtime, email string) error {
	pass, err := a.Prompt.Secret("Password")
	if err != nil {
		return err
	}
	res, err := rt.engine.SignIn(ctx, email, pass)
	if err != nil {
		if errors.Is(err, healthauth.ErrEmailNotVerified) {
			a.notice("Please verify your email address. A new verification email was sent.")
		} else {
			a.failure("%s", healthauth.UserMessage(err))
		}
		return err
	}

	countries := rt.engine.Config().Phone.Countries
	switch res.Next {
	case healthauth.NextVerifyPhone:
		a.notice("Your phone number is not verified yet.")
		if _, err := a.completePhoneFlow(ctx, res.Flow, countries); err != nil {
			return err
		}
	case healthauth.NextResolveChallenge:
		a.notice("Two-factor authentication is enabled on this account.")
		if _, err := a.completePhoneFlow(ctx, res.Flow, countries); err != nil {
			return err
		}
	}
	a.success("Signed in as %s", email)
	return nil
}

func requireEmail(cmd *cobra.Command) (string, error) {
	email, _ := cmd.Flags().GetString("email")
	if email == "" {
		return "", errors.New("--email is required")
	}
	return email, nil
}
