package cli

import (
	"fmt"
	"strconv"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/phone"
	"github.com/spf13/cobra"
)

func newProfileCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit the profile document",
	}

	show := signedInCommand(app, "show", "Show the profile", func(cmd *cobra.Command, rt *runtime) error {
		p, err := rt.engine.Profile(cmd.Context())
		if err != nil {
			app.failure("%s", healthauth.UserMessage(err))
			return err
		}
		table := newTable(app.Out, "Field", "Value")
		table.Append([]string{"Name", p.Name})
		table.Append([]string{"Email", p.Email})
		table.Append([]string{"Phone", phone.Mask(p.PhoneNumber)})
		table.Append([]string{"Heart rate", strconv.Itoa(p.HealthData.HeartRate)})
		table.Append([]string{"Cycling", strconv.Itoa(p.HealthData.Cycling)})
		table.Append([]string{"Steps", strconv.Itoa(p.HealthData.Steps)})
		table.Append([]string{"Sleep", fmt.Sprintf("%.1f", p.HealthData.Sleep)})
		table.Append([]string{"Contacts", strconv.Itoa(len(p.EmergencyContacts))})
		table.Render()
		return nil
	})

	rename := signedInCommand(app, "rename", "Change first and last name", func(cmd *cobra.Command, rt *runtime) error {
		first, _ := cmd.Flags().GetString("first-name")
		last, _ := cmd.Flags().GetString("last-name")
		p, err := rt.engine.UpdateProfile(cmd.Context(), first, last)
		if err != nil {
			app.failure("%s", healthauth.UserMessage(err))
			return err
		}
		app.success("Profile name is now %s", p.Name)
		return nil
	})
	rename.Flags().String("first-name", "", "first name")
	rename.Flags().String("last-name", "", "last name")

	onboard := signedInCommand(app, "complete-onboarding", "Mark onboarding complete on this device", func(cmd *cobra.Command, rt *runtime) error {
		if err := rt.engine.CompleteOnboarding(cmd.Context()); err != nil {
			return err
		}
		app.success("Onboarding complete")
		return nil
	})

	cmd.AddCommand(show, rename, onboard)
	return cmd
}
