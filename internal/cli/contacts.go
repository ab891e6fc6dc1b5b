package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/healthauth"
	"github.com/spf13/cobra"
)

func newContactsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage emergency contacts",
	}

	list := signedInCommand(app, "list", "List emergency contacts", func(cmd *cobra.Command, rt *runtime) error {
		contacts, err := rt.engine.ListContacts(cmd.Context())
		if err != nil {
			app.failure("%s", healthauth.UserMessage(err))
			return err
		}
		renderContacts(app, contacts)
		return nil
	})

	add := signedInCommand(app, "add", "Add an emergency contact", func(cmd *cobra.Command, rt *runtime) error {
		f := cmd.Flags()
		name, _ := f.GetString("name")
		relationship, _ := f.GetString("relationship")
		code, _ := f.GetString("calling-code")
		number, _ := f.GetString("phone")
		makeDefault, _ := f.GetBool("default")

		c, err := rt.engine.AddContact(cmd.Context(), healthauth.EmergencyContact{
			Name:         name,
			Relationship: relationship,
			CountryCode:  code,
			Phone:        number,
			IsDefault:    makeDefault,
		})
		if err != nil {
			app.failure("%s", healthauth.UserMessage(err))
			return err
		}
		app.success("Added %s (%s)", c.Name, c.ID)
		return nil
	})
	add.Flags().String("name", "", "contact name")
	add.Flags().String("relationship", "", "relationship to the account holder")
	add.Flags().String("calling-code", "+61", "country calling code")
	add.Flags().String("phone", "", "phone number")
	add.Flags().Bool("default", false, "make this the default contact")

	remove := signedInCommand(app, "remove", "Remove an emergency contact", func(cmd *cobra.Command, rt *runtime) error {
		id, err := contactID(cmd)
		if err != nil {
			return err
		}
		if err := rt.engine.RemoveContact(cmd.Context(), id); err != nil {
			app.failure("%s", healthauth.UserMessage(err))
			return err
		}
		app.success("Removed %s", id)
		return nil
	})
	remove.Flags().String("id", "", "contact id")

	setDefault := signedInCommand(app, "default", "Make a contact the default", func(cmd *cobra.Command, rt *runtime) error {
		id, err := contactID(cmd)
		if err != nil {
			return err
		}
		if err := rt.engine.SetDefaultContact(cmd.Context(), id); err != nil {
			app.failure("%s", healthauth.UserMessage(err))
			return err
		}
		app.success("%s is now the default contact", id)
		return nil
	})
	setDefault.Flags().String("id", "", "contact id")

	cmd.AddCommand(list, add, remove, setDefault)
	return cmd
}

func contactID(cmd *cobra.Command) (string, error) {
	id, _ := cmd.Flags().GetString("id")
	if strings.TrimSpace(id) == "" {
		return "", errors.New("--id is required")
	}
	return id, nil
}

func renderContacts(app *App, contacts []healthauth.EmergencyContact) {
	if len(contacts) == 0 {
		fmt.Fprintln(app.Out, "No emergency contacts")
		return
	}
	table := newTable(app.Out, "ID", "Name", "Relationship", "Phone", "Default")
	for _, c := range contacts {
		def := ""
		if c.IsDefault {
			def = okColor.Sprint("*")
		}
		table.Append([]string{c.ID, c.Name, c.Relationship, c.CountryCode + " " + c.Phone, def})
	}
	table.Render()
}
