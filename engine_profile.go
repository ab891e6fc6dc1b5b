package healthauth

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/healthauth/phone"
)

// Profile returns the current account's profile document.
func (e *Engine) Profile(ctx context.Context) (*Profile, error) {
	accountID, err := e.currentAccountID()
	if err != nil {
		return nil, err
	}
	return e.profiles.GetProfile(ctx, accountID)
}

// UpdateProfile sets the name fields of the profile and the provider's
// display name.
func (e *Engine) UpdateProfile(ctx context.Context, firstName, lastName string) (*Profile, error) {
	first := strings.TrimSpace(firstName)
	last := strings.TrimSpace(lastName)
	if first == "" || last == "" {
		return nil, fieldError("name", "Please enter your first and last name")
	}

	p, err := e.updateProfile(ctx, func(p *Profile) error {
		p.FirstName = first
		p.LastName = last
		p.Name = first + " " + last
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.provider.UpdateDisplayName(ctx, p.Name); err != nil {
		e.log.Warn(ctx, "display name not updated", "error", err)
	}
	return p, nil
}

// UpdateHealthData replaces the dashboard summary.
func (e *Engine) UpdateHealthData(ctx context.Context, data HealthData) (*Profile, error) {
	if data.HeartRate < 0 || data.Cycling < 0 || data.Steps < 0 || data.Sleep < 0 {
		return nil, fieldError("healthData", "Health values cannot be negative")
	}
	return e.updateProfile(ctx, func(p *Profile) error {
		p.HealthData = data
		return nil
	})
}

// CompleteOnboarding sets the device onboarding flag.
func (e *Engine) CompleteOnboarding(ctx context.Context) error {
	if e == nil || e.session == nil {
		return ErrEngineNotReady
	}
	return e.session.CompleteOnboarding(ctx)
}

// ListContacts returns the emergency contacts in stored order.
func (e *Engine) ListContacts(ctx context.Context) ([]EmergencyContact, error) {
	p, err := e.Profile(ctx)
	if err != nil {
		return nil, err
	}
	return append([]EmergencyContact(nil), p.EmergencyContacts...), nil
}

// AddContact appends c with a new id. The first contact becomes the
// default; a contact added with IsDefault takes the default from the rest.
func (e *Engine) AddContact(ctx context.Context, c EmergencyContact) (EmergencyContact, error) {
	if err := validateContact(c); err != nil {
		return EmergencyContact{}, err
	}
	c.ID = uuid.NewString()
	c.Phone = phone.Clean(c.Phone)

	var added EmergencyContact
	_, err := e.updateProfile(ctx, func(p *Profile) error {
		entry := c
		if len(p.EmergencyContacts) == 0 {
			entry.IsDefault = true
		}
		if entry.IsDefault {
			clearDefault(p.EmergencyContacts)
		}
		p.EmergencyContacts = append(p.EmergencyContacts, entry)
		added = entry
		return nil
	})
	if err != nil {
		return EmergencyContact{}, err
	}
	return added, nil
}

// UpdateContact replaces the contact with c.ID. The default flag is changed
// only through SetDefaultContact.
func (e *Engine) UpdateContact(ctx context.Context, c EmergencyContact) error {
	if err := validateContact(c); err != nil {
		return err
	}
	_, err := e.updateProfile(ctx, func(p *Profile) error {
		i := contactIndex(p.EmergencyContacts, c.ID)
		if i < 0 {
			return ErrContactNotFound
		}
		c.Phone = phone.Clean(c.Phone)
		c.IsDefault = p.EmergencyContacts[i].IsDefault
		p.EmergencyContacts[i] = c
		return nil
	})
	return err
}

// RemoveContact deletes a contact. Removing the default promotes the first
// remaining contact.
func (e *Engine) RemoveContact(ctx context.Context, id string) error {
	_, err := e.updateProfile(ctx, func(p *Profile) error {
		i := contactIndex(p.EmergencyContacts, id)
		if i < 0 {
			return ErrContactNotFound
		}
		wasDefault := p.EmergencyContacts[i].IsDefault
		p.EmergencyContacts = append(p.EmergencyContacts[:i], p.EmergencyContacts[i+1:]...)
		if wasDefault && len(p.EmergencyContacts) > 0 {
			p.EmergencyContacts[0].IsDefault = true
		}
		return nil
	})
	return err
}

// SetDefaultContact makes id the only default contact.
func (e *Engine) SetDefaultContact(ctx context.Context, id string) error {
	_, err := e.updateProfile(ctx, func(p *Profile) error {
		i := contactIndex(p.EmergencyContacts, id)
		if i < 0 {
			return ErrContactNotFound
		}
		clearDefault(p.EmergencyContacts)
		p.EmergencyContacts[i].IsDefault = true
		return nil
	})
	return err
}

func (e *Engine) updateProfile(ctx context.Context, fn func(*Profile) error) (*Profile, error) {
	accountID, err := e.currentAccountID()
	if err != nil {
		return nil, err
	}
	p, err := e.profiles.UpdateProfile(ctx, accountID, fn)
	if err != nil {
		if KindOf(err) == KindStorageUnauthorized || KindOf(err) == KindStorageQuota {
			e.metricInc(MetricProfileWriteFailure)
		}
		return nil, err
	}
	e.session.applyProfile(accountID, p)
	return p, nil
}

func validateContact(c EmergencyContact) error {
	if strings.TrimSpace(c.Name) == "" {
		return fieldError("name", "Please enter a name")
	}
	if strings.TrimSpace(c.Relationship) == "" {
		return fieldError("relationship", "Please enter a relationship")
	}
	if !phone.ValidSubscriber(phone.Clean(c.Phone)) {
		return fieldError("phone", "Please enter a valid phone number (digits only)")
	}
	return nil
}

func contactIndex(contacts []EmergencyContact, id string) int {
	for i := range contacts {
		if contacts[i].ID == id {
			return i
		}
	}
	return -1
}

func clearDefault(contacts []EmergencyContact) {
	for i := range contacts {
		contacts[i].IsDefault = false
	}
}
