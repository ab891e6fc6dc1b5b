package healthauth

import (
	"context"
	"errors"
	"testing"
)

func contact(name string) EmergencyContact {
	return EmergencyContact{Name: name, Relationship: "Sibling", CountryCode: "+61", Phone: "0412 345 678"}
}

func TestEmergencyContacts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.signedInVerified(t, "a@b.com", "+61412345678")

	first, err := env.engine.AddContact(ctx, contact("Bea"))
	if err != nil {
		t.Fatalf("AddContact failed: %v", err)
	}
	if !first.IsDefault || first.ID == "" || first.Phone != "0412345678" {
		t.Fatalf("unexpected first contact: %+v", first)
	}
	second, err := env.engine.AddContact(ctx, contact("Cal"))
	if err != nil {
		t.Fatalf("AddContact failed: %v", err)
	}
	if second.IsDefault {
		t.Fatal("second contact must not take the default")
	}

	if err := env.engine.SetDefaultContact(ctx, second.ID); err != nil {
		t.Fatalf("SetDefaultContact failed: %v", err)
	}
	list, _ := env.engine.ListContacts(ctx)
	if list[0].IsDefault || !list[1].IsDefault {
		t.Fatalf("expected exactly the second contact default, got %+v", list)
	}

	edit := list[1]
	edit.Name = "Cal Smith"
	edit.IsDefault = false
	if err := env.engine.UpdateContact(ctx, edit); err != nil {
		t.Fatalf("UpdateContact failed: %v", err)
	}
	list, _ = env.engine.ListContacts(ctx)
	if list[1].Name != "Cal Smith" || !list[1].IsDefault {
		t.Fatalf("update must keep the default flag, got %+v", list[1])
	}

	if err := env.engine.RemoveContact(ctx, second.ID); err != nil {
		t.Fatalf("RemoveContact failed: %v", err)
	}
	list, _ = env.engine.ListContacts(ctx)
	if len(list) != 1 || list[0].ID != first.ID || !list[0].IsDefault {
		t.Fatalf("expected remaining contact promoted, got %+v", list)
	}

	if err := env.engine.RemoveContact(ctx, "missing"); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
	if err := env.engine.SetDefaultContact(ctx, "missing"); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}

	snap := env.engine.Session().Snapshot()
	if len(snap.Profile.EmergencyContacts) != 1 {
		t.Fatal("expected session profile updated")
	}
}

func TestAddContactValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.signedInVerified(t, "a@b.com", "+61412345678")

	bad := []EmergencyContact{
		{Relationship: "Sibling", Phone: "0412345678"},
		{Name: "Bea", Phone: "0412345678"},
		{Name: "Bea", Relationship: "Sibling", Phone: "12ab"},
	}
	for _, c := range bad {
		var fe *FieldError
		if _, err := env.engine.AddContact(ctx, c); !errors.As(err, &fe) {
			t.Fatalf("expected FieldError for %+v, got %v", c, err)
		}
	}
}

func TestUpdateProfileAndHealthData(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Profile(ctx); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}
	env.signedInVerified(t, "a@b.com", "+61412345678")

	p, err := env.engine.UpdateProfile(ctx, " Ada ", "Lovelace")
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if p.Name != "Ada Lovelace" || p.FirstName != "Ada" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if env.provider.CurrentAccount().DisplayName != "Ada Lovelace" {
		t.Fatal("expected display name synced")
	}
	var fe *FieldError
	if _, err := env.engine.UpdateProfile(ctx, "", "Lovelace"); !errors.As(err, &fe) {
		t.Fatalf("expected FieldError, got %v", err)
	}

	if _, err := env.engine.UpdateHealthData(ctx, HealthData{Steps: -1}); !errors.As(err, &fe) {
		t.Fatalf("expected FieldError, got %v", err)
	}
	data := HealthData{HeartRate: 64, Cycling: 10, Steps: 9000, Sleep: 7.5}
	p, err = env.engine.UpdateHealthData(ctx, data)
	if err != nil {
		t.Fatalf("UpdateHealthData failed: %v", err)
	}
	if p.HealthData != data {
		t.Fatalf("unexpected health data: %+v", p.HealthData)
	}
	if got, _ := env.engine.Profile(ctx); got.HealthData != data {
		t.Fatal("expected health data stored")
	}
}
