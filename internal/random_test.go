package internal

import "testing"

func TestNewOTPDigitsOnly(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewOTP(6)
		if err != nil {
			t.Fatalf("NewOTP failed: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
	}
	if _, err := NewOTP(3); err == nil {
		t.Fatal("expected error for 3 digits")
	}
}

func TestOpaqueIDRoundTrip(t *testing.T) {
	id, err := NewOpaqueID()
	if err != nil {
		t.Fatalf("NewOpaqueID failed: %v", err)
	}
	if !ValidOpaqueID(id) {
		t.Fatalf("expected %q to be valid", id)
	}
	if ValidOpaqueID("not-an-id") {
		t.Fatal("expected garbage id to be invalid")
	}
	other, _ := NewOpaqueID()
	if other == id {
		t.Fatal("expected distinct ids")
	}
}

func TestHashCodeBindsSession(t *testing.T) {
	a := HashCode("s1", "123456")
	b := HashCode("s2", "123456")
	if EqualHash(a, b) {
		t.Fatal("expected different digests for different sessions")
	}
	if !EqualHash(a, HashCode("s1", "123456")) {
		t.Fatal("expected identical digests for identical input")
	}
}
