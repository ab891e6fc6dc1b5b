package password

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrEthical07/healthauth"
)

func testParams() Params {
	return Params{MemoryKiB: 8 * 1024, Time: 1, Parallelism: 1}
}

func newTestHasher(t *testing.T, params Params) *Hasher {
	t.Helper()
	h, err := NewHasher(params, DefaultPolicy())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestPolicyCheck(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name  string
		pw    string
		cause error
	}{
		{"empty", "", ErrTooShort},
		{"seven", "seven77", ErrTooShort},
		{"eight", "eight888", nil},
		{"at max", strings.Repeat("x", 1024), nil},
		{"over max", strings.Repeat("x", 1025), ErrTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Check(tt.pw)
			if tt.cause == nil {
				if err != nil {
					t.Fatalf("expected accepted, got %v", err)
				}
				return
			}
			if healthauth.KindOf(err) != healthauth.KindWeakPassword {
				t.Fatalf("expected weak_password kind, got %v", err)
			}
			if !errors.Is(err, tt.cause) || !errors.Is(err, healthauth.ErrWeakPassword) {
				t.Fatalf("expected %v under ErrWeakPassword, got %v", tt.cause, err)
			}
		})
	}
}

func TestHashVerify(t *testing.T) {
	h := newTestHasher(t, testParams())

	hash, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", hash)
	}
	if ok, err := h.Verify("correct-horse", hash); err != nil || !ok {
		t.Fatalf("Verify correct = %v, %v", ok, err)
	}
	if ok, err := h.Verify("battery-staple", hash); err != nil || ok {
		t.Fatalf("Verify wrong = %v, %v", ok, err)
	}

	again, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if again == hash {
		t.Fatal("expected a fresh salt per hash")
	}
}

func TestHashRejectsPolicyViolations(t *testing.T) {
	h := newTestHasher(t, testParams())

	if _, err := h.Hash("seven77"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("x", 1025)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestVerifyOverlongInputDoesNotMatch(t *testing.T) {
	h := newTestHasher(t, testParams())

	hash, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := h.Verify(strings.Repeat("x", 4096), hash)
	if err != nil || ok {
		t.Fatalf("Verify overlong = %v, %v", ok, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t, testParams())

	hash, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	bad := []string{
		"",
		"not-a-phc-hash",
		strings.Replace(hash, "argon2id", "argon2i", 1),
		strings.Replace(hash, "v=19", "v=16", 1),
		strings.Replace(hash, "m=8192", "m=1024", 1),
		strings.Replace(hash, "p=1", "p=1x", 1),
		hash + "$extra",
	}
	for _, encoded := range bad {
		if _, err := h.Verify("correct-horse", encoded); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("Verify(%q) = %v, want ErrMalformedHash", encoded, err)
		}
	}
}

func TestStaleAfterCostsRaised(t *testing.T) {
	old := newTestHasher(t, testParams())
	hash, err := old.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if stale, err := old.Stale(hash); err != nil || stale {
		t.Fatalf("Stale under same params = %v, %v", stale, err)
	}

	raised := testParams()
	raised.Time = 2
	current := newTestHasher(t, raised)
	if stale, err := current.Stale(hash); err != nil || !stale {
		t.Fatalf("Stale after raise = %v, %v", stale, err)
	}
	if ok, err := current.Verify("correct-horse", hash); err != nil || !ok {
		t.Fatalf("old hash should still verify: %v, %v", ok, err)
	}
	if _, err := current.Stale("not-a-phc-hash"); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
}

func TestNewHasherRejectsBadSettings(t *testing.T) {
	if _, err := NewHasher(Params{MemoryKiB: 1024, Time: 1, Parallelism: 1}, DefaultPolicy()); err == nil {
		t.Fatal("expected error for low memory")
	}
	if _, err := NewHasher(Params{MemoryKiB: 8 * 1024, Parallelism: 1}, DefaultPolicy()); err == nil {
		t.Fatal("expected error for zero time")
	}
	if _, err := NewHasher(testParams(), Policy{MinLength: 8, MaxBytes: 4}); err == nil {
		t.Fatal("expected error for MaxBytes below MinLength")
	}
}
