package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/healthauth"
	"golang.org/x/crypto/argon2"
)

// OpPolicy names the operation on policy errors returned by this package.
// Callers usually re-wrap them with their own operation.
const OpPolicy = "password_policy"

const (
	saltBytes = 16
	keyBytes  = 32

	minMemoryKiB = 8 * 1024
)

var (
	// ErrTooShort is wrapped by policy errors for passwords under MinLength.
	ErrTooShort = errors.New("password should be at least 8 characters")
	// ErrTooLong is wrapped by policy errors for passwords over MaxBytes.
	ErrTooLong = errors.New("password is too long")
	// ErrMalformedHash is returned by Verify and Stale for a stored hash that
	// is not an argon2id PHC string this package can read.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Policy bounds account passwords. Sign-up, password change and password
// reset all go through it.
type Policy struct {
	MinLength int
	MaxBytes  int
}

// DefaultPolicy matches the app's "at least 8 characters" rule.
func DefaultPolicy() Policy {
	return Policy{MinLength: 8, MaxBytes: 1024}
}

// Check returns nil or a *healthauth.ProviderError of KindWeakPassword
// wrapping ErrTooShort or ErrTooLong.
func (p Policy) Check(pw string) error {
	switch {
	case len(pw) < p.MinLength:
		return healthauth.NewProviderError(OpPolicy, healthauth.KindWeakPassword, ErrTooShort)
	case len(pw) > p.MaxBytes:
		return healthauth.NewProviderError(OpPolicy, healthauth.KindWeakPassword, ErrTooLong)
	}
	return nil
}

func (p Policy) validate() error {
	if p.MinLength < 1 {
		return errors.New("password MinLength must be >= 1")
	}
	if p.MaxBytes < p.MinLength {
		return errors.New("password MaxBytes must be >= MinLength")
	}
	return nil
}

// Params are the argon2id cost parameters for new hashes. Salt and key
// sizes are fixed.
type Params struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
}

// DefaultParams returns interactive sign-in costs.
func DefaultParams() Params {
	return Params{MemoryKiB: 64 * 1024, Time: 3, Parallelism: 2}
}

func (p Params) validate() error {
	if p.MemoryKiB < minMemoryKiB {
		return fmt.Errorf("password MemoryKiB must be >= %d", minMemoryKiB)
	}
	if p.Time < 1 {
		return errors.New("password Time must be >= 1")
	}
	if p.Parallelism < 1 {
		return errors.New("password Parallelism must be >= 1")
	}
	return nil
}

// Hasher applies a Policy and hashes accepted passwords with argon2id. It is
// safe for concurrent use.
type Hasher struct {
	params Params
	policy Policy
}

// NewHasher validates params and policy.
func NewHasher(params Params, policy Policy) (*Hasher, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: params, policy: policy}, nil
}

// Policy returns the policy Hash enforces.
func (h *Hasher) Policy() Policy {
	return h.policy
}

// Hash checks pw against the policy and returns its PHC string.
func (h *Hasher) Hash(pw string) (string, error) {
	if err := h.policy.Check(pw); err != nil {
		return "", err
	}
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	d := digest{
		params: h.params,
		salt:   salt,
		key:    argon2.IDKey([]byte(pw), salt, h.params.Time, h.params.MemoryKiB, h.params.Parallelism, keyBytes),
	}
	return d.String(), nil
}

// Verify reports whether pw matches encoded. Input longer than the policy
// allows never matches and is not hashed.
func (h *Hasher) Verify(pw, encoded string) (bool, error) {
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}
	if len(pw) > h.policy.MaxBytes {
		return false, nil
	}
	got := argon2.IDKey([]byte(pw), d.salt, d.params.Time, d.params.MemoryKiB, d.params.Parallelism, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(got, d.key) == 1, nil
}

// Stale reports whether encoded was made with lower costs than the hasher
// now uses, so the provider can rehash it after a successful sign-in.
func (h *Hasher) Stale(encoded string) (bool, error) {
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}
	p := d.params
	return p.MemoryKiB < h.params.MemoryKiB || p.Time < h.params.Time || p.Parallelism < h.params.Parallelism, nil
}

// digest is one decoded PHC string:
//
//	$argon2id$v=19$m=<KiB>,t=<time>,p=<lanes>$<salt>$<key>
//
// Salt and key use unpadded standard base64.
type digest struct {
	params Params
	salt   []byte
	key    []byte
}

func (d digest) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		d.params.MemoryKiB, d.params.Time, d.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(d.salt),
		base64.RawStdEncoding.EncodeToString(d.key),
	)
}

func parseDigest(encoded string) (digest, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return digest{}, ErrMalformedHash
	}
	if fields[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return digest{}, ErrMalformedHash
	}

	var d digest
	var rest string
	n, _ := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d%s", &d.params.MemoryKiB, &d.params.Time, &d.params.Parallelism, &rest)
	if n != 3 || d.params.validate() != nil {
		return digest{}, ErrMalformedHash
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil || len(d.salt) < saltBytes {
		return digest{}, ErrMalformedHash
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil || len(d.key) < 16 {
		return digest{}, ErrMalformedHash
	}
	return d, nil
}
