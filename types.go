package healthauth

import (
	"strings"
	"time"
)

// Account is one end user as reported by the identity provider. ID is
// assigned by the provider at creation and never changes.
type Account struct {
	ID            string
	Email         string
	DisplayName   string
	EmailVerified bool
	PhoneNumber   string
	CreatedAt     time.Time
}

// VerificationStatus is the per-account verification state. TwoFactorEnabled
// implies PhoneVerified.
type VerificationStatus struct {
	EmailVerified    bool   `json:"emailVerified" yaml:"emailVerified"`
	PhoneVerified    bool   `json:"phoneVerified" yaml:"phoneVerified"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled" yaml:"twoFactorEnabled"`
	PhoneNumber      string `json:"phoneNumber,omitempty" yaml:"phoneNumber,omitempty"`
}

// Factor is an enrolled phone second factor. PhoneNumber is masked when the
// factor is returned as a challenge hint.
type Factor struct {
	ID          string
	PhoneNumber string
	DisplayName string
	EnrolledAt  time.Time
}

// ChallengeContext is the resolver produced when sign-in stops for a
// second factor: the enrolled factors that may answer it and an opaque
// session token.
type ChallengeContext struct {
	Hints   []Factor
	Session string
}

// PhoneCodeRequest asks the provider to text a verification code. When
// Challenge is set the code answers that sign-in challenge and HintID
// selects the enrolled factor; PhoneNumber is then ignored.
type PhoneCodeRequest struct {
	PhoneNumber  string
	CaptchaToken string
	Challenge    *ChallengeContext
	HintID       string
}

// Credential is the proof of a confirmed phone code. It is accepted once by
// LinkPhone, EnrollSecondFactor or ResolveSecondFactor.
type Credential struct {
	SessionID   string
	PhoneNumber string
	Proof       string
}

// HealthData is the dashboard summary stored with the profile.
type HealthData struct {
	HeartRate int     `json:"heartRate" yaml:"heartRate"`
	Cycling   int     `json:"cycling" yaml:"cycling"`
	Steps     int     `json:"steps" yaml:"steps"`
	Sleep     float64 `json:"sleep" yaml:"sleep"`
}

// DefaultHealthData is written into newly created profiles.
func DefaultHealthData() HealthData {
	return HealthData{HeartRate: 78, Cycling: 24, Steps: 15000, Sleep: 8}
}

// EmergencyContact is one entry of the profile's contact list. At most one
// contact is the default.
type EmergencyContact struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	CountryCode  string `json:"countryCode"`
	Phone        string `json:"phone"`
	IsDefault    bool   `json:"isDefault"`
}

// Profile is the remote user document. It is the source of truth for
// verification flags; local caches only mirror it.
type Profile struct {
	Name              string             `json:"name"`
	FirstName         string             `json:"firstName,omitempty"`
	LastName          string             `json:"lastName,omitempty"`
	Email             string             `json:"email,omitempty"`
	PhoneNumber       string             `json:"phoneNumber,omitempty"`
	PhoneVerified     bool               `json:"phoneVerified"`
	EmailVerified     bool               `json:"emailVerified"`
	TwoFactorEnabled  bool               `json:"twoFactorEnabled"`
	CreatedAt         time.Time          `json:"createdAt"`
	HealthData        HealthData         `json:"healthData"`
	EmergencyContacts []EmergencyContact `json:"emergencyContacts"`
}

// Status returns the verification flags stored in p.
func (p *Profile) Status() VerificationStatus {
	return VerificationStatus{
		EmailVerified:    p.EmailVerified,
		PhoneVerified:    p.PhoneVerified,
		TwoFactorEnabled: p.TwoFactorEnabled,
		PhoneNumber:      p.PhoneNumber,
	}
}

// defaultProfile is the document created for an account that has none.
func defaultProfile(acct *Account, now time.Time) Profile {
	name := acct.DisplayName
	if strings.TrimSpace(name) == "" {
		id := acct.ID
		if len(id) > 4 {
			id = id[:4]
		}
		name = "User-" + id
	}
	first, last, _ := strings.Cut(name, " ")
	createdAt := acct.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return Profile{
		Name:              name,
		FirstName:         first,
		LastName:          last,
		Email:             acct.Email,
		PhoneNumber:       acct.PhoneNumber,
		PhoneVerified:     acct.PhoneNumber != "",
		EmailVerified:     acct.EmailVerified,
		CreatedAt:         createdAt.UTC(),
		HealthData:        DefaultHealthData(),
		EmergencyContacts: []EmergencyContact{},
	}
}
