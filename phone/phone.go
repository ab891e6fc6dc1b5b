package phone

import (
	"errors"
	"regexp"
	"strings"
)

const (
	// MinSubscriberDigits is the shortest accepted subscriber number.
	MinSubscriberDigits = 6
	// MaxSubscriberDigits is the longest accepted subscriber number.
	MaxSubscriberDigits = 14
	// CodeLength is the length of an SMS verification code.
	CodeLength = 6
)

var (
	ErrEmptyNumber        = errors.New("phone number is required")
	ErrInvalidSubscriber  = errors.New("please enter a valid phone number (digits only)")
	ErrInvalidCallingCode = errors.New("invalid country calling code")
	ErrNotE164            = errors.New("phone number is not in E.164 format")
	ErrUnknownCallingCode = errors.New("no configured country matches the calling code")
)

var (
	subscriberPattern  = regexp.MustCompile(`^\d{6,14}$`)
	callingCodePattern = regexp.MustCompile(`^[1-9]\d{0,2}$`)
	e164Pattern        = regexp.MustCompile(`^\+[1-9]\d{6,16}$`)
	separatorReplacer  = strings.NewReplacer(" ", "", "\t", "", "(", "", ")", "", "-", "")
)

// Country is one selectable entry of the calling-code picker.
type Country struct {
	Code        string
	Name        string
	CallingCode string
}

// DefaultCountries is the picker list in display order. The order is also
// the match order used by Parse.
var DefaultCountries = []Country{
	{Code: "AU", Name: "Australia", CallingCode: "61"},
	{Code: "US", Name: "United States", CallingCode: "1"},
	{Code: "GB", Name: "United Kingdom", CallingCode: "44"},
	{Code: "IN", Name: "India", CallingCode: "91"},
	{Code: "CA", Name: "Canada", CallingCode: "1"},
}

// Clean strips whitespace, parentheses and dashes from user input.
func Clean(local string) string {
	return separatorReplacer.Replace(strings.TrimSpace(local))
}

// ValidSubscriber reports whether digits is 6 to 14 ASCII digits.
func ValidSubscriber(digits string) bool {
	return subscriberPattern.MatchString(digits)
}

// Format builds +<callingCode><subscriber> from a calling code and raw user
// input. The subscriber part is cleaned first and must be 6 to 14 digits.
func Format(callingCode, local string) (string, error) {
	callingCode = strings.TrimPrefix(strings.TrimSpace(callingCode), "+")
	if !callingCodePattern.MatchString(callingCode) {
		return "", ErrInvalidCallingCode
	}

	cleaned := Clean(local)
	if cleaned == "" {
		return "", ErrEmptyNumber
	}
	if !ValidSubscriber(cleaned) {
		return "", ErrInvalidSubscriber
	}

	return "+" + callingCode + cleaned, nil
}

// ValidE164 reports whether number is "+" followed by 7 to 17 digits with a
// non-zero leading digit.
func ValidE164(number string) bool {
	return e164Pattern.MatchString(number)
}

// Parse splits a stored E.164 number into the first country in countries
// whose calling code prefixes the digits, and the remaining subscriber
// digits. A nil countries slice means DefaultCountries.
func Parse(number string, countries []Country) (Country, string, error) {
	if countries == nil {
		countries = DefaultCountries
	}
	if !strings.HasPrefix(number, "+") {
		return Country{}, "", ErrNotE164
	}
	digits := number[1:]
	if !isDigits(digits) {
		return Country{}, "", ErrNotE164
	}

	for _, c := range countries {
		if c.CallingCode == "" || !strings.HasPrefix(digits, c.CallingCode) {
			continue
		}
		subscriber := digits[len(c.CallingCode):]
		if !ValidSubscriber(subscriber) {
			return Country{}, "", ErrInvalidSubscriber
		}
		return c, subscriber, nil
	}

	return Country{}, "", ErrUnknownCallingCode
}

// Lookup finds a country by its ISO code, case-insensitively.
func Lookup(countries []Country, code string) (Country, bool) {
	if countries == nil {
		countries = DefaultCountries
	}
	for _, c := range countries {
		if strings.EqualFold(c.Code, code) {
			return c, true
		}
	}
	return Country{}, false
}

// IsCode reports whether code is exactly length ASCII digits.
func IsCode(code string, length int) bool {
	return len(code) == length && isDigits(code)
}

// Mask hides all but the last three digits of an E.164 number, keeping the
// leading "+" and the first two digits, e.g. "+61*******678".
func Mask(number string) string {
	if len(number) <= 6 {
		return number
	}
	head := number[:3]
	tail := number[len(number)-3:]
	return head + strings.Repeat("*", len(number)-6) + tail
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
