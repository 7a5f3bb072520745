package waitlist_gate

import (
	"regexp"
	"strings"
)

const (
	minEmailLength = 5
	maxEmailLength = 254
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Validation is the verdict of a single check. Kind is Accepted when Valid.
type Validation struct {
	Valid  bool
	Kind   Kind
	Reason string
}

var valid = Validation{Valid: true, Kind: Accepted}

func invalid(kind Kind, reason string) Validation {
	return Validation{Valid: false, Kind: kind, Reason: reason}
}

// Normalize trims surrounding whitespace and lower-cases the address.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks format and length of the normalized candidate.
func ValidateEmail(candidate string) Validation {
	email := Normalize(candidate)

	if email == "" || !emailPattern.MatchString(email) {
		return invalid(InvalidFormat, MsgInvalidFormat)
	}
	if len(email) < minEmailLength {
		return invalid(TooShort, MsgTooShort)
	}
	if len(email) > maxEmailLength {
		return invalid(TooLong, MsgTooLong)
	}

	return valid
}

// domainOf returns everything after the last '@', or "" when there is none.
func domainOf(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return email[at+1:]
}
