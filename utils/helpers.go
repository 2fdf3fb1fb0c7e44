package utils

import (
	"net/mail"
	"regexp"
	"strings"
)

func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month":
		return true
	default:
		return false
	}
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail is the strict check used for account addresses.
func IsValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

var trackableEmail = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsTrackableEmail is the permissive local@domain.tld check applied to
// addresses captured from visitor forms.
func IsTrackableEmail(email string) bool {
	return trackableEmail.MatchString(strings.TrimSpace(email))
}
