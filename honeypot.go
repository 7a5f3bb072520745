package waitlist_gate

import "strings"

// IsBot reports whether the hidden honeypot field was filled in. Humans never
// see the field, so anything but whitespace means automation.
func IsBot(honeypot string) bool {
	return strings.TrimSpace(honeypot) != ""
}
