package waitlist_gate

import "strings"

var defaultDisposableDomains = []string{
	"10minutemail.com",
	"discard.email",
	"dispostable.com",
	"emailondeck.com",
	"fakeinbox.com",
	"getairmail.com",
	"getnada.com",
	"guerrillamail.com",
	"guerrillamail.net",
	"guerrillamailblock.com",
	"mailcatch.com",
	"maildrop.cc",
	"mailinator.com",
	"mailnesia.com",
	"mintemail.com",
	"mohmal.com",
	"mytemp.email",
	"sharklasers.com",
	"spamgourmet.com",
	"temp-mail.org",
	"tempail.com",
	"tempmail.com",
	"tempmailo.com",
	"tempr.email",
	"throwawaymail.com",
	"trashmail.com",
	"yopmail.com",
}

// DisposableFilter blocks throwaway mail domains. It matches the exact
// domain only, so "x.mailinator.com" passes while "mailinator.com" does not.
// The set is fixed once constructed.
type DisposableFilter struct {
	domains map[string]struct{}
}

// NewDisposableFilter returns the default blocklist extended with extra.
func NewDisposableFilter(extra ...string) *DisposableFilter {
	f := &DisposableFilter{domains: make(map[string]struct{}, len(defaultDisposableDomains)+len(extra))}
	for _, d := range defaultDisposableDomains {
		f.domains[d] = struct{}{}
	}
	for _, d := range extra {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			f.domains[d] = struct{}{}
		}
	}
	return f
}

// IsDisposable reports whether the domain of an already normalized email is
// on the blocklist.
func (f *DisposableFilter) IsDisposable(email string) bool {
	_, blocked := f.domains[domainOf(email)]
	return blocked
}

// Check is IsDisposable expressed as a Validation.
func (f *DisposableFilter) Check(email string) Validation {
	if f.IsDisposable(email) {
		return invalid(DisposableDomain, MsgDisposableDomain)
	}
	return valid
}

// Len returns the number of blocked domains.
func (f *DisposableFilter) Len() int {
	return len(f.domains)
}
