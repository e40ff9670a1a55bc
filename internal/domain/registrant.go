package domain

import "strings"

// Registrant is a pre-approved identity from the roster, keyed by
// registration id (e.g. "CSE/20/38"). Immutable after load.
type Registrant struct {
	RegistrationID string
	Name           string
	Email          string
}

// NameMatches compares a candidate full name against the canonical one,
// ignoring case and surrounding whitespace.
func (r Registrant) NameMatches(candidate string) bool {
	return strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(r.Name))
}

// EmailMatches compares a candidate email exactly.
func (r Registrant) EmailMatches(candidate string) bool {
	return candidate == r.Email
}
