package phone

import "strings"

// Suffix families used by the gateway for JIDs. Group JIDs never map to an
// individual phone number.
const (
	SuffixUser       = "@s.whatsapp.net"
	SuffixUserLegacy = "@c.us"
	SuffixGroup      = "@g.us"
)

// IsGroupJID reports whether the JID addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, SuffixGroup)
}

// ExtractFromJID pulls the bare identifier out of a user JID. It returns ""
// for group JIDs and for anything that does not look like a user address.
func ExtractFromJID(jid string) string {
	jid = strings.TrimSpace(jid)
	if jid == "" || IsGroupJID(jid) {
		return ""
	}

	candidate := jid
	switch {
	case strings.HasSuffix(candidate, SuffixUser):
		candidate = strings.TrimSuffix(candidate, SuffixUser)
	case strings.HasSuffix(candidate, SuffixUserLegacy):
		candidate = strings.TrimSuffix(candidate, SuffixUserLegacy)
	case strings.Contains(candidate, "@"):
		// Unknown suffix family (broadcast, lid, ...): not a phone source.
		return ""
	}

	// Multi-device JIDs carry an agent part after ":".
	if idx := strings.Index(candidate, ":"); idx >= 0 {
		candidate = candidate[:idx]
	}
	return candidate
}

// Canonicalize turns a raw identifier into the digits-only, country-code
// prefixed canonical phone. Formatting characters ("+", spaces, dots,
// dashes, parentheses) are allowed; anything else makes the identifier
// invalid and yields "". Applying it twice yields the same result.
func Canonicalize(raw, countryCode string) string {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '+', ' ', '.', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	digits := OnlyDigits(stripped)
	if digits != stripped || len(digits) < 10 {
		return ""
	}
	if countryCode != "" && !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}
	return digits
}

// OnlyDigits strips everything that is not 0-9.
func OnlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// Format renders a canonical phone as +<digits> for display.
func Format(canonical string) string {
	if canonical == "" {
		return ""
	}
	return "+" + canonical
}

// PlaceholderHandle derives the synthetic contact handle used by stores that
// index contacts by a unique identifier instead of the phone itself.
func PlaceholderHandle(canonical string) string {
	return canonical + "@placeholder.local"
}

// MaskedName produces the generated display name used when a contact has no
// push name: "Cliente " plus the last four digits.
func MaskedName(canonical string) string {
	if len(canonical) < 4 {
		return "Cliente " + canonical
	}
	return "Cliente " + canonical[len(canonical)-4:]
}
