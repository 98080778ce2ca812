package utils

import "strings"

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the part after the last '@', lowercased, or "" when
// the address has no domain.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// DeriveName turns first.last@example.edu into "First Last". Addresses that
// do not follow the first.last convention fall back to the capitalized
// local part.
func DeriveName(email string) string {
	local := email
	if at := strings.Index(email, "@"); at >= 0 {
		local = email[:at]
	}
	parts := strings.SplitN(local, ".", 2)
	if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
		return Capitalize(parts[0]) + " " + Capitalize(parts[1])
	}
	return Capitalize(local)
}

func Capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
