package verification

import "strings"

// CanonicalHex lowercases and trims a hex value and gives it exactly one
// "0x" prefix, however many it had.
func CanonicalHex(value string) string {
	s := strings.ToLower(strings.TrimSpace(value))
	for strings.HasPrefix(s, "0x") {
		s = s[2:]
	}
	return "0x" + s
}

// sameHex reports whether two hex values are equal in canonical form. An
// empty value never matches, so a doctor without a key on file cannot verify.
func sameHex(local, reported string) bool {
	a, b := CanonicalHex(local), CanonicalHex(reported)
	if a == "0x" || b == "0x" {
		return false
	}
	return a == b
}
