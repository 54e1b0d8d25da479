// Package phone normalizes end-user phone identifiers.
package phone

import (
	"regexp"
	"strings"
)

// russianMobile matches 11-digit numbers with country code 7.
var russianMobile = regexp.MustCompile(`^7\d{10}$`)

// Canonicalize rewrites "7XXXXXXXXXX" to "78XXXXXXXXXX". Every other input is
// returned unchanged.
func Canonicalize(number string) string {
	if russianMobile.MatchString(number) {
		return "78" + number[1:]
	}
	return number
}

// Clean strips a leading '+' and surrounding whitespace.
func Clean(number string) string {
	return strings.TrimPrefix(strings.TrimSpace(number), "+")
}

// IsDigits reports whether s is a non-empty run of ASCII digits.
func IsDigits(s string) bool {
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
