// Package phone normalizes free-form phone strings into dialable
// identifiers and masks them for logging.
package phone

import "strings"

// DefaultCountryCode is prefixed to national-length numbers when the
// caller does not configure one (Brazilian DDI).
const DefaultCountryCode = "55"

// Normalize strips everything but digits and returns the canonical
// dialable number. National numbers (10 or 11 digits) get the country
// code prefixed; numbers already carrying a country code (12+) pass
// through unchanged. ok is false when the input cannot be a phone.
//
// Normalize is idempotent: feeding its output back in returns the same
// string.
func Normalize(raw, countryCode string) (string, bool) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	digits := digitsOnly(raw)
	switch {
	case len(digits) >= 12:
		return digits, true
	case len(digits) == 10 || len(digits) == 11:
		return countryCode + digits, true
	default:
		return "", false
	}
}

// Mask redacts all but the last four digits, preserving non-digit
// formatting characters. Safe for log lines and error details.
func Mask(s string) string {
	total := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			total++
		}
	}
	if total == 0 {
		return s
	}
	keep := 4
	if total < keep {
		keep = total
	}
	var b strings.Builder
	b.Grow(len(s))
	seen := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			seen++
			if seen <= total-keep {
				b.WriteRune('*')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
