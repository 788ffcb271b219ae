// Package phone normalizes carrier phone numbers to E.164.
package phone

import (
	"regexp"
	"strings"
)

var phoneDigitsRe = regexp.MustCompile(`\d+`)

// Digits returns only the digits in value.
func Digits(value string) string {
	if value == "" {
		return ""
	}
	return strings.Join(phoneDigitsRe.FindAllString(value, -1), "")
}

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
// Bare 10-digit numbers are treated as NANP and get a leading 1.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := Digits(value)
	if digits == "" {
		return ""
	}
	if !strings.HasPrefix(value, "+") && len(digits) == 10 {
		digits = "1" + digits
	}
	return "+" + digits
}

// Valid reports whether value is a plausible E.164 number (8 to 15 digits).
func Valid(value string) bool {
	if !strings.HasPrefix(value, "+") {
		return false
	}
	digits := Digits(value)
	return len(digits) >= 8 && len(digits) <= 15 && "+"+digits == value
}

// Mask hides all but the last four digits for logging.
func Mask(value string) string {
	digits := Digits(value)
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}
