package idgen

import (
	"strings"
	"unicode"
)

// E.161 letter groups; index is the digit.
var keypad = [...]string{"", "", "ABC", "DEF", "GHI", "JKL", "MNO", "PQRS", "TUV", "WXYZ"}

// KeypadCode maps the alphanumeric body of a help id (everything after the
// HLP prefix, dash removed) to the digits a caller presses on a phone keypad.
// HLP1A2B-XY becomes 122299.
func KeypadCode(helpID string) string {
	body := NormalizeHelpID(helpID)
	body = strings.TrimPrefix(body, "HLP")
	var b strings.Builder
	for _, r := range body {
		if d, ok := keyFor(r); ok {
			b.WriteByte(d)
		}
	}
	return b.String()
}

// NormalizeHelpID upper-cases and strips anything that is not a letter or digit.
func NormalizeHelpID(v string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(v) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsDigits reports whether v is a non-empty run of 0-9.
func IsDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func keyFor(r rune) (byte, bool) {
	if r >= '0' && r <= '9' {
		return byte(r), true
	}
	for d, letters := range keypad {
		if strings.ContainsRune(letters, r) {
			return byte('0' + d), true
		}
	}
	return 0, false
}
