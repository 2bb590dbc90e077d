package specfile

import "strings"

// ReleaseToken is a Release tag value split into its leading digits and the
// suffix that follows them (dist tag, macros). Only Digits is ever changed.
type ReleaseToken struct {
	Digits string
	Suffix string
}

// ParseRelease splits s at the first non-digit character
func ParseRelease(s string) ReleaseToken {
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if i < 0 {
		i = len(s)
	}
	return ReleaseToken{Digits: s[:i], Suffix: s[i:]}
}

// String joins digits and suffix back together
func (t ReleaseToken) String() string {
	return t.Digits + t.Suffix
}

// HasNumber reports whether the token starts with at least one digit
func (t ReleaseToken) HasNumber() bool {
	return t.Digits != ""
}

// IsInitial reports whether the numeric prefix is zero
func (t ReleaseToken) IsInitial() bool {
	return t.HasNumber() && strings.TrimLeft(t.Digits, "0") == ""
}

// Reset returns the token with its numeric prefix replaced by "0"
func (t ReleaseToken) Reset() ReleaseToken {
	return ReleaseToken{Digits: "0", Suffix: t.Suffix}
}

// Increment returns the token with its numeric prefix raised by one.
// Leading zeros are dropped and a token without digits starts at 1. The
// digits are added as text so prefixes of any length work.
func (t ReleaseToken) Increment() ReleaseToken {
	digits := []byte(strings.TrimLeft(t.Digits, "0"))
	i := len(digits) - 1
	for ; i >= 0 && digits[i] == '9'; i-- {
		digits[i] = '0'
	}
	if i < 0 {
		digits = append([]byte{'1'}, digits...)
	} else {
		digits[i]++
	}
	return ReleaseToken{Digits: string(digits), Suffix: t.Suffix}
}
