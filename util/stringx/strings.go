package stringx

import (
	"strings"
)

// CutFromRight is similar to strings.Cut,
// but slices s around the last instance of sep.
// If sep does not appear in s, cut returns s, "", false.
func CutFromRight(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

// HasAnySuffix returns true if s ends with any of the given suffixes.
func HasAnySuffix(s string, suffixes ...string) bool {
	for i := range suffixes {
		if strings.HasSuffix(s, suffixes[i]) {
			return true
		}
	}
	return false
}
