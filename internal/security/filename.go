// Package security holds input hygiene helpers for names that end up on disk.
package security

import "strings"

// maxFilenameLen caps sanitized names so generated paths stay short.
const maxFilenameLen = 128

// SanitizeFilename maps an arbitrary identifier, such as a parameter name,
// onto a safe file name component. Runs of characters outside [A-Za-z0-9._-]
// collapse to a single underscore and leading or trailing dots and
// underscores are trimmed. An empty result becomes "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		if safeRune(r) {
			if pending {
				b.WriteByte('_')
				pending = false
			}
			b.WriteRune(r)
			continue
		}
		pending = b.Len() > 0
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

func safeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	}
	return false
}
