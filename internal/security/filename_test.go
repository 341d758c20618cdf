package security

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Es", "Es"},
		{"void_deck", "void_deck"},
		{"", "unknown"},
		{"...", "unknown"},
		{"../../etc/passwd", "etc_passwd"},
		{"Hs ag (m2)", "Hs_ag_m2"},
		{"U/roof", "U_roof"},
		{"ΔT", "T"},
	}
	for _, tc := range cases {
		if got := SanitizeFilename(tc.in); got != tc.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeFilename_Truncates(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("a", 300))
	if len(got) != maxFilenameLen {
		t.Errorf("len = %d, want %d", len(got), maxFilenameLen)
	}
}
