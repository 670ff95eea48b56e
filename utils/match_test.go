package utils

import "testing"

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		value   string
		pattern string
		want    bool
	}{
		{"documents/q3-report", "documents/*", true},
		{"documents/2026/q3", "documents/*", true},
		{"reports/q3", "documents/*", false},
		{"documents", "documents", true},
		{"documents", "docs", false},
		{"projects/alpha/docs", "projects/:id/docs", true},
		{"projects/alpha/files", "projects/:id/docs", false},
		{"anything/at/all", "*", true},
		{"read", "read", true},
		{"read", "*", true},
	}
	for _, c := range cases {
		if got := MatchPattern(c.value, c.pattern); got != c.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", c.value, c.pattern, got, c.want)
		}
	}
}
