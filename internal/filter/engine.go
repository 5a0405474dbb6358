// Package filter implements the keyword filter applied to resolved items.
package filter

import "strings"

// MatchedBy reports whether title passes filters and returns the first
// filter that matched. An empty filter list accepts everything with an empty
// filter; otherwise the title must contain at least one filter as a
// case-sensitive substring.
func MatchedBy(title string, filters []string) (string, bool) {
	if len(filters) == 0 {
		return "", true
	}
	for _, f := range filters {
		if f == "" {
			continue
		}
		if strings.Contains(title, f) {
			return f, true
		}
	}
	return "", false
}

// Normalize drops empty entries and keeps the rest byte-for-byte in the
// configured order. Surrounding spaces are part of the match.
func Normalize(filters []string) []string {
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		if f == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}
