package profile

import "strings"

// placeholderBios are texts scrapers emit when a biography could not be read.
var placeholderBios = []string{
	"bio unavailable",
	"no bio",
	"no bio available",
	"no biography",
	"biography unavailable",
	"n/a",
	"-",
	"null",
	"undefined",
}

// IsPlaceholder reports whether s is empty or one of the known placeholder texts.
func IsPlaceholder(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return true
	}
	lower = strings.TrimRight(lower, ".! ")
	for _, p := range placeholderBios {
		if lower == p {
			return true
		}
	}
	return false
}

// CleanText returns s trimmed, or "" when it is a placeholder.
func CleanText(s string) string {
	if IsPlaceholder(s) {
		return ""
	}
	return strings.TrimSpace(s)
}
