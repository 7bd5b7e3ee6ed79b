package cache

import (
	"regexp"
	"strings"
)

// Literal-stripping substitutions, applied in order. Each match is
// replaced with "?" so structurally identical queries collapse to one
// canonical pattern.
var (
	rePositionalParam = regexp.MustCompile(`\$\d+`)
	reNamedParam      = regexp.MustCompile(`:\w+`)
	reSingleQuoted    = regexp.MustCompile(`'[^']*'`)
	reDoubleQuoted    = regexp.MustCompile(`"[^"]*"`)
	reBareInteger     = regexp.MustCompile(`\b\d+\b`)
)

// timeSensitiveMarkers flag queries whose results depend on wall-clock
// time and therefore must not be cached for long.
var timeSensitiveMarkers = []string{"now()", "current_timestamp", "today"}

// NormalizePattern reduces a query to its literal-stripped canonical
// shape: uppercased, trimmed, with positional parameters, named
// parameters, quoted literals, and bare integers each replaced by "?".
// The pattern is used purely for frequency and duration grouping.
func NormalizePattern(query string) string {
	pattern := strings.ToUpper(strings.TrimSpace(query))
	pattern = rePositionalParam.ReplaceAllString(pattern, "?")
	pattern = reNamedParam.ReplaceAllString(pattern, "?")
	pattern = reSingleQuoted.ReplaceAllString(pattern, "?")
	pattern = reDoubleQuoted.ReplaceAllString(pattern, "?")
	pattern = reBareInteger.ReplaceAllString(pattern, "?")
	return pattern
}

// IsTimeSensitive reports whether the query references wall-clock
// functions and should have its TTL capped regardless of heat or cost.
func IsTimeSensitive(query string) bool {
	lowered := strings.ToLower(query)
	for _, marker := range timeSensitiveMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
