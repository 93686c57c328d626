// Package heuristic flags URLs that look like credential-phishing pages.
package heuristic

import "strings"

// MatchesSuspiciousPattern reports whether url contains both the "login" and
// "verification" tokens. Matching is plain case-sensitive substring search,
// so the tokens may come from unrelated parts of the URL.
func MatchesSuspiciousPattern(url string) bool {
	return strings.Contains(url, "login") && strings.Contains(url, "verification")
}
