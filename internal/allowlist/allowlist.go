// Package allowlist holds the compiled-in set of trusted domains.
package allowlist

import "sort"

var trusted = map[string]struct{}{
	"google.com":        {},
	"www.google.com":    {},
	"youtube.com":       {},
	"facebook.com":      {},
	"amazon.com":        {},
	"wikipedia.org":     {},
	"bnymellon.com":     {},
	"www.bnymellon.com": {},
	"microsoft.com":     {},
	"apple.com":         {},
	"linkedin.com":      {},
}

// IsTrusted reports whether domain is on the allowlist. Matching is exact
// and case-sensitive; subdomains of trusted domains are not trusted.
func IsTrusted(domain string) bool {
	_, ok := trusted[domain]
	return ok
}

// Domains returns the trusted domains in sorted order.
func Domains() []string {
	out := make([]string, 0, len(trusted))
	for d := range trusted {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
