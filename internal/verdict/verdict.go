// Package verdict fuses the feed, allowlist, heuristic and forensics signals
// for a URL into a single Verdict, and combines that Verdict with the
// classifier's opinion.
package verdict

import (
	"net/url"
	"strings"

	"github.com/Jaidealistic/CEREBRO/internal/forensics"
)

// Status is the threat status of a Verdict.
type Status string

const (
	StatusClean      Status = "Clean"
	StatusSuspicious Status = "Suspicious"
	StatusMalicious  Status = "Malicious"
)

// Verdict sources.
const (
	SourceAllowlist       = "Allowed List"
	SourceDefaultFeed     = "URLHaus (Abuse.ch)"
	SourceHeuristic       = "Heuristic Analysis"
	SourceGlobalThreatsDB = "Global Threat Database"
)

// Verdict is the engine's own classification of a URL. Forensics is always
// populated, failed probes included.
type Verdict struct {
	Source    string           `json:"source"`
	Status    Status           `json:"status"`
	Details   string           `json:"details"`
	Forensics forensics.Report `json:"forensics"`
}

// ExtractDomain returns the host of rawURL without port or userinfo, the
// name the forensics probes resolve. When rawURL has no parseable
// authority, the text before the first '/' is used instead.
func ExtractDomain(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		if host := u.Hostname(); host != "" {
			return host
		}
	}
	return beforeSlash(rawURL)
}

// ExtractAuthority returns the authority of rawURL as written, userinfo and
// port included. Trust decisions use it so that "google.com:8443" or
// "x@google.com" never pass for "google.com".
func ExtractAuthority(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		if u.User != nil {
			return u.User.String() + "@" + u.Host
		}
		return u.Host
	}
	return beforeSlash(rawURL)
}

func beforeSlash(s string) string {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return s
}
