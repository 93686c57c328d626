package verdict

import (
	"github.com/Jaidealistic/CEREBRO/internal/allowlist"
	"github.com/Jaidealistic/CEREBRO/internal/heuristic"
)

// Request is the input every Check sees.
type Request struct {
	URL string
	// Domain is the bare host, used for forensics.
	Domain string
	// Authority is the host as written, with userinfo and port.
	Authority string
}

// Check is one rule in the priority list. Evaluate returns ok=false when the
// rule has nothing to say about the request.
type Check interface {
	Name() string
	Evaluate(req Request) (v Verdict, ok bool)
}

// FeedLookup is the membership view of a threat feed.
type FeedLookup interface {
	Contains(url string) bool
}

// AllowlistCheck marks trusted domains as clean. The authority must match
// exactly; a port or userinfo disqualifies it.
type AllowlistCheck struct {
	IsTrusted func(domain string) bool
}

func (AllowlistCheck) Name() string { return "allowlist" }

func (c AllowlistCheck) Evaluate(req Request) (Verdict, bool) {
	trusted := c.IsTrusted
	if trusted == nil {
		trusted = allowlist.IsTrusted
	}
	if !trusted(req.Authority) {
		return Verdict{}, false
	}
	return Verdict{
		Source:  SourceAllowlist,
		Status:  StatusClean,
		Details: "Domain is in the trusted whitelist.",
	}, true
}

// FeedCheck marks URLs present byte-for-byte in the feed as malicious.
type FeedCheck struct {
	Feed   FeedLookup
	Source string
}

func (FeedCheck) Name() string { return "feed" }

func (c FeedCheck) Evaluate(req Request) (Verdict, bool) {
	if c.Feed == nil || !c.Feed.Contains(req.URL) {
		return Verdict{}, false
	}
	source := c.Source
	if source == "" {
		source = SourceDefaultFeed
	}
	return Verdict{
		Source:  source,
		Status:  StatusMalicious,
		Details: "Listed in threat feed as online malware URL.",
	}, true
}

// HeuristicCheck marks URLs matching phishing patterns as suspicious.
type HeuristicCheck struct {
	Match func(url string) bool
}

func (HeuristicCheck) Name() string { return "heuristic" }

func (c HeuristicCheck) Evaluate(req Request) (Verdict, bool) {
	match := c.Match
	if match == nil {
		match = heuristic.MatchesSuspiciousPattern
	}
	if !match(req.URL) {
		return Verdict{}, false
	}
	return Verdict{
		Source:  SourceHeuristic,
		Status:  StatusSuspicious,
		Details: "URL pattern matches common phishing attacks.",
	}, true
}

// DefaultCheck always answers: a URL no other check recognises is reported
// clean, not unknown.
type DefaultCheck struct{}

func (DefaultCheck) Name() string { return "default" }

func (DefaultCheck) Evaluate(Request) (Verdict, bool) {
	return Verdict{
		Source:  SourceGlobalThreatsDB,
		Status:  StatusClean,
		Details: "No threat found in known databases.",
	}, true
}

// DefaultChecks returns the standard priority list for feed.
func DefaultChecks(feed FeedLookup, feedSource string) []Check {
	return []Check{
		AllowlistCheck{},
		FeedCheck{Feed: feed, Source: feedSource},
		HeuristicCheck{},
		DefaultCheck{},
	}
}

// Evaluate returns the verdict of the first check that answers.
func Evaluate(checks []Check, req Request) Verdict {
	for _, c := range checks {
		if v, ok := c.Evaluate(req); ok {
			return v
		}
	}
	v, _ := DefaultCheck{}.Evaluate(req)
	return v
}
