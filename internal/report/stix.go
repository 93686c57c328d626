// Package report builds STIX 2.1 indicator bundles for reported threats and
// delivers them to the configured sinks.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	specVersion = "2.1"

	// stixTime is the STIX timestamp layout: UTC with millisecond precision.
	stixTime = "2006-01-02T15:04:05.000Z"

	// patternLimit is the number of characters of free-text content kept in
	// a non-URL pattern.
	patternLimit = 50

	defaultProduct = "CEREBRO Phishing Defense"
)

// ErrInvalidContent is returned for content that cannot be embedded in a
// pattern.
var ErrInvalidContent = errors.New("content is not valid UTF-8")

// Bundle is a STIX bundle holding one indicator and the report that
// references it.
type Bundle struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Objects []any  `json:"objects"`
}

// KillChainPhase places an indicator in a kill chain.
type KillChainPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"`
}

// ExternalReference points at an external description of the technique.
type ExternalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url,omitempty"`
}

// Indicator is a STIX indicator SDO.
type Indicator struct {
	Type               string              `json:"type"`
	SpecVersion        string              `json:"spec_version"`
	ID                 string              `json:"id"`
	Created            string              `json:"created"`
	Modified           string              `json:"modified"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	Labels             []string            `json:"labels"`
	Pattern            string              `json:"pattern"`
	PatternType        string              `json:"pattern_type"`
	ValidFrom          string              `json:"valid_from"`
	KillChainPhases    []KillChainPhase    `json:"kill_chain_phases"`
	ExternalReferences []ExternalReference `json:"external_references"`
}

// Report is a STIX report SDO.
type Report struct {
	Type        string   `json:"type"`
	SpecVersion string   `json:"spec_version"`
	ID          string   `json:"id"`
	Created     string   `json:"created"`
	Modified    string   `json:"modified"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Published   string   `json:"published"`
	ObjectRefs  []string `json:"object_refs"`
}

// Result is what BuildReport returns: a bundle, or the reason one could not
// be built. Either way it marshals to JSON.
type Result struct {
	Bundle *Bundle
	Err    string
}

// OK reports whether r holds a bundle.
func (r Result) OK() bool { return r.Bundle != nil }

// MarshalJSON encodes the bundle itself, or {"error": "..."}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Bundle != nil {
		return json.Marshal(r.Bundle)
	}
	return json.Marshal(map[string]string{"error": r.Err})
}

// Generator builds indicator bundles. The zero value is usable.
type Generator struct {
	// Product names the detector in indicator descriptions.
	Product string
	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// NewGenerator returns a Generator using the wall clock and random UUIDs.
func NewGenerator(product string) *Generator {
	return &Generator{Product: product, Now: time.Now, NewID: uuid.NewString}
}

// BuildReport wraps content in an indicator plus a report referencing it.
// It never fails outright: problems are captured in the Result.
func (g *Generator) BuildReport(threatType, content string) Result {
	b, err := g.build(threatType, content)
	if err != nil {
		return Result{Err: err.Error()}
	}
	return Result{Bundle: b}
}

func (g *Generator) build(threatType, content string) (*Bundle, error) {
	pattern, err := buildPattern(threatType, content)
	if err != nil {
		return nil, fmt.Errorf("failed to build pattern: %w", err)
	}

	now := g.now().UTC()
	ts := now.Format(stixTime)
	product := g.Product
	if product == "" {
		product = defaultProduct
	}

	indicator := Indicator{
		Type:        "indicator",
		SpecVersion: specVersion,
		ID:          "indicator--" + g.id(),
		Created:     ts,
		Modified:    ts,
		Name:        "Phishing Indicator: " + threatType,
		Description: fmt.Sprintf("Detected by %s. Type: %s", product, threatType),
		Labels:      []string{"phishing", "malicious-activity"},
		Pattern:     pattern,
		PatternType: "stix",
		ValidFrom:   ts,
		KillChainPhases: []KillChainPhase{
			{KillChainName: "mitre-attack", PhaseName: "initial-access"},
		},
		ExternalReferences: []ExternalReference{technique(threatType)},
	}

	rep := Report{
		Type:        "report",
		SpecVersion: specVersion,
		ID:          "report--" + g.id(),
		Created:     ts,
		Modified:    ts,
		Name:        "Incident Report - " + now.Format("2006-01-02 15:04"),
		Description: fmt.Sprintf("User reported %s. Content: %s", threatType, content),
		Published:   ts,
		ObjectRefs:  []string{indicator.ID},
	}

	return &Bundle{
		Type:    "bundle",
		ID:      "bundle--" + g.id(),
		Objects: []any{indicator, rep},
	}, nil
}

func (g *Generator) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

func (g *Generator) id() string {
	if g.NewID == nil {
		return uuid.NewString()
	}
	return g.NewID()
}

// IsURLCategory reports whether threatType names a URL threat.
func IsURLCategory(threatType string) bool {
	return strings.Contains(strings.ToLower(threatType), "url")
}

func buildPattern(threatType, content string) (string, error) {
	if !utf8.ValidString(content) {
		return "", ErrInvalidContent
	}
	if IsURLCategory(threatType) {
		return fmt.Sprintf("[url:value = '%s']", escape(content)), nil
	}

	body := content
	if utf8.RuneCountInString(content) > patternLimit {
		body = string([]rune(content)[:patternLimit]) + "..."
	}
	return fmt.Sprintf("[email-message:body_multipart.body_raw.content MATCHES '%s']", escape(body)), nil
}

var patternEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func escape(s string) string { return patternEscaper.Replace(s) }

func technique(threatType string) ExternalReference {
	if IsURLCategory(threatType) {
		return ExternalReference{
			SourceName: "mitre-attack",
			ExternalID: "T1566.002",
			URL:        "https://attack.mitre.org/techniques/T1566/002/",
		}
	}
	return ExternalReference{
		SourceName: "mitre-attack",
		ExternalID: "T1566",
		URL:        "https://attack.mitre.org/techniques/T1566/",
	}
}
