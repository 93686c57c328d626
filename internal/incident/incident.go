// Package incident records every analysis the service performs, newest
// first, in a capped log.
package incident

import (
	"context"
	"encoding/json"
	"sync"
	"time"
	"unicode/utf8"
)

// Incident types.
const (
	TypeURLScan       = "URL Scan"
	TypeEmailAnalysis = "Email Analysis"
)

// timestampLayout is the wire form of Incident.Timestamp.
const timestampLayout = "2006-01-02 15:04:05"

// targetLimit is how much of an email body an incident keeps.
const targetLimit = 50

// DefaultMaxEntries caps a log when no limit is configured.
const DefaultMaxEntries = 1000

// Incident is one logged analysis.
type Incident struct {
	ID         int64
	Type       string
	Target     string
	Prediction string
	Confidence float64
	Timestamp  time.Time
}

// MarshalJSON renders the API form of the incident.
func (i Incident) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID         int64   `json:"id"`
		Type       string  `json:"type"`
		Target     string  `json:"target"`
		Prediction string  `json:"prediction"`
		Confidence float64 `json:"confidence"`
		Timestamp  string  `json:"timestamp"`
	}{i.ID, i.Type, i.Target, i.Prediction, i.Confidence, i.Timestamp.Format(timestampLayout)})
}

// EmailTarget shortens an email body to the form stored in the log.
func EmailTarget(text string) string {
	if utf8.RuneCountInString(text) <= targetLimit {
		return text
	}
	return string([]rune(text)[:targetLimit]) + "..."
}

// Store persists incidents.
type Store interface {
	// Record assigns the incident an ID and timestamp when unset and
	// stores it.
	Record(ctx context.Context, inc Incident) (Incident, error)
	// List returns up to limit incidents, newest first. limit <= 0 returns
	// everything retained.
	List(ctx context.Context, limit int) ([]Incident, error)
}

// MemoryStore is an in-process Store for deployments without redis.
type MemoryStore struct {
	mu      sync.RWMutex
	max     int
	nextID  int64
	entries []Incident // newest first
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore keeping at most max incidents.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &MemoryStore{max: max, now: time.Now}
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, inc Incident) (Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	inc.ID = s.nextID
	if inc.Timestamp.IsZero() {
		inc.Timestamp = s.now()
	}

	s.entries = append([]Incident{inc}, s.entries...)
	if len(s.entries) > s.max {
		s.entries = s.entries[:s.max]
	}
	return inc, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, limit int) ([]Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Incident, n)
	copy(out, s.entries[:n])
	return out, nil
}
