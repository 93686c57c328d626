package threatfeed

// ThreatItem is one entry of the recent threats listing.
type ThreatItem struct {
	ID        int    `json:"id"`
	URL       string `json:"url"`
	Type      string `json:"type"`
	Source    string `json:"source"`
	Severity  string `json:"severity"`
	Timestamp string `json:"timestamp"`
}

const (
	threatType      = "Malicious URL"
	threatSeverity  = "High"
	timestampLayout = "2006-01-02 15:04:05"
)

// Recent returns up to limit items from the active snapshot in insertion
// order. The feed carries no per-record dates, so every item is stamped with
// the snapshot load time.
func (s *Store) Recent(limit int) []ThreatItem {
	snap := s.Snapshot()
	records := snap.Records(limit)

	stamp := ""
	if !snap.LoadedAt().IsZero() {
		stamp = snap.LoadedAt().Format(timestampLayout)
	}

	items := make([]ThreatItem, 0, len(records))
	for i, u := range records {
		items = append(items, ThreatItem{
			ID:        i,
			URL:       u,
			Type:      threatType,
			Source:    s.opts.Name,
			Severity:  threatSeverity,
			Timestamp: stamp,
		})
	}
	return items
}
