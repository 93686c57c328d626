package threatfeed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// urlField is the column holding the threat URL in URLhaus-style CSV rows.
const urlField = 2

// ParseCSV extracts threat URLs from a URLhaus-style CSV feed. Rows whose
// first field starts with '#' are comments. Rows with too few fields or a
// blank URL are skipped. Order of first appearance is preserved and
// duplicates are dropped.
func ParseCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	seen := make(map[string]struct{})
	var urls []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse feed row: %w", err)
		}
		if len(row) == 0 || strings.HasPrefix(row[0], "#") {
			continue
		}
		if len(row) <= urlField {
			continue
		}
		u := strings.TrimSpace(row[urlField])
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls, nil
}
