// Package threatfeed maintains the set of known-malicious URLs loaded from a
// remote CSV feed, with a local cache file as fallback.
package threatfeed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Jaidealistic/CEREBRO/internal/observability"
)

// Provenance records where the active snapshot came from.
type Provenance string

const (
	ProvenanceLive  Provenance = "live"
	ProvenanceCache Provenance = "cache"
	ProvenanceEmpty Provenance = "empty"
)

const defaultMaxFeedSize = 100 * 1024 * 1024 // 100 MB

var (
	errTruncated = errors.New("feed exceeds maximum size, skipping to avoid partial data")
	errNoCache   = errors.New("no cache path configured")
)

// Snapshot is an immutable set of threat URLs. Lookups are exact string
// matches with no normalization.
type Snapshot struct {
	records    []string
	index      map[string]struct{}
	provenance Provenance
	loadedAt   time.Time
}

// NewSnapshot builds a snapshot from urls, keeping first-seen order.
func NewSnapshot(urls []string, provenance Provenance, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		records:    make([]string, 0, len(urls)),
		index:      make(map[string]struct{}, len(urls)),
		provenance: provenance,
		loadedAt:   loadedAt,
	}
	for _, u := range urls {
		if _, ok := s.index[u]; ok {
			continue
		}
		s.index[u] = struct{}{}
		s.records = append(s.records, u)
	}
	return s
}

// Contains reports whether url is in the snapshot.
func (s *Snapshot) Contains(url string) bool {
	_, ok := s.index[url]
	return ok
}

// Size returns the number of records.
func (s *Snapshot) Size() int { return len(s.records) }

// Provenance returns where the snapshot was loaded from.
func (s *Snapshot) Provenance() Provenance { return s.provenance }

// LoadedAt returns the load timestamp.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Records returns up to limit records in insertion order. A limit <= 0
// returns nothing.
func (s *Snapshot) Records(limit int) []string {
	if limit <= 0 {
		return nil
	}
	if limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]string, limit)
	copy(out, s.records[:limit])
	return out
}

// Options configures a Store.
type Options struct {
	// Name identifies the feed in verdicts and threat listings.
	Name string
	// URL is the remote CSV feed. Empty skips the remote fetch.
	URL string
	// CachePath is the local CSV used when the remote fetch fails.
	CachePath string
	// FetchTimeout bounds the remote fetch. Defaults to 10s.
	FetchTimeout time.Duration
	// MaxSize caps the remote body. Defaults to 100 MB.
	MaxSize int64
	// WriteCache refreshes CachePath after every successful remote fetch.
	WriteCache bool
	// Client overrides the HTTP client.
	Client *http.Client
}

// Store holds the active feed snapshot. Readers never block on a reload:
// Load builds a complete snapshot off to the side and publishes it with a
// single pointer swap.
type Store struct {
	opts    Options
	client  *http.Client
	logger  *zap.Logger
	metrics *observability.Metrics

	current atomic.Pointer[Snapshot]
	loadMu  sync.Mutex // single writer
}

// NewStore creates a store holding an empty snapshot until the first Load.
func NewStore(opts Options, logger *zap.Logger, metrics *observability.Metrics) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = defaultMaxFeedSize
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	s := &Store{
		opts:    opts,
		client:  client,
		logger:  logger.With(zap.String("component", "threatfeed"), zap.String("feed", opts.Name)),
		metrics: metrics,
	}
	s.current.Store(NewSnapshot(nil, ProvenanceEmpty, time.Time{}))
	return s
}

// Name returns the configured feed name.
func (s *Store) Name() string { return s.opts.Name }

// Snapshot returns the active snapshot.
func (s *Store) Snapshot() *Snapshot { return s.current.Load() }

// Contains reports whether url is in the active snapshot.
func (s *Store) Contains(url string) bool { return s.current.Load().Contains(url) }

// Size returns the number of records in the active snapshot.
func (s *Store) Size() int { return s.current.Load().Size() }

// Update publishes snap as the active snapshot.
func (s *Store) Update(snap *Snapshot) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	s.publish(snap)
}

func (s *Store) publish(snap *Snapshot) {
	s.current.Store(snap)
	s.metrics.ObserveFeedLoad(string(snap.Provenance()), snap.Size())
}

// Load rebuilds the snapshot from the remote feed, falling back to the cache
// file and finally to an empty snapshot. It never fails; the returned
// snapshot is the one now active.
func (s *Store) Load(ctx context.Context) *Snapshot {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	now := time.Now()

	urls, err := s.fetchRemote(ctx)
	if err == nil {
		snap := NewSnapshot(urls, ProvenanceLive, now)
		s.publish(snap)
		s.logger.Info("threat feed loaded from live source", zap.Int("records", snap.Size()))
		return snap
	}
	s.logger.Warn("live threat feed fetch failed, falling back to local cache", zap.Error(err))

	urls, err = s.readCache()
	if err == nil {
		snap := NewSnapshot(urls, ProvenanceCache, now)
		s.publish(snap)
		s.logger.Info("threat feed loaded from local cache",
			zap.Int("records", snap.Size()), zap.String("path", s.opts.CachePath))
		return snap
	}
	s.logger.Warn("threat feed cache unavailable, continuing with empty feed", zap.Error(err))

	snap := NewSnapshot(nil, ProvenanceEmpty, now)
	s.publish(snap)
	return snap
}

func (s *Store) fetchRemote(ctx context.Context) ([]string, error) {
	if s.opts.URL == "" {
		return nil, errors.New("no feed url configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}

	// Read one byte past the cap so an exactly-at-limit body is not mistaken
	// for a truncated one.
	lr := &io.LimitedReader{R: resp.Body, N: s.opts.MaxSize + 1}
	body, err := io.ReadAll(lr)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	if lr.N == 0 {
		return nil, errTruncated
	}

	urls, err := ParseCSV(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if s.opts.WriteCache {
		if err := s.writeCache(body); err != nil {
			s.logger.Warn("failed to refresh threat feed cache", zap.Error(err))
		}
	}
	return urls, nil
}

func (s *Store) readCache() ([]string, error) {
	if s.opts.CachePath == "" {
		return nil, errNoCache
	}
	f, err := os.Open(s.opts.CachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open feed cache: %w", err)
	}
	defer f.Close()
	return ParseCSV(f)
}

// writeCache replaces the cache file via a temp file and rename so a crash
// never leaves a half-written cache behind.
func (s *Store) writeCache(body []byte) error {
	if s.opts.CachePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.CachePath), 0o755); err != nil {
		return err
	}
	tmp := s.opts.CachePath + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	// On Windows, os.Rename fails if the destination exists.
	if runtime.GOOS == "windows" {
		os.Remove(s.opts.CachePath)
	}
	return os.Rename(tmp, s.opts.CachePath)
}
