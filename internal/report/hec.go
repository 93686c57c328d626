package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Jaidealistic/CEREBRO/internal/config"
)

// HECEvent is a Splunk HTTP Event Collector event.
type HECEvent struct {
	Time       float64        `json:"time,omitempty"`
	Host       string         `json:"host,omitempty"`
	Source     string         `json:"source,omitempty"`
	SourceType string         `json:"sourcetype,omitempty"`
	Index      string         `json:"index,omitempty"`
	Event      any            `json:"event"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// HECStats tracks sender activity.
type HECStats struct {
	EventsSent   int64
	EventsFailed int64
	BytesSent    int64
	LastSendAt   time.Time
}

// HECSender forwards report bundles to Splunk via HEC.
type HECSender struct {
	config     config.HECSenderConfig
	token      string
	httpClient *http.Client
	backoff    time.Duration

	mu    sync.RWMutex
	stats HECStats
}

// NewHECSender creates a HECSender. The token is read from the environment
// variable named by cfg.TokenEnv.
func NewHECSender(cfg config.HECSenderConfig) (*HECSender, error) {
	if cfg.HECURL == "" {
		return nil, errors.New("HEC URL is required")
	}
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		return nil, fmt.Errorf("HEC token not found in env var: %s", cfg.TokenEnv)
	}

	return &HECSender{
		config:     cfg,
		token:      token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		backoff:    time.Second,
	}, nil
}

// Name implements Forwarder.
func (s *HECSender) Name() string { return "splunk_hec" }

// Submit sends one submission as a HEC event.
func (s *HECSender) Submit(ctx context.Context, sub Submission) error {
	event := HECEvent{
		Time:       float64(sub.Submitted.Unix()),
		Source:     s.config.Source,
		SourceType: s.config.SourceType,
		Index:      s.config.Index,
		Event:      sub.Result,
		Fields: map[string]any{
			"report_id":   sub.ReportID,
			"threat_type": sub.ThreatType,
			"generated":   sub.Result.OK(),
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode HEC event: %w", err)
	}
	return s.sendWithRetry(ctx, data)
}

// sendWithRetry retries with quadratic backoff until the retry budget or
// ctx runs out.
func (s *HECSender) sendWithRetry(ctx context.Context, data []byte) error {
	var lastErr error

	for attempt := 0; attempt <= s.config.RetryCount; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt*attempt)*s.backoff); err != nil {
				lastErr = err
				break
			}
		}

		err := s.send(ctx, data)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	s.mu.Lock()
	s.stats.EventsFailed++
	s.mu.Unlock()

	return fmt.Errorf("failed after %d retries: %w", s.config.RetryCount, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *HECSender) send(ctx context.Context, data []byte) error {
	url := strings.TrimSuffix(s.config.HECURL, "/") + "/services/collector/event"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Splunk "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HEC request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HEC returned %d: %s", resp.StatusCode, string(body))
	}

	s.mu.Lock()
	s.stats.EventsSent++
	s.stats.BytesSent += int64(len(data))
	s.stats.LastSendAt = time.Now()
	s.mu.Unlock()

	return nil
}

// Stats returns current sender statistics.
func (s *HECSender) Stats() HECStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// HealthCheck verifies connectivity to the HEC endpoint.
func (s *HECSender) HealthCheck(ctx context.Context) error {
	url := strings.TrimSuffix(s.config.HECURL, "/") + "/services/collector/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HEC health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HEC health check returned status %d", resp.StatusCode)
	}
	return nil
}
