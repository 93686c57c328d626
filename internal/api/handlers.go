package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Jaidealistic/CEREBRO/internal/classifier"
	"github.com/Jaidealistic/CEREBRO/internal/incident"
	"github.com/Jaidealistic/CEREBRO/internal/verdict"
)

const (
	maxBodySize = 1 << 20

	defaultFeedLimit = 50
	maxFeedLimit     = 1000
)

type urlRequest struct {
	URL string `json:"url"`
}

type emailRequest struct {
	Text string `json:"text"`
}

type notifyRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type urlAnalysis struct {
	verdict.FusedDecision
	Attributions []classifier.Attribution `json:"attributions"`
}

type emailAnalysis struct {
	Prediction   string                   `json:"prediction"`
	Confidence   float64                  `json:"confidence"`
	Attributions []classifier.Attribution `json:"attributions"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
}

func (s *Server) handleAnalyzeURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "No URL provided")
		return
	}
	if s.deps.URLModel == nil {
		writeError(w, http.StatusServiceUnavailable, "URL model not loaded")
		return
	}

	ctx := r.Context()

	// The verdict's forensics and the model call are independent network
	// round trips.
	verdicts := make(chan verdict.Verdict, 1)
	go func() { verdicts <- s.deps.Assessor.Assess(ctx, req.URL) }()

	pred, err := s.deps.URLModel.Classify(ctx, req.URL)
	v := <-verdicts
	if err != nil {
		s.classifierError(w, "url", err)
		return
	}

	decision := verdict.Fuse(v, verdict.ClassifierOutput{
		Label:      verdict.Label(pred.Label),
		Confidence: pred.Confidence,
	})
	s.metrics.ObserveDecision(string(decision.Label), decision.Overridden)

	attrs := s.explain(ctx, s.deps.URLModel, "url", req.URL, pred.Index)

	s.record(ctx, incident.Incident{
		Type:       incident.TypeURLScan,
		Target:     req.URL,
		Prediction: string(decision.Label),
		Confidence: decision.Confidence,
	})

	writeJSON(w, http.StatusOK, urlAnalysis{FusedDecision: decision, Attributions: attrs})
}

func (s *Server) handleAnalyzeEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "No text provided")
		return
	}
	if s.deps.EmailModel == nil {
		writeError(w, http.StatusServiceUnavailable, "Email model not loaded")
		return
	}

	ctx := r.Context()
	pred, err := s.deps.EmailModel.Classify(ctx, req.Text)
	if err != nil {
		s.classifierError(w, "email", err)
		return
	}
	attrs := s.explain(ctx, s.deps.EmailModel, "email", req.Text, pred.Index)

	s.record(ctx, incident.Incident{
		Type:       incident.TypeEmailAnalysis,
		Target:     incident.EmailTarget(req.Text),
		Prediction: pred.Label,
		Confidence: pred.Confidence,
	})

	writeJSON(w, http.StatusOK, emailAnalysis{
		Prediction:   pred.Label,
		Confidence:   pred.Confidence,
		Attributions: attrs,
	})
}

func (s *Server) handleNotifyCERT(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.deps.Notifier.Notify(r.Context(), req.Type, req.Content)
	if err != nil {
		s.logger.Error("report submission failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIncidentLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 0, 0)
	if !ok {
		return
	}

	items, err := s.deps.Incidents.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("incident listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleThreatFeed(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultFeedLimit, maxFeedLimit)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Feed.Recent(limit))
}

func (s *Server) handleReloadFeed(w http.ResponseWriter, r *http.Request) {
	// A reload replaces the snapshot for every reader, so it runs to
	// completion even if the caller goes away.
	snap := s.deps.Feed.Load(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "reloaded",
		"provenance": snap.Provenance(),
		"records":    snap.Size(),
		"loaded_at":  snap.LoadedAt().UTC().Format(time.RFC3339),
	})
}

// queryLimit parses ?limit=. Missing means def; values above ceiling are
// capped when ceiling > 0.
func queryLimit(w http.ResponseWriter, r *http.Request, def, ceiling int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n, true
}

func (s *Server) classifierError(w http.ResponseWriter, model string, err error) {
	s.logger.Error("classifier call failed", zap.String("model", model), zap.Error(err))
	if errors.Is(err, classifier.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

// explain fetches attributions. The prediction stands without them, so a
// failure degrades to an empty list.
func (s *Server) explain(ctx context.Context, c classifier.Classifier, model, text string, target int) []classifier.Attribution {
	attrs, err := c.Explain(ctx, text, target)
	if err != nil {
		s.logger.Warn("explanation unavailable", zap.String("model", model), zap.Error(err))
		return []classifier.Attribution{}
	}
	return attrs
}

// record logs the incident. Analysis results are returned even when the
// incident log is down.
func (s *Server) record(ctx context.Context, inc incident.Incident) {
	if s.deps.Incidents == nil {
		return
	}
	if _, err := s.deps.Incidents.Record(ctx, inc); err != nil {
		s.logger.Warn("incident not recorded", zap.String("type", inc.Type), zap.Error(err))
	}
}
