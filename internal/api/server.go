// Package api exposes the verdict engine and its collaborators over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Jaidealistic/CEREBRO/internal/classifier"
	"github.com/Jaidealistic/CEREBRO/internal/incident"
	"github.com/Jaidealistic/CEREBRO/internal/observability"
	"github.com/Jaidealistic/CEREBRO/internal/report"
	"github.com/Jaidealistic/CEREBRO/internal/threatfeed"
	"github.com/Jaidealistic/CEREBRO/internal/verdict"
)

// Assessor produces verdicts for URLs.
type Assessor interface {
	Assess(ctx context.Context, rawURL string) verdict.Verdict
}

// Notifier files indicator reports.
type Notifier interface {
	Notify(ctx context.Context, threatType, content string) (report.Notification, error)
}

// Feed is the threat feed view the API needs.
type Feed interface {
	Recent(limit int) []threatfeed.ThreatItem
	Load(ctx context.Context) *threatfeed.Snapshot
	Snapshot() *threatfeed.Snapshot
}

// ReadinessCheck reports whether one dependency is usable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators behind the API.
type Deps struct {
	Assessor   Assessor
	URLModel   classifier.Classifier
	EmailModel classifier.Classifier
	Incidents  incident.Store
	Notifier   Notifier
	Feed       Feed

	// RateLimit wraps the /api/v1 routes when set.
	RateLimit func(http.Handler) http.Handler
	// Metrics serves /metrics when set.
	Metrics   http.Handler
	Readiness []ReadinessCheck
}

// Server holds the HTTP handlers.
type Server struct {
	deps           Deps
	version        string
	requestTimeout time.Duration
	logger         *zap.Logger
	metrics        *observability.Metrics
}

// NewServer creates a Server. requestTimeout bounds every request,
// including the forensics behind a URL verdict.
func NewServer(deps Deps, version string, requestTimeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Server{
		deps:           deps,
		version:        version,
		requestTimeout: requestTimeout,
		logger:         logger.With(zap.String("component", "api")),
		metrics:        metrics,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.deps.RateLimit != nil {
			r.Use(s.deps.RateLimit)
		}

		r.Post("/analyze/url", s.handleAnalyzeURL)
		r.Post("/analyze/email", s.handleAnalyzeEmail)
		r.Post("/notify-cert", s.handleNotifyCERT)
		r.Get("/incident-logs", s.handleIncidentLogs)
		r.Get("/threat-feed", s.handleThreatFeed)
		r.Post("/threat-feed/reload", s.handleReloadFeed)
	})

	return r
}

// requestLogger logs each request and records its metrics under the
// matched route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		s.metrics.ObserveRequest(r.Method, route, status, elapsed)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote", r.RemoteAddr))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.version})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.deps.Readiness))
	ready := true
	for _, c := range s.deps.Readiness {
		if err := c.Check(r.Context()); err != nil {
			checks[c.Name] = err.Error()
			ready = false
			continue
		}
		checks[c.Name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
