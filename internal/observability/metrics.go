package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cerebro"

// Metrics holds Prometheus metrics for CEREBRO. All recording methods are
// safe to call on a nil *Metrics.
type Metrics struct {
	// Verdict metrics
	Verdicts       *prometheus.CounterVec
	FusedDecisions *prometheus.CounterVec

	// Forensics metrics
	ProbeDuration *prometheus.HistogramVec
	ProbeFailures *prometheus.CounterVec

	// Feed metrics
	FeedRecords prometheus.Gauge
	FeedLoads   *prometheus.CounterVec

	// Report metrics
	Reports         *prometheus.CounterVec
	SinkSubmissions *prometheus.CounterVec

	// Gateway metrics
	RateLimited *prometheus.CounterVec

	// API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the CEREBRO metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verdicts_total",
				Help:      "Verdicts produced by source and status",
			},
			[]string{"source", "status"},
		),
		FusedDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fused_decisions_total",
				Help:      "Final decisions by label and whether the verdict overrode the classifier",
			},
			[]string{"label", "overridden"},
		),
		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Forensics probe duration",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"probe"},
		),
		ProbeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_failures_total",
				Help:      "Forensics probe failures by error kind",
			},
			[]string{"probe", "kind"},
		),
		FeedRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "feed_records",
				Help:      "Threat records in the active feed snapshot",
			},
		),
		FeedLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_loads_total",
				Help:      "Feed loads by resulting provenance",
			},
			[]string{"provenance"},
		),
		Reports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_generated_total",
				Help:      "Indicator reports generated by outcome",
			},
			[]string{"outcome"},
		),
		SinkSubmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_submissions_total",
				Help:      "Report sink submissions by sink and status",
			},
			[]string{"sink", "status"},
		),
		RateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"path"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "path"},
		),
	}
}

// ObserveVerdict counts one verdict.
func (m *Metrics) ObserveVerdict(source, status string) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(source, status).Inc()
}

// ObserveDecision counts one fused decision.
func (m *Metrics) ObserveDecision(label string, overridden bool) {
	if m == nil {
		return
	}
	m.FusedDecisions.WithLabelValues(label, strconv.FormatBool(overridden)).Inc()
}

// ObserveProbe records a probe's duration and, when kind is non-empty, its failure kind.
func (m *Metrics) ObserveProbe(probe string, d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.ProbeDuration.WithLabelValues(probe).Observe(d.Seconds())
	if kind != "" {
		m.ProbeFailures.WithLabelValues(probe, kind).Inc()
	}
}

// ObserveFeedLoad records the outcome of a feed load.
func (m *Metrics) ObserveFeedLoad(provenance string, records int) {
	if m == nil {
		return
	}
	m.FeedLoads.WithLabelValues(provenance).Inc()
	m.FeedRecords.Set(float64(records))
}

// ObserveReport counts one generated report.
func (m *Metrics) ObserveReport(outcome string) {
	if m == nil {
		return
	}
	m.Reports.WithLabelValues(outcome).Inc()
}

// ObserveSubmission counts one sink submission.
func (m *Metrics) ObserveSubmission(sink string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SinkSubmissions.WithLabelValues(sink, status).Inc()
}

// ObserveRateLimited counts one rejected request.
func (m *Metrics) ObserveRateLimited(path string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(path).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
