package verdict

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Jaidealistic/CEREBRO/internal/forensics"
	"github.com/Jaidealistic/CEREBRO/internal/observability"
)

// Inspector runs the forensics probes for a domain. It must return once ctx
// is done.
type Inspector interface {
	Inspect(ctx context.Context, domain string) forensics.Report
}

// Assessor produces Verdicts for URLs.
type Assessor struct {
	checks    []Check
	inspector Inspector
	logger    *zap.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

// NewAssessor creates an Assessor that evaluates checks in order and
// attaches forensics from inspector to every verdict.
func NewAssessor(checks []Check, inspector Inspector, logger *zap.Logger, metrics *observability.Metrics) *Assessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assessor{
		checks:    checks,
		inspector: inspector,
		logger:    logger.With(zap.String("component", "verdict")),
		metrics:   metrics,
		tracer:    otel.Tracer("github.com/Jaidealistic/CEREBRO/internal/verdict"),
	}
}

// Assess classifies rawURL. Forensics start first and run while the checks
// are evaluated; the result waits for them or for ctx, whichever comes
// first. Assess always returns a complete Verdict.
func (a *Assessor) Assess(ctx context.Context, rawURL string) Verdict {
	ctx, span := a.tracer.Start(ctx, "verdict.assess")
	defer span.End()

	req := Request{URL: rawURL, Domain: ExtractDomain(rawURL), Authority: ExtractAuthority(rawURL)}
	span.SetAttributes(attribute.String("verdict.domain", req.Domain))

	probes := make(chan forensics.Report, 1)
	go func() { probes <- a.inspector.Inspect(ctx, req.Domain) }()

	v := Evaluate(a.checks, req)
	v.Forensics = <-probes

	span.SetAttributes(
		attribute.String("verdict.source", v.Source),
		attribute.String("verdict.status", string(v.Status)),
	)
	a.metrics.ObserveVerdict(v.Source, string(v.Status))
	a.logger.Info("url assessed",
		zap.String("domain", req.Domain),
		zap.String("source", v.Source),
		zap.String("status", string(v.Status)),
		zap.String("dns", string(v.Forensics.DNS.Status)),
		zap.Bool("tls_valid", v.Forensics.TLS.Valid))
	return v
}
