// Package forensics runs live DNS and TLS probes against a domain. Probes
// never return errors: every failure is folded into the result value.
package forensics

import (
	"context"
	"crypto/x509"
	"net"
	"strconv"
	"time"

	"github.com/miekg/dns"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Jaidealistic/CEREBRO/internal/observability"
)

const (
	defaultResolver = "8.8.8.8:53"
	defaultTimeout  = 3 * time.Second
	defaultTLSPort  = 443

	// SystemResolver selects the first nameserver from /etc/resolv.conf.
	SystemResolver = "system"
)

// Report pairs the DNS and TLS results for one domain. Both are always
// populated.
type Report struct {
	DNS DNSResult `json:"dns"`
	TLS TLSResult `json:"ssl"`
}

// Options configures a Prober.
type Options struct {
	// Resolver is a host:port nameserver or SystemResolver.
	Resolver   string
	DNSTimeout time.Duration
	TLSTimeout time.Duration
	TLSPort    int
	// RootCAs overrides the system roots for TLS verification.
	RootCAs *x509.CertPool
}

// Prober runs forensics probes.
type Prober struct {
	resolver   string
	dnsTimeout time.Duration
	tlsTimeout time.Duration
	tlsPort    int
	rootCAs    *x509.CertPool
	dialer     *net.Dialer

	logger  *zap.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewProber creates a Prober, filling unset options with defaults.
func NewProber(opts Options, logger *zap.Logger, metrics *observability.Metrics) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "forensics"))

	p := &Prober{
		resolver:   opts.Resolver,
		dnsTimeout: opts.DNSTimeout,
		tlsTimeout: opts.TLSTimeout,
		tlsPort:    opts.TLSPort,
		rootCAs:    opts.RootCAs,
		logger:     logger,
		metrics:    metrics,
		tracer:     otel.Tracer("github.com/Jaidealistic/CEREBRO/internal/forensics"),
	}

	switch p.resolver {
	case "":
		p.resolver = defaultResolver
	case SystemResolver:
		p.resolver = systemResolver(logger)
	}
	if p.dnsTimeout <= 0 {
		p.dnsTimeout = defaultTimeout
	}
	if p.tlsTimeout <= 0 {
		p.tlsTimeout = defaultTimeout
	}
	if p.tlsPort <= 0 {
		p.tlsPort = defaultTLSPort
	}

	// The TLS probe resolves through the same nameserver as the DNS probe so
	// both probes describe the same view of the domain.
	p.dialer = &net.Dialer{
		Resolver: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, p.resolver)
			},
		},
	}
	return p
}

func systemResolver(logger *zap.Logger) string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		logger.Warn("failed to read system resolver, using default",
			zap.String("resolver", defaultResolver), zap.Error(err))
		return defaultResolver
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

// Inspect runs the DNS and TLS probes concurrently and waits for both. If
// ctx ends first, the probes still running are abandoned and reported as
// timeouts.
func (p *Prober) Inspect(ctx context.Context, domain string) Report {
	dnsCh := make(chan DNSResult, 1)
	tlsCh := make(chan TLSResult, 1)

	go func() { dnsCh <- p.ResolveDNS(ctx, domain) }()
	go func() { tlsCh <- p.InspectTLS(ctx, domain) }()

	var (
		report         Report
		gotDNS, gotTLS bool
	)
	for !gotDNS || !gotTLS {
		select {
		case r := <-dnsCh:
			report.DNS, gotDNS = r, true
		case r := <-tlsCh:
			report.TLS, gotTLS = r, true
		case <-ctx.Done():
			if !gotDNS {
				report.DNS = dnsFailure(KindTimeout, "dns probe abandoned: "+ctx.Err().Error())
			}
			if !gotTLS {
				report.TLS = tlsFailure(KindTimeout, "tls probe abandoned: "+ctx.Err().Error())
			}
			return report
		}
	}
	return report
}

func (p *Prober) startSpan(ctx context.Context, name, domain string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("forensics.domain", domain)))
}

func (p *Prober) address(domain string) string {
	return net.JoinHostPort(domain, strconv.Itoa(p.tlsPort))
}
