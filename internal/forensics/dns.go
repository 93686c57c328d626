package forensics

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DNSStatus is the outcome of a DNS probe.
type DNSStatus string

const (
	DNSActive   DNSStatus = "Active"
	DNSNXDomain DNSStatus = "NXDOMAIN"
	DNSError    DNSStatus = "Error"
)

const notAvailable = "N/A"

// DNSResult is the outcome of an A-record lookup.
type DNSResult struct {
	Status    DNSStatus `json:"status"`
	Address   string    `json:"ip"`
	Detail    string    `json:"details"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

func dnsFailure(kind ErrorKind, detail string) DNSResult {
	return DNSResult{Status: DNSError, Address: notAvailable, Detail: detail, ErrorKind: kind}
}

// ResolveDNS looks up the A record for domain against the configured
// resolver, bounded by the DNS timeout.
func (p *Prober) ResolveDNS(ctx context.Context, domain string) DNSResult {
	ctx, span := p.startSpan(ctx, "forensics.dns", domain)
	defer span.End()

	start := time.Now()
	res := p.resolveDNS(ctx, domain)
	p.metrics.ObserveProbe("dns", time.Since(start), string(res.ErrorKind))

	span.SetAttributes(attribute.String("forensics.dns.status", string(res.Status)))
	if res.Status == DNSError {
		span.SetStatus(codes.Error, res.Detail)
		p.logger.Debug("dns probe failed",
			zap.String("domain", domain),
			zap.String("kind", string(res.ErrorKind)),
			zap.String("detail", res.Detail))
	}
	return res
}

func (p *Prober) resolveDNS(ctx context.Context, domain string) DNSResult {
	if domain == "" {
		return dnsFailure(KindOther, "empty domain")
	}
	if ip := net.ParseIP(domain); ip != nil {
		return DNSResult{Status: DNSActive, Address: ip.String(), Detail: "Host is an IP address literal."}
	}
	if _, ok := dns.IsDomainName(domain); !ok {
		return dnsFailure(KindOther, fmt.Sprintf("invalid domain name %q", domain))
	}

	ctx, cancel := context.WithTimeout(ctx, p.dnsTimeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)

	c := &dns.Client{Timeout: p.dnsTimeout}
	in, _, err := c.ExchangeContext(ctx, m, p.resolver)
	if err == nil && in.Truncated {
		c.Net = "tcp"
		in, _, err = c.ExchangeContext(ctx, m, p.resolver)
	}
	if err != nil {
		return dnsFailure(Classify(err), err.Error())
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return DNSResult{
			Status:    DNSNXDomain,
			Address:   notAvailable,
			Detail:    "Domain does not exist.",
			ErrorKind: KindNameNotFound,
		}
	default:
		return dnsFailure(KindOther, fmt.Sprintf("resolver returned %s", dns.RcodeToString[in.Rcode]))
	}

	for _, ans := range in.Answer {
		if a, ok := ans.(*dns.A); ok {
			return DNSResult{Status: DNSActive, Address: a.A.String(), Detail: "Domain resolves to IP."}
		}
	}
	return dnsFailure(KindOther, "no A records in answer")
}
