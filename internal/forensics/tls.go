package forensics

import (
	"context"
	"crypto/tls"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const unknownField = "Unknown"

// TLSResult is the outcome of a TLS certificate inspection.
type TLSResult struct {
	Valid     bool       `json:"valid"`
	Issuer    string     `json:"issuer,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	Expiry    *time.Time `json:"expiry,omitempty"`
	Error     string     `json:"error,omitempty"`
	ErrorKind ErrorKind  `json:"error_kind,omitempty"`
}

func tlsFailure(kind ErrorKind, detail string) TLSResult {
	return TLSResult{Valid: false, Error: detail, ErrorKind: kind}
}

// InspectTLS connects to the domain's TLS port, performs a verified
// handshake using the domain as server name and reads the leaf certificate.
// Connect and handshake together are bounded by the TLS timeout.
func (p *Prober) InspectTLS(ctx context.Context, domain string) TLSResult {
	ctx, span := p.startSpan(ctx, "forensics.tls", domain)
	defer span.End()

	start := time.Now()
	res := p.inspectTLS(ctx, domain)
	p.metrics.ObserveProbe("tls", time.Since(start), string(res.ErrorKind))

	span.SetAttributes(attribute.Bool("forensics.tls.valid", res.Valid))
	if !res.Valid {
		span.SetStatus(codes.Error, res.Error)
		p.logger.Debug("tls probe failed",
			zap.String("domain", domain),
			zap.String("kind", string(res.ErrorKind)),
			zap.String("detail", res.Error))
	}
	return res
}

func (p *Prober) inspectTLS(ctx context.Context, domain string) TLSResult {
	if domain == "" {
		return tlsFailure(KindOther, "empty domain")
	}

	ctx, cancel := context.WithTimeout(ctx, p.tlsTimeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.address(domain))
	if err != nil {
		return tlsFailure(Classify(err), err.Error())
	}
	defer conn.Close()

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: domain,
		RootCAs:    p.rootCAs,
		MinVersion: tls.VersionTLS12,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		kind := Classify(err)
		if kind != KindTimeout {
			// anything that breaks after the TCP connect is a handshake failure
			kind = KindHandshakeFailure
		}
		return tlsFailure(kind, err.Error())
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return tlsFailure(KindHandshakeFailure, "no peer certificate presented")
	}
	cert := state.PeerCertificates[0]

	issuer := unknownField
	if len(cert.Issuer.Organization) > 0 && cert.Issuer.Organization[0] != "" {
		issuer = cert.Issuer.Organization[0]
	}
	subject := unknownField
	if cert.Subject.CommonName != "" {
		subject = cert.Subject.CommonName
	}
	expiry := cert.NotAfter.UTC()

	return TLSResult{
		Valid:   true,
		Issuer:  issuer,
		Subject: subject,
		Expiry:  &expiry,
	}
}
