// Package certs implements the CertificateResolver and AuthLevelResolver:
// SNI-keyed TLS certificate lookup with atomic hot-swap, and per-domain
// mutual-TLS requirement lookup against the live manifest, following
// security/certs.go's PEM-parsing conventions.
package certs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync/atomic"

	"front.evalgo.org/internal/bus"
	"front.evalgo.org/internal/manifest"
	"front.evalgo.org/internal/obs"
)

// Fetcher is the subset of blob.Source the certificate resolver needs.
type Fetcher interface {
	Fetch(ctx context.Context, ref manifest.BlobRef) ([]byte, error)
}

// Resolver holds an atomically-swappable SNI→certificate map. Construction
// resolves every configured TLS entry; later refreshes are triggered by
// certificate_update bus messages and, on partial failure, leave the
// previous map untouched.
type Resolver struct {
	fetcher   Fetcher
	entries   map[string]manifest.TLSEntry
	anchorRef *manifest.BlobRef
	current   atomic.Pointer[map[string]*tls.Certificate]
	clientCAs atomic.Pointer[x509.CertPool]
	log       *obs.ContextLogger
}

// NewResolver resolves every TLS entry and, if anchorRef is non-nil, the
// mTLS trust anchor, returning an error if any of them fails to parse,
// since there is no previous state to fall back to at construction time.
func NewResolver(ctx context.Context, fetcher Fetcher, entries map[string]manifest.TLSEntry, anchorRef *manifest.BlobRef) (*Resolver, error) {
	r := &Resolver{
		fetcher:   fetcher,
		entries:   entries,
		anchorRef: anchorRef,
		log:       obs.ServiceLogger("certs"),
	}

	resolved, err := r.resolveAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve initial certificates: %w", err)
	}
	r.current.Store(&resolved)

	pool, err := r.resolveAnchor(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve mtls anchor: %w", err)
	}
	r.clientCAs.Store(pool)
	return r, nil
}

func (r *Resolver) resolveAnchor(ctx context.Context) (*x509.CertPool, error) {
	if r.anchorRef == nil {
		return x509.NewCertPool(), nil
	}
	pem, err := r.fetcher.Fetch(ctx, *r.anchorRef)
	if err != nil {
		return nil, fmt.Errorf("fetch trust anchor: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("trust anchor contains no usable certificates")
	}
	return pool, nil
}

// ClientCAs returns the current mTLS trust anchor pool, used to verify
// client certificates during handshakes that require mutual TLS.
func (r *Resolver) ClientCAs() *x509.CertPool {
	return r.clientCAs.Load()
}

func (r *Resolver) resolveAll(ctx context.Context) (map[string]*tls.Certificate, error) {
	out := make(map[string]*tls.Certificate, len(r.entries))
	for domain, entry := range r.entries {
		certPEM, err := r.fetcher.Fetch(ctx, entry.Cert)
		if err != nil {
			return nil, fmt.Errorf("fetch certificate for %s: %w", domain, err)
		}
		keyPEM, err := r.fetcher.Fetch(ctx, entry.Key)
		if err != nil {
			return nil, fmt.Errorf("fetch private key for %s: %w", domain, err)
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse certificate for %s: %w", domain, err)
		}
		out[domain] = &cert
	}
	return out, nil
}

// Refresh re-resolves every entry. On failure the previous map is
// retained and the error is logged, never returned to the caller, since
// a background refresh loop has nowhere useful to report it.
func (r *Resolver) Refresh(ctx context.Context) {
	resolved, err := r.resolveAll(ctx)
	if err != nil {
		r.log.WithError(err).Warn("certificate refresh rejected, keeping previous state")
		return
	}
	r.current.Store(&resolved)

	pool, err := r.resolveAnchor(ctx)
	if err != nil {
		r.log.WithError(err).Warn("mtls anchor refresh rejected, keeping previous state")
		return
	}
	r.clientCAs.Store(pool)
}

// Resolve looks up the certificate for an SNI server name. No wildcard
// matching is performed.
func (r *Resolver) Resolve(serverName string) (*tls.Certificate, bool) {
	m := *r.current.Load()
	cert, ok := m[serverName]
	return cert, ok
}

// Run blocks, refreshing on every certificate_update message until ctx is
// cancelled.
func (r *Resolver) Run(ctx context.Context, messages *bus.Bus) {
	for {
		msg, ok := messages.ReceiveCertificateUpdate(ctx)
		if !ok {
			return
		}
		r.log.WithField("correlation_id", msg.CorrelationID).Info("refreshing certificates")
		r.Refresh(ctx)
	}
}

// AuthLevel is the mutual-TLS requirement for a given SNI name.
type AuthLevel int

const (
	Standard AuthLevel = iota
	Mutual
)

// AuthLevelResolver answers whether a given SNI name currently requires
// mutual TLS, consulting an atomically-swappable manifest handle so scope
// changes are observable on the next handshake.
type AuthLevelResolver struct {
	current atomic.Pointer[manifest.Manifest]
}

// NewAuthLevelResolver builds a resolver seeded with the given manifest.
func NewAuthLevelResolver(m *manifest.Manifest) *AuthLevelResolver {
	r := &AuthLevelResolver{}
	r.current.Store(m)
	return r
}

// Swap replaces the manifest handle consulted by Resolve.
func (r *AuthLevelResolver) Swap(m *manifest.Manifest) {
	r.current.Store(m)
}

// Resolve reports the auth level required for serverName.
func (r *AuthLevelResolver) Resolve(serverName string) AuthLevel {
	m := r.current.Load()
	if m == nil || m.Front.MTLS == nil {
		return Standard
	}
	for _, domain := range m.Front.MTLS.Domains {
		if domain == serverName {
			return Mutual
		}
	}
	return Standard
}
