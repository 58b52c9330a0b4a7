// Package listener binds one net/http server per front-door scheme and
// wires the HTTPS listener's TLS config to the certificate and mTLS-level
// resolvers. Follows network/proxy.go's ZitiProxy.Start/Stop (one
// *http.Server per proxy, graceful Shutdown) and security/certs.go's
// GetCertificate/GetConfigForClient conventions, generalized from a
// single listener to one-per-scheme with independent failure domains: one
// listener's fatal error must not stop the others.
package listener

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"front.evalgo.org/internal/certs"
	"front.evalgo.org/internal/manifest"
	"front.evalgo.org/internal/obs"
)

// PeerCertificateSubject returns the subject common name of the client
// certificate presented during this request's TLS handshake, if any.
// net/http populates r.TLS with the verified connection state once the
// handshake completes, before the handler ever runs, so no extra
// connection-context plumbing is needed to surface it.
func PeerCertificateSubject(r *http.Request) (string, bool) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return "", false
	}
	return r.TLS.PeerCertificates[0].Subject.CommonName, true
}

// CertResolver is the subset of certs.Resolver a listener needs.
type CertResolver interface {
	Resolve(serverName string) (*tls.Certificate, bool)
}

// AuthLevelResolver is the subset of certs.AuthLevelResolver a listener
// needs.
type AuthLevelResolver interface {
	Resolve(serverName string) certs.AuthLevel
}

// MTLSConfigProvider supplies the client CA pool consulted when a
// handshake needs to require a client certificate.
type MTLSConfigProvider interface {
	ClientCAs() *x509.CertPool
}

// Supervisor owns one *http.Server per configured front-door scheme and
// runs them concurrently, isolating each from the others' failures.
type Supervisor struct {
	handler  http.Handler
	certs    CertResolver
	authLvl  AuthLevelResolver
	mtlsCAs  MTLSConfigProvider
	log      *obs.ContextLogger
	mu       sync.Mutex
	servers  []*http.Server
}

// New builds a Supervisor that will dispatch every accepted request to
// handler.
func New(handler http.Handler, certResolver CertResolver, authLevelResolver AuthLevelResolver, mtlsCAs MTLSConfigProvider) *Supervisor {
	return &Supervisor{
		handler: handler,
		certs:   certResolver,
		authLvl: authLevelResolver,
		mtlsCAs: mtlsCAs,
		log:     obs.ServiceLogger("listener"),
	}
}

// Start binds one listener per entry in front.Ports and runs each until
// ctx is cancelled. It blocks until every listener has exited. A single
// listener's bind failure is logged and that listener is skipped; it does
// not prevent the others from starting.
func (s *Supervisor) Start(ctx context.Context, front manifest.FrontConfig) {
	var wg sync.WaitGroup
	for scheme, port := range front.Ports {
		addr := fmt.Sprintf("%s:%d", front.Addr, port)
		srv := &http.Server{
			Addr:    addr,
			Handler: s.handler,
		}
		if scheme == manifest.SchemeHTTPS {
			srv.TLSConfig = s.tlsConfig(front)
		} else {
			// ListenAndServeTLS negotiates h2 over TLS on its own; plaintext
			// HTTP/2 needs the handler wrapped so h2c's prior-knowledge and
			// upgrade paths both reach it alongside HTTP/1.1.
			srv.Handler = h2c.NewHandler(s.handler, &http2.Server{})
		}

		s.mu.Lock()
		s.servers = append(s.servers, srv)
		s.mu.Unlock()

		wg.Add(1)
		go func(scheme manifest.Scheme, srv *http.Server) {
			defer wg.Done()
			defer obs.LogPanic(s.log)
			s.run(ctx, scheme, srv)
		}(scheme, srv)
	}
	wg.Wait()
}

func (s *Supervisor) run(ctx context.Context, scheme manifest.Scheme, srv *http.Server) {
	log := s.log.WithField("scheme", scheme).WithField("addr", srv.Addr)

	go func() {
		<-ctx.Done()
		// Shutdown is a best-effort courtesy; clean shutdown is out of
		// scope, so in-flight work may or may not complete.
		_ = srv.Close()
	}()

	var err error
	if scheme == manifest.SchemeHTTPS {
		log.Info("starting https listener")
		err = srv.ListenAndServeTLS("", "")
	} else {
		log.Info("starting http listener")
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("listener exited")
	}
}

// tlsConfig builds the per-connection TLS configuration: certificate
// selection by SNI, and a peer-certificate requirement decided per
// handshake by the auth level resolver.
func (s *Supervisor) tlsConfig(front manifest.FrontConfig) *tls.Config {
	return &tls.Config{
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			level := s.authLvl.Resolve(hello.ServerName)
			cfg := &tls.Config{
				// The per-client config replaces the server's own, so it must
				// advertise h2 itself for ALPN to negotiate HTTP/2.
				NextProtos: []string{"h2", "http/1.1"},
				GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
					cert, ok := s.certs.Resolve(hello.ServerName)
					if !ok {
						return nil, fmt.Errorf("no certificate configured for %q", hello.ServerName)
					}
					return cert, nil
				},
			}
			if level == certs.Mutual && s.mtlsCAs != nil {
				cfg.ClientAuth = tls.RequireAndVerifyClientCert
				cfg.ClientCAs = s.mtlsCAs.ClientCAs()
			}
			return cfg, nil
		},
	}
}

// Shutdown closes every listener immediately. Listener goroutines also
// watch ctx in Start, so this is only needed for callers that want to
// stop listeners without cancelling the broader context.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, srv := range s.servers {
		_ = srv.Close()
	}
}
