package listener

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"front.evalgo.org/internal/certs"
	"front.evalgo.org/internal/manifest"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestSupervisorServesHTTPAndStopsOnCancel(t *testing.T) {
	port := freePort(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	sup := New(handler, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Start(ctx, manifest.FrontConfig{
			Addr:  "127.0.0.1",
			Ports: map[manifest.Scheme]int{manifest.SchemeHTTP: port},
		})
		close(done)
	}()

	var resp *http.Response
	var err error
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

type fakeCertResolver struct {
	cert *tls.Certificate
}

func (f fakeCertResolver) Resolve(serverName string) (*tls.Certificate, bool) {
	if f.cert == nil {
		return nil, false
	}
	return f.cert, true
}

type fakeAuthLevelResolver struct {
	level certs.AuthLevel
}

func (f fakeAuthLevelResolver) Resolve(serverName string) certs.AuthLevel { return f.level }

type fakeMTLSProvider struct{ pool *x509.CertPool }

func (f fakeMTLSProvider) ClientCAs() *x509.CertPool { return f.pool }

func TestTLSConfigRequiresClientCertOnlyForMutualLevel(t *testing.T) {
	pool := x509.NewCertPool()
	sup := New(nil, fakeCertResolver{}, fakeAuthLevelResolver{level: certs.Standard}, fakeMTLSProvider{pool: pool})
	cfg := sup.tlsConfig(manifest.FrontConfig{})

	standard, err := cfg.GetConfigForClient(&tls.ClientHelloInfo{ServerName: "public.example.com"})
	require.NoError(t, err)
	assert.Equal(t, tls.NoClientCert, standard.ClientAuth)

	sup.authLvl = fakeAuthLevelResolver{level: certs.Mutual}
	mutual, err := cfg.GetConfigForClient(&tls.ClientHelloInfo{ServerName: "secure.example.com"})
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, mutual.ClientAuth)
	assert.Same(t, pool, mutual.ClientCAs)
}
