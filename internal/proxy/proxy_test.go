package proxy

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"front.evalgo.org/internal/bus"
	"front.evalgo.org/internal/manifest"
	"front.evalgo.org/internal/registry"
)

func newTestProxy(t *testing.T, reg *registry.Registry, token string) (*Proxy, *bus.Bus) {
	t.Helper()
	messages := bus.New()
	return New(reg, messages, "/reconciliation", token), messages
}

func TestRoutePutsReconciliationOnBusWhenAuthorized(t *testing.T) {
	reg := registry.New()
	p, messages := newTestProxy(t, reg, "topsecret")

	req := httptest.NewRequest(http.MethodPut, "/reconciliation", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	msg, ok := messages.ReceiveReconciliation(req.Context())
	require.True(t, ok)
	assert.NotEmpty(t, msg.CorrelationID)
}

func TestRouteRejectsWrongToken(t *testing.T) {
	reg := registry.New()
	p, _ := newTestProxy(t, reg, "topsecret")

	req := httptest.NewRequest(http.MethodPut, "/reconciliation", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouteRejectsMissingBearerPrefix(t *testing.T) {
	reg := registry.New()
	p, _ := newTestProxy(t, reg, "topsecret")

	req := httptest.NewRequest(http.MethodPut, "/certificates", nil)
	req.Header.Set("Authorization", "topsecret")
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouteReturns404WhenNoRouteMatches(t *testing.T) {
	reg := registry.New()
	p, _ := newTestProxy(t, reg, "topsecret")

	req := httptest.NewRequest(http.MethodGet, "http://unknown.example.com/", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouteProxiesToBackend(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/greet", r.URL.Path)
		assert.Empty(t, r.Header.Get("Connection"))
		w.Header().Set("X-From-Backend", "yes")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	addr, port := splitTestServerAddr(t, upstream)

	reg := registry.New()
	reg.Define("svc", manifest.ServiceSpec{
		Routes: []manifest.Route{{Host: "example.com", Port: port}},
	})
	reg.AddBackend("svc", registry.RunningBackend{ID: "c1", Addr: addr})

	p, _ := newTestProxy(t, reg, "topsecret")

	req := httptest.NewRequest(http.MethodGet, "http://example.com/greet", nil)
	req.Header.Set("Connection", "keep-alive")
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-From-Backend"))
	assert.Equal(t, "hello", rec.Body.String())
}

func TestRouteReturns502OnUpstreamFailure(t *testing.T) {
	reg := registry.New()
	reg.Define("svc", manifest.ServiceSpec{
		Routes: []manifest.Route{{Host: "example.com", Port: 1}},
	})
	reg.AddBackend("svc", registry.RunningBackend{ID: "c1", Addr: "127.0.0.1"})

	p, _ := newTestProxy(t, reg, "topsecret")

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCopyHeadersStripsHopByHopAndNamedExtras(t *testing.T) {
	src := http.Header{}
	src.Set("Connection", "X-Custom")
	src.Set("X-Custom", "drop-me")
	src.Set("X-Keep", "keep-me")
	src.Set("Transfer-Encoding", "chunked")

	dst := http.Header{}
	copyHeaders(dst, src)

	assert.Empty(t, dst.Get("Connection"))
	assert.Empty(t, dst.Get("X-Custom"))
	assert.Empty(t, dst.Get("Transfer-Encoding"))
	assert.Equal(t, "keep-me", dst.Get("X-Keep"))
}

// splitTestServerAddr returns the loopback address and port httptest bound
// the upstream server to, for use as a backend's Addr/route Port pair.
func splitTestServerAddr(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
