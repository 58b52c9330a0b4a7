package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"front.evalgo.org/internal/manifest"
)

func strptr(s string) *string { return &s }

func TestDefineUndefineRemovesBackends(t *testing.T) {
	r := New()
	r.Define("svc", manifest.ServiceSpec{Image: "img", Tag: "1", Replicas: 1})
	r.AddBackend("svc", RunningBackend{ID: "c1", Addr: "10.0.0.1"})
	require.Equal(t, 1, r.BackendsOf("svc").Len())

	r.Undefine("svc")
	assert.Equal(t, 0, r.BackendsOf("svc").Len())
}

func TestAddBackendIgnoresDuplicateID(t *testing.T) {
	r := New()
	r.Define("svc", manifest.ServiceSpec{Image: "img", Tag: "1", Replicas: 1})
	r.AddBackend("svc", RunningBackend{ID: "c1", Addr: "10.0.0.1"})
	r.AddBackend("svc", RunningBackend{ID: "c1", Addr: "10.0.0.2"})

	members := r.BackendsOf("svc").Members()
	require.Len(t, members, 1)
	assert.Equal(t, "10.0.0.1", members[0].Addr)
}

func TestRemoveBackendByID(t *testing.T) {
	r := New()
	r.Define("svc", manifest.ServiceSpec{Image: "img", Tag: "1", Replicas: 1})
	r.AddBackend("svc", RunningBackend{ID: "c1"})
	r.AddBackend("svc", RunningBackend{ID: "c2"})
	r.RemoveBackend("svc", "c1")

	members := r.BackendsOf("svc").Members()
	require.Len(t, members, 1)
	assert.Equal(t, "c2", members[0].ID)
}

func TestNoBackendForUndefinedService(t *testing.T) {
	r := New()
	r.Define("svc", manifest.ServiceSpec{Image: "img", Tag: "1", Replicas: 1})
	r.AddBackend("svc", RunningBackend{ID: "c1"})
	r.Undefine("svc")
	r.Define("other", manifest.ServiceSpec{Image: "img", Tag: "1", Replicas: 1})

	// AddBackend against a never-defined name is a no-op.
	r.AddBackend("ghost", RunningBackend{ID: "c9"})
	assert.Equal(t, 0, r.BackendsOf("ghost").Len())
}

func TestResolveNoneWithoutRoute(t *testing.T) {
	r := New()
	r.Define("svc", manifest.ServiceSpec{
		Image: "img", Tag: "1", Replicas: 1,
		Routes: []manifest.Route{{Host: "example.com", Port: 8080}},
	})
	r.AddBackend("svc", RunningBackend{ID: "c1", Addr: "10.0.0.1"})

	_, ok := r.Resolve("other.example.com", "/")
	assert.False(t, ok)
}

func TestResolveNoneWithoutBackends(t *testing.T) {
	r := New()
	r.Define("svc", manifest.ServiceSpec{
		Image: "img", Tag: "1", Replicas: 1,
		Routes: []manifest.Route{{Host: "example.com", Port: 8080}},
	})

	_, ok := r.Resolve("example.com", "/")
	assert.False(t, ok)
}

func TestResolveLongestPrefixWins(t *testing.T) {
	r := New()
	r.Define("frontend", manifest.ServiceSpec{
		Image: "img", Tag: "1", Replicas: 1,
		Routes: []manifest.Route{{Host: "example.com", Port: 8080}},
	})
	r.Define("backend", manifest.ServiceSpec{
		Image: "img", Tag: "1", Replicas: 1,
		Routes: []manifest.Route{{Host: "example.com", Prefix: strptr("/api"), Port: 9090}},
	})
	r.AddBackend("frontend", RunningBackend{ID: "f1"})
	r.AddBackend("backend", RunningBackend{ID: "b1"})

	res, ok := r.Resolve("example.com", "/api/health")
	require.True(t, ok)
	assert.Equal(t, 9090, res.Port)
	members := res.Backends.Members()
	require.Len(t, members, 1)
	assert.Equal(t, "b1", members[0].ID)

	res, ok = r.Resolve("example.com", "/health")
	require.True(t, ok)
	assert.Equal(t, 8080, res.Port)
}

func TestResolveNonMatchingPrefixWorseThanMissing(t *testing.T) {
	r := New()
	r.Define("catchall", manifest.ServiceSpec{
		Image: "img", Tag: "1", Replicas: 1,
		Routes: []manifest.Route{{Host: "example.com", Port: 8080}},
	})
	r.Define("admin", manifest.ServiceSpec{
		Image: "img", Tag: "1", Replicas: 1,
		Routes: []manifest.Route{{Host: "example.com", Prefix: strptr("/admin"), Port: 9090}},
	})
	r.AddBackend("catchall", RunningBackend{ID: "c1"})
	r.AddBackend("admin", RunningBackend{ID: "a1"})

	res, ok := r.Resolve("example.com", "/other")
	require.True(t, ok)
	assert.Equal(t, 8080, res.Port)
}

func TestBackendSetPick(t *testing.T) {
	r := New()
	r.Define("svc", manifest.ServiceSpec{Image: "img", Tag: "1", Replicas: 1})
	set := r.BackendsOf("svc")
	_, ok := set.Pick()
	assert.False(t, ok)

	r.AddBackend("svc", RunningBackend{ID: "c1"})
	set = r.BackendsOf("svc")
	b, ok := set.Pick()
	require.True(t, ok)
	assert.Equal(t, "c1", b.ID)
}
