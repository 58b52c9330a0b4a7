// Package registry holds the authoritative in-memory mapping from service
// name to its declaration and live backend set, and answers routing
// lookups. Ordered-set shape follows proxy_balancer.go's LoadBalancer (a
// slice of backends plus an id index), adapted to a simpler
// dedup-by-id-and-indexed-selection contract rather than health-checked
// weighted round robin.
package registry

import (
	"math/rand"
	"strings"
	"sync"

	"front.evalgo.org/internal/manifest"
)

// RunningBackend is a live container instance behind a service. Equality
// and identity are by ID.
type RunningBackend struct {
	ID   string
	Addr string // IPv4
}

// orderedSet is an insertion-ordered collection of RunningBackend deduped
// by ID, supporting indexed lookup for random selection.
type orderedSet struct {
	order []string
	byID  map[string]RunningBackend
}

func newOrderedSet() *orderedSet {
	return &orderedSet{byID: make(map[string]RunningBackend)}
}

func (s *orderedSet) add(b RunningBackend) {
	if _, exists := s.byID[b.ID]; exists {
		return
	}
	s.byID[b.ID] = b
	s.order = append(s.order, b.ID)
}

func (s *orderedSet) remove(id string) {
	if _, exists := s.byID[id]; !exists {
		return
	}
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *orderedSet) len() int { return len(s.order) }

// Snapshot returns a copy of the set's members in insertion order.
func (s *orderedSet) Snapshot() []RunningBackend {
	out := make([]RunningBackend, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// BackendSet is the read-only snapshot of a service's live backends
// returned to callers outside the registry, copied while the registry's
// lock is held.
type BackendSet struct {
	set *orderedSet
}

// Len reports how many backends are in the set.
func (b BackendSet) Len() int {
	if b.set == nil {
		return 0
	}
	return b.set.len()
}

// Members returns the backends in insertion order.
func (b BackendSet) Members() []RunningBackend {
	if b.set == nil {
		return nil
	}
	return b.set.Snapshot()
}

// Pick selects a uniformly random backend from the set. ok is false if
// the set is empty.
func (b BackendSet) Pick() (RunningBackend, bool) {
	members := b.Members()
	if len(members) == 0 {
		return RunningBackend{}, false
	}
	return members[rand.Intn(len(members))], true
}

// Registry is the authoritative service→(declaration, live backends)
// mapping plus host+path routing resolution. Its RWMutex field
// serializes access across callers.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]manifest.ServiceSpec
	backends    map[string]*orderedSet
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		definitions: make(map[string]manifest.ServiceSpec),
		backends:    make(map[string]*orderedSet),
	}
}

// Define inserts or replaces a service's declaration.
func (r *Registry) Define(name string, spec manifest.ServiceSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[name] = spec
	if _, ok := r.backends[name]; !ok {
		r.backends[name] = newOrderedSet()
	}
}

// Undefine removes both the declaration and the backend set for name.
func (r *Registry) Undefine(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.definitions, name)
	delete(r.backends, name)
}

// AddBackend appends b to name's ordered backend set. Duplicate IDs are
// ignored. name must already be defined.
func (r *Registry) AddBackend(name string, b RunningBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.backends[name]
	if !ok {
		return
	}
	set.add(b)
}

// RemoveBackend drops the backend with the given id from name's set.
func (r *Registry) RemoveBackend(name, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.backends[name]; ok {
		set.remove(id)
	}
}

// RemoveAllBackends empties name's backend set without touching its
// declaration.
func (r *Registry) RemoveAllBackends(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; ok {
		r.backends[name] = newOrderedSet()
	}
}

// BackendsOf returns a snapshot view of name's live backend set.
func (r *Registry) BackendsOf(name string) BackendSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.backends[name]
	if !ok {
		return BackendSet{}
	}
	snapshot := newOrderedSet()
	for _, b := range set.Snapshot() {
		snapshot.add(b)
	}
	return BackendSet{set: snapshot}
}

// Resolution is the result of a successful Resolve.
type Resolution struct {
	Backends BackendSet
	Port     int
}

const prefixMatchInfinite = -1

// pathPrefixMatchLength ranks a candidate route: lower is better,
// prefixMatchInfinite (∞) means the route does not match at all.
func pathPrefixMatchLength(path string, prefix *string) int {
	if prefix == nil {
		return len(path)
	}
	if strings.HasPrefix(path, *prefix) {
		return len(path) - len(*prefix)
	}
	return prefixMatchInfinite
}

// Resolve finds the service whose route best matches host+path (longest
// matching prefix wins) and returns a snapshot of its live backend set and
// the route port.
// Returns ok=false if no route matches host, or the matching service has
// no live backends.
func (r *Registry) Resolve(host, path string) (Resolution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		name  string
		route manifest.Route
		score int
	}

	var best *candidate
	for name, spec := range r.definitions {
		for _, route := range spec.Routes {
			if route.Host != host {
				continue
			}
			score := pathPrefixMatchLength(path, route.Prefix)
			if score == prefixMatchInfinite {
				continue
			}
			// Equal scores go to the lexically smaller service name, so the
			// winner never depends on map iteration order.
			if best == nil || score < best.score || (score == best.score && name < best.name) {
				best = &candidate{name: name, route: route, score: score}
			}
		}
	}

	if best == nil {
		return Resolution{}, false
	}

	set, ok := r.backends[best.name]
	if !ok || set.len() == 0 {
		return Resolution{}, false
	}

	snapshot := newOrderedSet()
	for _, b := range set.Snapshot() {
		snapshot.add(b)
	}
	return Resolution{Backends: BackendSet{set: snapshot}, Port: best.route.Port}, true
}
