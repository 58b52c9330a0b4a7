package engine

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Engine double, following MockDockerClient's
// (common/docker_mock.go) call-tracking pattern, used by the
// reconciler's tests in place of a real daemon.
type Fake struct {
	mu sync.Mutex

	images    map[string]bool // "image:tag" -> present
	nextID    int
	running   map[ContainerID]bool
	ips       map[ContainerID]string
	NetworkID NetworkID

	// Failure injection.
	FailPull   bool
	FailCreate bool
	FailStart  bool

	// Call log for assertions.
	Created []CreateSpec
	Started []ContainerID
	Stopped []ContainerID
	Removed []ContainerID
}

// NewFake builds a Fake with the overlay network already present.
func NewFake() *Fake {
	return &Fake{
		images:    make(map[string]bool),
		running:   make(map[ContainerID]bool),
		ips:       make(map[ContainerID]string),
		NetworkID: "net-internal",
	}
}

// SeedImage marks image:tag as already present, so EnsureImage is a no-op.
func (f *Fake) SeedImage(image, tag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[imageTag(image, tag)] = true
}

func (f *Fake) ListImages(ctx context.Context) ([]ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ImageInfo, 0, len(f.images))
	for ref := range f.images {
		out = append(out, ImageInfo{Tags: []string{ref}})
	}
	return out, nil
}

func (f *Fake) PullImage(ctx context.Context, image, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPull {
		return ErrImageUnavailable
	}
	f.images[imageTag(image, tag)] = true
	return nil
}

func (f *Fake) EnsureImage(ctx context.Context, image, tag string) error {
	f.mu.Lock()
	present := f.images[imageTag(image, tag)]
	f.mu.Unlock()
	if present {
		return nil
	}
	return f.PullImage(ctx, image, tag)
}

func (f *Fake) FindNetwork(ctx context.Context, name string) (NetworkID, bool, error) {
	if name != OverlayNetwork {
		return "", false, nil
	}
	return f.NetworkID, true, nil
}

func (f *Fake) CreateContainer(ctx context.Context, spec CreateSpec) (ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate {
		return "", fmt.Errorf("fake: create refused")
	}
	f.nextID++
	id := ContainerID(fmt.Sprintf("c%d", f.nextID))
	f.Created = append(f.Created, spec)
	f.ips[id] = fmt.Sprintf("10.0.0.%d", f.nextID)
	return id, nil
}

func (f *Fake) StartContainer(ctx context.Context, id ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailStart {
		return fmt.Errorf("fake: start refused")
	}
	f.running[id] = true
	f.Started = append(f.Started, id)
	return nil
}

func (f *Fake) StopContainer(ctx context.Context, id ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	f.Stopped = append(f.Stopped, id)
	return nil
}

func (f *Fake) RemoveContainer(ctx context.Context, id ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	delete(f.ips, id)
	f.Removed = append(f.Removed, id)
	return nil
}

func (f *Fake) IPOf(ctx context.Context, id ContainerID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ip, ok := f.ips[id]
	if !ok {
		return "", ErrNotOnNetwork
	}
	return ip, nil
}
