// Package engine abstracts the container runtime used by the reconciler,
// following common.DockerClient's interface-over-SDK-client pattern
// (docker_interface.go) narrowed to the operations the reconciler
// actually needs.
package engine

import (
	"context"
	"errors"
	"strings"
)

// ErrImageUnavailable is returned when a pull is rejected by the remote.
var ErrImageUnavailable = errors.New("image unavailable")

// ErrNetworkMissing is returned when the expected overlay network is not
// present. Checked fatally at start-up.
var ErrNetworkMissing = errors.New("overlay network missing")

// ErrNotOnNetwork is returned by IPOf when the container has no address
// on the shared network.
var ErrNotOnNetwork = errors.New("container not attached to overlay network")

// OverlayNetwork is the single logical network every managed container is
// attached to. Its absence at start-up is fatal. The name is hard-coded
// rather than exposed as a manifest field; no configuration surface
// covers it.
const OverlayNetwork = "internal"

// NetworkID identifies a Docker network.
type NetworkID string

// ContainerID identifies a Docker container.
type ContainerID string

// ImageInfo mirrors the minimal shape list_images exposes to callers.
type ImageInfo struct {
	Tags []string
}

// CreateSpec describes a container to be created. Alias must equal the
// image's basename stripped of any org/ prefix and :tag suffix; see
// DeriveAlias.
type CreateSpec struct {
	ImageRef string
	Env      []string
	Binds    []string // "host:container"
	Network  NetworkID
	Alias    string
	Hostname string
}

// Engine is the container runtime capability set the reconciler and
// start-up checks depend on.
type Engine interface {
	ListImages(ctx context.Context) ([]ImageInfo, error)
	PullImage(ctx context.Context, image, tag string) error
	EnsureImage(ctx context.Context, image, tag string) error
	FindNetwork(ctx context.Context, name string) (NetworkID, bool, error)
	CreateContainer(ctx context.Context, spec CreateSpec) (ContainerID, error)
	StartContainer(ctx context.Context, id ContainerID) error
	StopContainer(ctx context.Context, id ContainerID) error
	RemoveContainer(ctx context.Context, id ContainerID) error
	IPOf(ctx context.Context, id ContainerID) (string, error)
}

// DeriveAlias computes the network alias for imageRef ("org/name:tag" or
// any subset of that shape): the basename with any org/ prefix and :tag
// suffix stripped.
func DeriveAlias(imageRef string) string {
	name := imageRef
	if idx := strings.LastIndex(name, "/"); idx != -1 {
		name = name[idx+1:]
	}
	if idx := strings.Index(name, ":"); idx != -1 {
		name = name[:idx]
	}
	return name
}

// imageTag joins image and tag into the "image:tag" reference string used
// throughout the Docker API.
func imageTag(image, tag string) string {
	return image + ":" + tag
}
