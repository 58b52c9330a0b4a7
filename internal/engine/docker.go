package engine

import (
	"context"
	"fmt"
	"io"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	networktypes "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"front.evalgo.org/internal/frontgateerr"
	"front.evalgo.org/internal/obs"
)

// dockerAPI is the narrow slice of the Docker SDK client the reconciler
// actually needs, following common.DockerClient's
// interface-over-SDK-client pattern (docker_interface.go) so a fake can
// stand in for tests without a daemon socket.
type dockerAPI interface {
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	NetworkList(ctx context.Context, options networktypes.ListOptions) ([]networktypes.Summary, error)
	ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, networkingConfig *networktypes.NetworkingConfig, platform interface{}, containerName string) (containertypes.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options containertypes.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options containertypes.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options containertypes.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (containertypes.InspectResponse, error)
}

// sdkClient adapts *client.Client to dockerAPI; the Docker SDK's
// ContainerCreate takes a concrete *ocispec.Platform rather than
// interface{}, so this thin wrapper narrows the call down to what Engine
// needs without leaking the OCI import into the interface itself.
type sdkClient struct {
	cli *client.Client
}

func (s sdkClient) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	return s.cli.ImageList(ctx, options)
}

func (s sdkClient) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	return s.cli.ImagePull(ctx, refStr, options)
}

func (s sdkClient) NetworkList(ctx context.Context, options networktypes.ListOptions) ([]networktypes.Summary, error) {
	return s.cli.NetworkList(ctx, options)
}

func (s sdkClient) ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, networkingConfig *networktypes.NetworkingConfig, _ interface{}, containerName string) (containertypes.CreateResponse, error) {
	return s.cli.ContainerCreate(ctx, config, hostConfig, networkingConfig, nil, containerName)
}

func (s sdkClient) ContainerStart(ctx context.Context, containerID string, options containertypes.StartOptions) error {
	return s.cli.ContainerStart(ctx, containerID, options)
}

func (s sdkClient) ContainerStop(ctx context.Context, containerID string, options containertypes.StopOptions) error {
	return s.cli.ContainerStop(ctx, containerID, options)
}

func (s sdkClient) ContainerRemove(ctx context.Context, containerID string, options containertypes.RemoveOptions) error {
	return s.cli.ContainerRemove(ctx, containerID, options)
}

func (s sdkClient) ContainerInspect(ctx context.Context, containerID string) (containertypes.InspectResponse, error) {
	return s.cli.ContainerInspect(ctx, containerID)
}

// stopGraceSeconds is the grace period StopContainer waits before the
// daemon sends SIGKILL, overridable for environments where the default is
// too slow for a graceful shutdown's SIGTERM to take effect.
var stopGraceSeconds = obs.GetEnvInt("FRONTGATE_STOP_GRACE_SECONDS", 15)

// DockerEngine talks to the local container daemon over its Unix-socket
// HTTP API, following the common.CtxCli/common.Containers family of
// functions (common/docker.go) narrowed to the Engine capability set.
type DockerEngine struct {
	api dockerAPI
}

// NewDockerEngine dials the Docker daemon at socket (e.g.
// "unix:///var/run/docker.sock"), fixing the API version the way the
// teacher's CtxCli does for consistent behaviour across daemon versions.
func NewDockerEngine(socket string) (*DockerEngine, error) {
	defaultHeaders := map[string]string{"Content-Type": "application/tar"}
	cli, err := client.NewClient(socket, "v1.49", nil, defaultHeaders)
	if err != nil {
		return nil, fmt.Errorf("connect to container daemon: %w", err)
	}
	return &DockerEngine{api: sdkClient{cli: cli}}, nil
}

func (e *DockerEngine) ListImages(ctx context.Context) ([]ImageInfo, error) {
	images, err := e.api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: list images: %v", frontgateerr.ErrEngine, err)
	}
	out := make([]ImageInfo, 0, len(images))
	for _, img := range images {
		out = append(out, ImageInfo{Tags: img.RepoTags})
	}
	return out, nil
}

func (e *DockerEngine) PullImage(ctx context.Context, imageName, tag string) error {
	reader, err := e.api.ImagePull(ctx, imageTag(imageName, tag), image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImageUnavailable, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("%w: %v", ErrImageUnavailable, err)
	}
	return nil
}

func (e *DockerEngine) EnsureImage(ctx context.Context, imageName, tag string) error {
	ref := imageTag(imageName, tag)
	images, err := e.ListImages(ctx)
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, t := range img.Tags {
			if t == ref {
				return nil
			}
		}
	}
	return e.PullImage(ctx, imageName, tag)
}

func (e *DockerEngine) FindNetwork(ctx context.Context, name string) (NetworkID, bool, error) {
	networks, err := e.api.NetworkList(ctx, networktypes.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: list networks: %v", frontgateerr.ErrEngine, err)
	}
	for _, n := range networks {
		if n.Name == name {
			return NetworkID(n.ID), true, nil
		}
	}
	return "", false, nil
}

func (e *DockerEngine) CreateContainer(ctx context.Context, spec CreateSpec) (ContainerID, error) {
	hostConfig := &containertypes.HostConfig{
		Binds: spec.Binds,
	}
	networkConfig := &networktypes.NetworkingConfig{
		EndpointsConfig: map[string]*networktypes.EndpointSettings{
			string(spec.Network): {Aliases: []string{spec.Alias}},
		},
	}
	resp, err := e.api.ContainerCreate(ctx, &containertypes.Config{
		Image:    spec.ImageRef,
		Env:      spec.Env,
		Hostname: spec.Hostname,
	}, hostConfig, networkConfig, nil, "")
	if err != nil {
		return "", fmt.Errorf("%w: create container: %v", frontgateerr.ErrEngine, err)
	}
	return ContainerID(resp.ID), nil
}

func (e *DockerEngine) StartContainer(ctx context.Context, id ContainerID) error {
	if err := e.api.ContainerStart(ctx, string(id), containertypes.StartOptions{}); err != nil {
		return fmt.Errorf("%w: start container %s: %v", frontgateerr.ErrEngine, id, err)
	}
	return nil
}

func (e *DockerEngine) StopContainer(ctx context.Context, id ContainerID) error {
	grace := stopGraceSeconds
	if err := e.api.ContainerStop(ctx, string(id), containertypes.StopOptions{Timeout: &grace}); err != nil {
		return fmt.Errorf("%w: stop container %s: %v", frontgateerr.ErrEngine, id, err)
	}
	return nil
}

func (e *DockerEngine) RemoveContainer(ctx context.Context, id ContainerID) error {
	if err := e.api.ContainerRemove(ctx, string(id), containertypes.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("%w: remove container %s: %v", frontgateerr.ErrEngine, id, err)
	}
	return nil
}

func (e *DockerEngine) IPOf(ctx context.Context, id ContainerID) (string, error) {
	info, err := e.api.ContainerInspect(ctx, string(id))
	if err != nil {
		return "", fmt.Errorf("%w: inspect container %s: %v", frontgateerr.ErrEngine, id, err)
	}
	for _, net := range info.NetworkSettings.Networks {
		if net.IPAddress != "" {
			return net.IPAddress, nil
		}
	}
	return "", ErrNotOnNetwork
}
