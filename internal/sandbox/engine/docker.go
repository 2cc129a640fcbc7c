package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	docker "github.com/fsouza/go-dockerclient"
)

// DockerConfig configures the Docker daemon connection.
type DockerConfig struct {
	// Endpoint such as unix:///var/run/docker.sock; empty reads DOCKER_HOST and friends.
	Endpoint string `yaml:"endpoint"`
}

// DockerEngine implements Engine on top of the Docker remote API.
type DockerEngine struct {
	client *docker.Client
}

func NewDockerEngine(cfg DockerConfig) (*DockerEngine, error) {
	var (
		client *docker.Client
		err    error
	)
	if cfg.Endpoint == "" {
		client, err = docker.NewClientFromEnv()
	} else {
		client, err = docker.NewClient(cfg.Endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("create docker client failed: %w", err)
	}
	return &DockerEngine{client: client}, nil
}

// NewDockerEngineWithClient wraps an existing client.
func NewDockerEngineWithClient(client *docker.Client) *DockerEngine {
	return &DockerEngine{client: client}
}

func (d *DockerEngine) Ping(ctx context.Context) error {
	return classify(d.client.PingWithContext(ctx))
}

func (d *DockerEngine) BuildImage(ctx context.Context, opts BuildOptions) error {
	err := d.client.BuildImage(docker.BuildImageOptions{
		Context:        ctx,
		Name:           opts.Tag,
		NoCache:        opts.NoCache,
		RmTmpContainer: opts.RemoveIntermediate,
		InputStream:    opts.Context,
		OutputStream:   opts.Output,
		RawJSONStream:  true,
	})
	return classify(err)
}

func (d *DockerEngine) InspectImage(ctx context.Context, ref string) (ImageInfo, error) {
	if err := ctx.Err(); err != nil {
		return ImageInfo{}, err
	}
	img, err := d.client.InspectImage(ref)
	if err != nil {
		return ImageInfo{}, classify(err)
	}
	info := ImageInfo{ID: img.ID}
	if img.Config != nil {
		for p := range img.Config.ExposedPorts {
			info.ExposedPorts = append(info.ExposedPorts, string(p))
		}
		sort.Strings(info.ExposedPorts)
		info.Cmd = append([]string(nil), img.Config.Cmd...)
	}
	return info, nil
}

func (d *DockerEngine) RemoveImage(ctx context.Context, ref string) error {
	return classify(d.client.RemoveImageExtended(ref, docker.RemoveImageOptions{
		Force:   true,
		Context: ctx,
	}))
}

func (d *DockerEngine) CreateContainer(ctx context.Context, opts CreateOptions) (string, error) {
	port := docker.Port(opts.ExposedPort)
	hostConfig := &docker.HostConfig{
		RestartPolicy: docker.RestartPolicy{Name: opts.RestartPolicy},
	}
	config := &docker.Config{
		Image:  opts.Image,
		Cmd:    opts.Cmd,
		Env:    opts.Env,
		Labels: opts.Labels,
	}
	if opts.ExposedPort != "" {
		config.ExposedPorts = map[docker.Port]struct{}{port: {}}
		hostConfig.PortBindings = map[docker.Port][]docker.PortBinding{
			port: {{HostIP: opts.HostIP, HostPort: strconv.Itoa(opts.HostPort)}},
		}
	}
	container, err := d.client.CreateContainer(docker.CreateContainerOptions{
		Name:       opts.Name,
		Config:     config,
		HostConfig: hostConfig,
		Context:    ctx,
	})
	if err != nil {
		return "", classify(err)
	}
	return container.ID, nil
}

func (d *DockerEngine) InspectContainer(ctx context.Context, id string) (ContainerInfo, error) {
	c, err := d.client.InspectContainerWithOptions(docker.InspectContainerOptions{ID: id, Context: ctx})
	if err != nil {
		return ContainerInfo{}, classify(err)
	}
	info := ContainerInfo{
		ID:      c.ID,
		Name:    strings.TrimPrefix(c.Name, "/"),
		Image:   c.Image,
		State:   c.State.StateString(),
		Running: c.State.Running,
	}
	if c.Config != nil {
		info.Image = c.Config.Image
		info.Labels = c.Config.Labels
	}
	if c.HostConfig != nil {
		info.HostPort = firstHostPort(c.HostConfig.PortBindings)
	}
	return info, nil
}

func (d *DockerEngine) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerSummary, error) {
	listOpts := docker.ListContainersOptions{All: opts.All, Context: ctx}
	if len(opts.Labels) > 0 {
		filters := make([]string, 0, len(opts.Labels))
		for k, v := range opts.Labels {
			filters = append(filters, k+"="+v)
		}
		listOpts.Filters = map[string][]string{"label": filters}
	}
	containers, err := d.client.ListContainers(listOpts)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]ContainerSummary, 0, len(containers))
	for _, c := range containers {
		names := make([]string, 0, len(c.Names))
		for _, n := range c.Names {
			names = append(names, strings.TrimPrefix(n, "/"))
		}
		out = append(out, ContainerSummary{ID: c.ID, Names: names, State: c.State, Labels: c.Labels})
	}
	return out, nil
}

func (d *DockerEngine) StartContainer(ctx context.Context, id string) error {
	return classify(d.client.StartContainerWithContext(id, nil, ctx))
}

func (d *DockerEngine) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	return classify(d.client.StopContainerWithContext(id, uint(timeout/time.Second), ctx))
}

func (d *DockerEngine) RemoveContainer(ctx context.Context, id string, force bool) error {
	return classify(d.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:      id,
		Force:   force,
		Context: ctx,
	}))
}

func firstHostPort(bindings map[docker.Port][]docker.PortBinding) int {
	keys := make([]string, 0, len(bindings))
	for p := range bindings {
		keys = append(keys, string(p))
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, b := range bindings[docker.Port(k)] {
			if n, err := strconv.Atoi(b.HostPort); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// classify maps client errors onto the package sentinels, keeping the cause.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var (
		noSuchContainer *docker.NoSuchContainer
		notRunning      *docker.ContainerNotRunning
		alreadyRunning  *docker.ContainerAlreadyRunning
		apiErr          *docker.Error
	)
	switch {
	case errors.Is(err, docker.ErrNoSuchImage):
		return fmt.Errorf("%w: %w", ErrImageNotFound, err)
	case errors.Is(err, docker.ErrContainerAlreadyExists):
		return fmt.Errorf("%w: %w", ErrNameConflict, err)
	case errors.As(err, &noSuchContainer):
		return fmt.Errorf("%w: %w", ErrContainerNotFound, err)
	case errors.As(err, &notRunning):
		return fmt.Errorf("%w: %w", ErrNotRunning, err)
	case errors.As(err, &alreadyRunning):
		return fmt.Errorf("%w: %w", ErrAlreadyRunning, err)
	case errors.As(err, &apiErr):
		return classifyAPIError(apiErr)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func classifyAPIError(err *docker.Error) error {
	msg := strings.ToLower(err.Message)
	switch {
	case strings.Contains(msg, "port is already allocated"),
		strings.Contains(msg, "address already in use"):
		return fmt.Errorf("%w: %w", ErrPortConflict, err)
	case err.Status == 409 && strings.Contains(msg, "is already in use by container"):
		return fmt.Errorf("%w: %w", ErrNameConflict, err)
	case err.Status == 404 && strings.Contains(msg, "no such image"):
		return fmt.Errorf("%w: %w", ErrImageNotFound, err)
	case err.Status == 404:
		return fmt.Errorf("%w: %w", ErrContainerNotFound, err)
	case err.Status == 304:
		return fmt.Errorf("%w: %w", ErrNotRunning, err)
	case err.Status >= 500 && strings.Contains(msg, "connection refused"):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return fmt.Errorf("docker api: %w", err)
}
