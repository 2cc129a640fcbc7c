// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/sandbox/engine"
)

// Container is the fake's record of one container.
type Container struct {
	ID      string
	Options engine.CreateOptions
	Running bool
	Exited  bool
}

// Fake keeps images and containers in memory and enforces name and host port uniqueness.
type Fake struct {
	mu sync.Mutex

	images     map[string]engine.ImageInfo
	containers map[string]*Container
	nextID     int

	// BusyPorts makes StartContainer fail with a port conflict for these host ports.
	BusyPorts map[int]bool

	// BuildEvents are written to the build output stream, one JSON object per line.
	BuildEvents []string
	// BuildResult is registered under the tag when a build completes.
	BuildResult engine.ImageInfo
	// BuildHang blocks the build until the context ends.
	BuildHang bool
	BuildErr  error
	// BuiltContext holds the bytes read from the last build context.
	BuiltContext []byte
	// LastBuild records the options of the last build, without its streams.
	LastBuild engine.BuildOptions

	PingErr   error
	CreateErr error
	// CreateLateErr is returned after the container was registered, like a client that gave up mid-request.
	CreateLateErr error
	StartErr  error
	ListErr   error

	RemovedImages []string
	Calls         []string
}

func New() *Fake {
	return &Fake{
		images:     make(map[string]engine.ImageInfo),
		containers: make(map[string]*Container),
		BusyPorts:  make(map[int]bool),
	}
}

// AddImage registers an already built image.
func (f *Fake) AddImage(ref string, info engine.ImageInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = info
}

// HasImage reports whether ref is registered.
func (f *Fake) HasImage(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.images[ref]
	return ok
}

// Containers returns a snapshot of every container.
func (f *Fake) Containers() []Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Container, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, *c)
	}
	return out
}

// ContainerByName returns the container carrying name.
func (f *Fake) ContainerByName(name string) (Container, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.Options.Name == name {
			return *c, true
		}
	}
	return Container{}, false
}

// CallCount counts recorded calls of op.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *Fake) record(op string) {
	f.Calls = append(f.Calls, op)
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Ping")
	return f.PingErr
}

func (f *Fake) BuildImage(ctx context.Context, opts engine.BuildOptions) error {
	f.mu.Lock()
	f.record("BuildImage")
	f.LastBuild = engine.BuildOptions{Tag: opts.Tag, NoCache: opts.NoCache, RemoveIntermediate: opts.RemoveIntermediate}
	events := append([]string(nil), f.BuildEvents...)
	hang, buildErr := f.BuildHang, f.BuildErr
	f.mu.Unlock()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, opts.Context); err != nil {
		// the docker client reports a failing request body as a transport error
		return fmt.Errorf("%w: %w", engine.ErrUnavailable, err)
	}
	f.mu.Lock()
	f.BuiltContext = buf.Bytes()
	f.mu.Unlock()

	for _, ev := range events {
		if opts.Output == nil {
			break
		}
		if _, err := io.WriteString(opts.Output, ev+"\n"); err != nil {
			return err
		}
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if buildErr != nil {
		return buildErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[opts.Tag] = f.BuildResult
	return nil
}

func (f *Fake) InspectImage(ctx context.Context, ref string) (engine.ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("InspectImage")
	info, ok := f.images[ref]
	if !ok {
		return engine.ImageInfo{}, fmt.Errorf("%w: %s", engine.ErrImageNotFound, ref)
	}
	return info, nil
}

func (f *Fake) RemoveImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RemoveImage")
	if _, ok := f.images[ref]; !ok {
		return fmt.Errorf("%w: %s", engine.ErrImageNotFound, ref)
	}
	delete(f.images, ref)
	f.RemovedImages = append(f.RemovedImages, ref)
	return nil
}

func (f *Fake) CreateContainer(ctx context.Context, opts engine.CreateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateContainer")
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	if _, ok := f.images[opts.Image]; !ok {
		return "", fmt.Errorf("%w: %s", engine.ErrImageNotFound, opts.Image)
	}
	for _, c := range f.containers {
		if c.Options.Name == opts.Name {
			return "", fmt.Errorf("%w: %s", engine.ErrNameConflict, opts.Name)
		}
	}
	f.nextID++
	id := fmt.Sprintf("c%04d", f.nextID)
	f.containers[id] = &Container{ID: id, Options: opts}
	if f.CreateLateErr != nil {
		return "", f.CreateLateErr
	}
	return id, nil
}

func (f *Fake) InspectContainer(ctx context.Context, id string) (engine.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("InspectContainer")
	c, ok := f.containers[id]
	if !ok {
		return engine.ContainerInfo{}, fmt.Errorf("%w: %s", engine.ErrContainerNotFound, id)
	}
	return engine.ContainerInfo{
		ID:       c.ID,
		Name:     c.Options.Name,
		Image:    c.Options.Image,
		State:    stateOf(c),
		Running:  c.Running,
		HostPort: c.Options.HostPort,
		Labels:   c.Options.Labels,
	}, nil
}

func (f *Fake) ListContainers(ctx context.Context, opts engine.ListOptions) ([]engine.ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListContainers")
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]engine.ContainerSummary, 0, len(f.containers))
	for _, c := range f.containers {
		if !opts.All && !c.Running {
			continue
		}
		if !labelsMatch(c.Options.Labels, opts.Labels) {
			continue
		}
		out = append(out, engine.ContainerSummary{
			ID:     c.ID,
			Names:  []string{c.Options.Name},
			State:  stateOf(c),
			Labels: c.Options.Labels,
		})
	}
	return out, nil
}

func (f *Fake) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StartContainer")
	if f.StartErr != nil {
		return f.StartErr
	}
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrContainerNotFound, id)
	}
	if c.Running {
		return fmt.Errorf("%w: %s", engine.ErrAlreadyRunning, id)
	}
	port := c.Options.HostPort
	if f.BusyPorts[port] {
		return fmt.Errorf("%w: %d", engine.ErrPortConflict, port)
	}
	for _, other := range f.containers {
		if other.ID != id && other.Running && port != 0 && other.Options.HostPort == port {
			return fmt.Errorf("%w: %d", engine.ErrPortConflict, port)
		}
	}
	c.Running = true
	return nil
}

func (f *Fake) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StopContainer")
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrContainerNotFound, id)
	}
	if !c.Running {
		return fmt.Errorf("%w: %s", engine.ErrNotRunning, id)
	}
	c.Running = false
	c.Exited = true
	return nil
}

func (f *Fake) RemoveContainer(ctx context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RemoveContainer")
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrContainerNotFound, id)
	}
	if c.Running && !force {
		return fmt.Errorf("container %s is running", id)
	}
	delete(f.containers, id)
	return nil
}

func stateOf(c *Container) string {
	if c.Running {
		return "running"
	}
	if c.Exited {
		return "exited"
	}
	return "created"
}

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

var _ engine.Engine = (*Fake)(nil)
