// Package engine abstracts the container engine used to build problem images and run sandboxes.
package engine

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrImageNotFound     = errors.New("image not found")
	ErrContainerNotFound = errors.New("container not found")
	ErrNotRunning        = errors.New("container not running")
	ErrAlreadyRunning    = errors.New("container already running")
	ErrNameConflict      = errors.New("container name already in use")
	ErrPortConflict      = errors.New("host port already allocated")
	// ErrUnavailable marks transport failures talking to the engine daemon.
	ErrUnavailable = errors.New("container engine unavailable")
)

// Engine is the subset of container engine operations the sandbox needs.
type Engine interface {
	Ping(ctx context.Context) error

	BuildImage(ctx context.Context, opts BuildOptions) error
	InspectImage(ctx context.Context, ref string) (ImageInfo, error)
	RemoveImage(ctx context.Context, ref string) error

	CreateContainer(ctx context.Context, opts CreateOptions) (string, error)
	InspectContainer(ctx context.Context, id string) (ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerSummary, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string, force bool) error
}

// BuildOptions describes one image build from a tar build context.
type BuildOptions struct {
	Tag                string
	NoCache            bool
	RemoveIntermediate bool
	// Context is the tar stream of the build context; it is consumed, never buffered.
	Context io.Reader
	// Output receives the raw JSON progress stream, one object per event.
	Output io.Writer
}

// ImageInfo carries what container creation needs from an image.
type ImageInfo struct {
	ID           string
	ExposedPorts []string // "22/tcp", sorted
	Cmd          []string
}

// CreateOptions describes a container bound to one host port.
type CreateOptions struct {
	Name          string
	Image         string
	Cmd           []string
	Env           []string
	Labels        map[string]string
	ExposedPort   string // "22/tcp"
	HostIP        string
	HostPort      int
	RestartPolicy string
}

// ListOptions filters container listings.
type ListOptions struct {
	All    bool
	Labels map[string]string
}

// ContainerSummary is one row of a container listing.
type ContainerSummary struct {
	ID     string
	Names  []string // without the engine's leading slash
	State  string
	Labels map[string]string
}

// ContainerInfo is the inspected state of one container.
type ContainerInfo struct {
	ID       string
	Name     string
	Image    string
	State    string
	Running  bool
	HostPort int
	Labels   map[string]string
}

// HasName reports whether the summary carries exactly name.
func (s ContainerSummary) HasName(name string) bool {
	for _, n := range s.Names {
		if n == name {
			return true
		}
	}
	return false
}
