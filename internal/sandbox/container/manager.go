// Package container manages sandbox containers by their deterministic names.
package container

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/sandbox/credential"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/engine"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/model"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

// Environment variables the sandbox image reads at startup.
const (
	EnvSSHUser     = "SSH_USER"
	EnvSSHPassword = "SSH_PASSWORD"
	EnvFlag        = "FLAG"
)

// Labels stamped on every sandbox container.
const (
	LabelManaged     = "cyberctf.sandbox"
	LabelProblemName = "cyberctf.problem_name"
	LabelProblemID   = "cyberctf.problem_id"
	LabelUserID      = "cyberctf.user_id"
)

const (
	restartUnlessStopped = "unless-stopped"
	sshPort              = "22/tcp"
	defaultStopTimeout   = 10 * time.Second
)

// Options configures the Manager.
type Options struct {
	// HostIP the exposed port binds to; empty means all interfaces.
	HostIP string
	// StopTimeout is the grace period before the engine kills a stopping container.
	StopTimeout time.Duration
	// FallbackCommand runs when the image declares no default command. Shell-quoted.
	FallbackCommand string
	// DefaultExposedPort is bound when the image exposes nothing, e.g. "22/tcp".
	DefaultExposedPort string
}

// Manager creates, starts, stops and removes sandbox containers.
type Manager struct {
	engine      engine.Engine
	opts        Options
	fallbackCmd []string
}

func NewManager(eng engine.Engine, opts Options) (*Manager, error) {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	var fallback []string
	if strings.TrimSpace(opts.FallbackCommand) != "" {
		parts, err := shlex.Split(opts.FallbackCommand)
		if err != nil {
			return nil, fmt.Errorf("parse fallback command failed: %w", err)
		}
		fallback = parts
	}
	return &Manager{engine: eng, opts: opts, fallbackCmd: fallback}, nil
}

// Create makes (but does not start) the sandbox container for userID on hostPort.
func (m *Manager) Create(ctx context.Context, img model.ProblemImage, userID int64, hostPort int, creds credential.Credentials) (model.Sandbox, error) {
	name := model.SandboxName(img.ProblemName, img.ProblemID, userID)
	tag := img.ImageTag()

	info, err := m.engine.InspectImage(ctx, tag)
	if err != nil {
		return model.Sandbox{}, classify(err, "inspect image %s", tag)
	}
	exposed, err := m.exposedPort(info)
	if err != nil {
		return model.Sandbox{}, err
	}
	cmd := info.Cmd
	if len(cmd) == 0 {
		cmd = m.fallbackCmd
	}

	id, err := m.engine.CreateContainer(ctx, engine.CreateOptions{
		Name:  name,
		Image: tag,
		Cmd:   cmd,
		Env: []string{
			EnvSSHUser + "=" + creds.SSHUser,
			EnvSSHPassword + "=" + creds.SSHPassword,
			EnvFlag + "=" + creds.FlagValue,
		},
		Labels: map[string]string{
			LabelManaged:     "true",
			LabelProblemName: img.ProblemName,
			LabelProblemID:   strconv.FormatInt(img.ProblemID, 10),
			LabelUserID:      strconv.FormatInt(userID, 10),
		},
		ExposedPort:   exposed,
		HostIP:        m.opts.HostIP,
		HostPort:      hostPort,
		RestartPolicy: restartUnlessStopped,
	})
	if err != nil {
		return model.Sandbox{}, classify(err, "create container %s", name)
	}
	logger.Debug(ctx, "container created",
		zap.String("container_id", id),
		zap.String("image", tag),
		zap.String("exposed_port", exposed),
		zap.Int("host_port", hostPort),
	)

	return model.Sandbox{
		Name:        name,
		ContainerID: id,
		HostPort:    hostPort,
		SSHUser:     creds.SSHUser,
		SSHPassword: creds.SSHPassword,
		FlagValue:   creds.FlagValue,
		FlagDigest:  creds.FlagDigest,
		CreatedAt:   time.Now(),
	}, nil
}

// exposedPort prefers SSH, then the lowest declared tcp port.
func (m *Manager) exposedPort(info engine.ImageInfo) (string, error) {
	var firstTCP string
	for _, p := range info.ExposedPorts {
		if p == sshPort {
			return p, nil
		}
		if firstTCP == "" && (strings.HasSuffix(p, "/tcp") || !strings.Contains(p, "/")) {
			firstTCP = p
		}
	}
	if firstTCP != "" {
		return firstTCP, nil
	}
	if m.opts.DefaultExposedPort != "" {
		return m.opts.DefaultExposedPort, nil
	}
	return "", appErr.New(appErr.InvalidParams).WithMessage("image exposes no tcp port")
}

// Start runs a created or stopped container. Starting a running container is a no-op.
func (m *Manager) Start(ctx context.Context, id string) error {
	err := m.engine.StartContainer(ctx, id)
	if err == nil || errors.Is(err, engine.ErrAlreadyRunning) {
		return nil
	}
	return classify(err, "start container %s", id)
}

// Stop halts a container. A vanished or already stopped container counts as stopped.
func (m *Manager) Stop(ctx context.Context, id string) error {
	err := m.engine.StopContainer(ctx, id, m.opts.StopTimeout)
	if err == nil || errors.Is(err, engine.ErrNotRunning) || errors.Is(err, engine.ErrContainerNotFound) {
		return nil
	}
	return classify(err, "stop container %s", id)
}

// Remove force-removes a container. A vanished container counts as removed.
func (m *Manager) Remove(ctx context.Context, id string) error {
	err := m.engine.RemoveContainer(ctx, id, true)
	if err == nil || errors.Is(err, engine.ErrContainerNotFound) {
		return nil
	}
	return classify(err, "remove container %s", id)
}

// Lookup finds the container whose name is exactly name, stopped ones included.
func (m *Manager) Lookup(ctx context.Context, name string) (engine.ContainerSummary, bool, error) {
	containers, err := m.engine.ListContainers(ctx, engine.ListOptions{All: true})
	if err != nil {
		return engine.ContainerSummary{}, false, classify(err, "list containers")
	}
	for _, c := range containers {
		if c.HasName(name) {
			return c, true, nil
		}
	}
	return engine.ContainerSummary{}, false, nil
}

// Inspect returns the engine's view of one container.
func (m *Manager) Inspect(ctx context.Context, id string) (engine.ContainerInfo, error) {
	info, err := m.engine.InspectContainer(ctx, id)
	if err != nil {
		if errors.Is(err, engine.ErrContainerNotFound) {
			return engine.ContainerInfo{}, appErr.Wrapf(err, appErr.SandboxNotFound, "container %s not found", id)
		}
		return engine.ContainerInfo{}, classify(err, "inspect container %s", id)
	}
	return info, nil
}

// ListManaged returns every container carrying the sandbox label.
func (m *Manager) ListManaged(ctx context.Context) ([]engine.ContainerSummary, error) {
	containers, err := m.engine.ListContainers(ctx, engine.ListOptions{
		All:    true,
		Labels: map[string]string{LabelManaged: "true"},
	})
	if err != nil {
		return nil, classify(err, "list sandbox containers")
	}
	return containers, nil
}

// classify turns engine errors into coded errors, keeping the cause for errors.Is.
func classify(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return appErr.Wrapf(err, appErr.Timeout, "%s: %v", msg, err)
	case errors.Is(err, engine.ErrImageNotFound):
		return appErr.Wrapf(err, appErr.ImageNotFound, "%s: image has not been built", msg)
	case errors.Is(err, engine.ErrNameConflict):
		return appErr.Wrapf(err, appErr.NameCollision, "%s: name already in use", msg)
	case errors.Is(err, engine.ErrContainerNotFound):
		return appErr.Wrapf(err, appErr.SandboxNotFound, "%s: container not found", msg)
	default:
		return appErr.Wrapf(err, appErr.EngineUnavailable, "%s: %v", msg, err)
	}
}
