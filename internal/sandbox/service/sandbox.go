package service

import (
	"context"
	"errors"

	"github.com/ExxiDauS/CyberCTF/internal/sandbox/engine"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/model"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/logger"

	"go.uber.org/zap"
)

func validateTriple(img model.ProblemImage, userID int64) error {
	if err := img.Validate(); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "invalid problem: %v", err)
	}
	if userID <= 0 {
		return appErr.ValidationError("user_id", "must be positive")
	}
	return nil
}

// Provision starts a sandbox for userID on problem img: port, credentials, create, start.
// A port the engine refuses to bind is replaced and retried; a name collision is returned
// untouched. Any container this call created is removed before an error is returned.
func (s *Service) Provision(ctx context.Context, img model.ProblemImage, userID int64) (model.ProvisionResult, error) {
	if err := validateTriple(img, userID); err != nil {
		return model.ProvisionResult{}, err
	}
	name := model.SandboxName(img.ProblemName, img.ProblemID, userID)
	ctx = logger.WithSandbox(ctx, name)

	release, err := s.locker.Lock(ctx, name)
	if err != nil {
		return model.ProvisionResult{}, err
	}
	defer release()

	for attempt := 0; ; attempt++ {
		sb, err := s.provisionOnce(ctx, img, userID)
		if err == nil {
			logger.Info(ctx, "sandbox provisioned",
				zap.String("container_id", sb.ContainerID),
				zap.Int("port", sb.HostPort),
				zap.Int("attempt", attempt+1),
			)
			s.remember(ctx, name, sb.ContainerID)
			s.publish(ctx, model.LifecycleEvent{
				Type:        model.EventProvisioned,
				Name:        name,
				ProblemName: img.ProblemName,
				ProblemID:   img.ProblemID,
				UserID:      userID,
				ContainerID: sb.ContainerID,
				Port:        sb.HostPort,
				FlagDigest:  sb.FlagDigest,
			})
			return model.ProvisionResult{
				Name:        name,
				ContainerID: sb.ContainerID,
				Port:        sb.HostPort,
				SSHUser:     sb.SSHUser,
				SSHPassword: sb.SSHPassword,
				FlagDigest:  sb.FlagDigest,
			}, nil
		}
		if !errors.Is(err, engine.ErrPortConflict) {
			return model.ProvisionResult{}, err
		}
		if attempt >= s.maxPortRetries {
			return model.ProvisionResult{}, appErr.Wrapf(err, appErr.PortExhaustion,
				"host port conflicts persisted after %d attempts", attempt+1)
		}
		logger.Warn(ctx, "host port taken before bind, retrying with a new port", zap.Int("attempt", attempt+1), zap.Error(err))
	}
}

func (s *Service) provisionOnce(ctx context.Context, img model.ProblemImage, userID int64) (model.Sandbox, error) {
	claim, err := s.ports.FindAvailablePort(ctx, s.portMin, s.portMax, s.portAttempts)
	if err != nil {
		return model.Sandbox{}, err
	}
	creds, err := s.issuer.Issue(userID)
	if err != nil {
		return model.Sandbox{}, err
	}
	sb, err := s.containers.Create(ctx, img, userID, claim.Port, creds)
	if err != nil {
		// the daemon may have created it before the request gave up
		if appErr.Is(err, appErr.Timeout) {
			s.discardUnstarted(ctx, model.SandboxName(img.ProblemName, img.ProblemID, userID))
		}
		return model.Sandbox{}, err
	}
	if err := s.containers.Start(ctx, sb.ContainerID); err != nil {
		s.discard(ctx, sb.ContainerID)
		return model.Sandbox{}, err
	}
	return sb, nil
}

// discard removes a container this request created and could not finish.
func (s *Service) discard(ctx context.Context, containerID string) {
	cleanupCtx, cancel := s.cleanupContext(ctx)
	defer cancel()
	if err := s.containers.Remove(cleanupCtx, containerID); err != nil {
		logger.Error(ctx, "remove partially provisioned container failed", zap.String("container_id", containerID), zap.Error(err))
	}
}

// discardUnstarted removes a never-started container carrying name. Callers hold the name lock.
func (s *Service) discardUnstarted(ctx context.Context, name string) {
	cleanupCtx, cancel := s.cleanupContext(ctx)
	defer cancel()
	c, found, err := s.containers.Lookup(cleanupCtx, name)
	if err != nil {
		logger.Warn(ctx, "lookup after interrupted create failed", zap.Error(err))
		return
	}
	if !found || model.ParseSandboxState(c.State) != model.SandboxStateCreated {
		return
	}
	if err := s.containers.Remove(cleanupCtx, c.ID); err != nil {
		logger.Error(ctx, "remove orphaned container failed", zap.String("container_id", c.ID), zap.Error(err))
		return
	}
	logger.Info(ctx, "removed container left by interrupted create", zap.String("container_id", c.ID))
}

// Teardown stops and removes the sandbox. A missing sandbox is reported, not failed.
func (s *Service) Teardown(ctx context.Context, img model.ProblemImage, userID int64) (model.TeardownResult, error) {
	if err := validateTriple(img, userID); err != nil {
		return model.TeardownResult{}, err
	}
	name := model.SandboxName(img.ProblemName, img.ProblemID, userID)
	ctx = logger.WithSandbox(ctx, name)

	release, err := s.locker.Lock(ctx, name)
	if err != nil {
		return model.TeardownResult{}, err
	}
	defer release()

	id, found, err := s.resolve(ctx, name)
	if err != nil {
		return model.TeardownResult{}, err
	}
	if !found {
		s.forget(ctx, name)
		logger.Info(ctx, "sandbox not found on teardown")
		return model.TeardownResult{Name: name, Status: model.TeardownNotFound}, nil
	}
	if err := s.containers.Stop(ctx, id); err != nil {
		return model.TeardownResult{}, err
	}
	if err := s.containers.Remove(ctx, id); err != nil {
		return model.TeardownResult{}, err
	}
	s.forget(ctx, name)
	logger.Info(ctx, "sandbox torn down", zap.String("container_id", id))
	s.publish(ctx, model.LifecycleEvent{
		Type:        model.EventTornDown,
		Name:        name,
		ProblemName: img.ProblemName,
		ProblemID:   img.ProblemID,
		UserID:      userID,
		ContainerID: id,
	})
	return model.TeardownResult{Name: name, ContainerID: id, Status: model.TeardownRemoved}, nil
}

// Suspend stops the sandbox without removing it.
func (s *Service) Suspend(ctx context.Context, img model.ProblemImage, userID int64) (model.SandboxInfo, error) {
	return s.transition(ctx, img, userID, "suspended", s.containers.Stop)
}

// Resume starts a suspended sandbox again on its original port.
func (s *Service) Resume(ctx context.Context, img model.ProblemImage, userID int64) (model.SandboxInfo, error) {
	return s.transition(ctx, img, userID, "resumed", s.containers.Start)
}

func (s *Service) transition(ctx context.Context, img model.ProblemImage, userID int64, verb string, apply func(context.Context, string) error) (model.SandboxInfo, error) {
	if err := validateTriple(img, userID); err != nil {
		return model.SandboxInfo{}, err
	}
	name := model.SandboxName(img.ProblemName, img.ProblemID, userID)
	ctx = logger.WithSandbox(ctx, name)

	release, err := s.locker.Lock(ctx, name)
	if err != nil {
		return model.SandboxInfo{}, err
	}
	defer release()

	id, err := s.mustResolve(ctx, name)
	if err != nil {
		return model.SandboxInfo{}, err
	}
	if err := apply(ctx, id); err != nil {
		return model.SandboxInfo{}, err
	}
	logger.Info(ctx, "sandbox "+verb, zap.String("container_id", id))
	return s.describe(ctx, name, id)
}

// Describe reports the engine's view of the sandbox.
func (s *Service) Describe(ctx context.Context, img model.ProblemImage, userID int64) (model.SandboxInfo, error) {
	if err := validateTriple(img, userID); err != nil {
		return model.SandboxInfo{}, err
	}
	name := model.SandboxName(img.ProblemName, img.ProblemID, userID)
	ctx = logger.WithSandbox(ctx, name)
	id, err := s.mustResolve(ctx, name)
	if err != nil {
		return model.SandboxInfo{}, err
	}
	return s.describe(ctx, name, id)
}

func (s *Service) describe(ctx context.Context, name, id string) (model.SandboxInfo, error) {
	info, err := s.containers.Inspect(ctx, id)
	if err != nil {
		return model.SandboxInfo{}, err
	}
	return model.SandboxInfo{
		Name:        name,
		ContainerID: info.ID,
		State:       model.ParseSandboxState(info.State),
		HostPort:    info.HostPort,
	}, nil
}

func (s *Service) mustResolve(ctx context.Context, name string) (string, error) {
	id, found, err := s.resolve(ctx, name)
	if err != nil {
		return "", err
	}
	if !found {
		return "", appErr.Newf(appErr.SandboxNotFound, "sandbox %s not found", name)
	}
	return id, nil
}

// resolve finds the container named exactly name. An index hint is trusted only after
// the engine confirms the container still carries that name; otherwise the full
// container list is scanned.
func (s *Service) resolve(ctx context.Context, name string) (string, bool, error) {
	if s.index != nil {
		id, ok, err := s.index.Lookup(ctx, name)
		if err != nil {
			logger.Warn(ctx, "sandbox index lookup failed", zap.Error(err))
		} else if ok {
			info, err := s.containers.Inspect(ctx, id)
			switch {
			case err == nil && info.Name == name:
				return id, true, nil
			case err == nil, appErr.Is(err, appErr.SandboxNotFound):
				logger.Debug(ctx, "stale sandbox index entry", zap.String("container_id", id))
			default:
				return "", false, err
			}
		}
	}

	summary, found, err := s.containers.Lookup(ctx, name)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	s.remember(ctx, name, summary.ID)
	return summary.ID, true, nil
}

func (s *Service) remember(ctx context.Context, name, containerID string) {
	if s.index == nil {
		return
	}
	if err := s.index.Put(ctx, name, containerID); err != nil {
		logger.Warn(ctx, "update sandbox index failed", zap.Error(err))
	}
}

func (s *Service) forget(ctx context.Context, name string) {
	if s.index == nil {
		return
	}
	if err := s.index.Delete(ctx, name); err != nil {
		logger.Warn(ctx, "delete sandbox index entry failed", zap.Error(err))
	}
}
