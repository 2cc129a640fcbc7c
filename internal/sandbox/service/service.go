// Package service orchestrates sandbox provisioning on top of the port allocator,
// credential issuer, image builder and container manager.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/sandbox/credential"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/engine"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/image"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/model"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/repository"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultPortMin        = 30000
	defaultPortMax        = 40000
	defaultPortAttempts   = 20
	defaultMaxPortRetries = 3
	defaultCleanupTimeout = 30 * time.Second
)

// PortAllocator finds a free host port.
type PortAllocator interface {
	FindAvailablePort(ctx context.Context, min, max, maxAttempts int) (model.PortClaim, error)
}

// CredentialIssuer produces per-sandbox secrets.
type CredentialIssuer interface {
	Issue(userID int64) (credential.Credentials, error)
}

// ImageBuilder builds problem images and stores their archives.
type ImageBuilder interface {
	Build(ctx context.Context, img model.ProblemImage) (string, error)
	UploadArchive(ctx context.Context, in image.UploadInput) (model.ArchiveRef, error)
}

// ContainerManager drives sandbox containers.
type ContainerManager interface {
	Create(ctx context.Context, img model.ProblemImage, userID int64, hostPort int, creds credential.Credentials) (model.Sandbox, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Lookup(ctx context.Context, name string) (engine.ContainerSummary, bool, error)
	Inspect(ctx context.Context, id string) (engine.ContainerInfo, error)
	ListManaged(ctx context.Context) ([]engine.ContainerSummary, error)
}

// SandboxIndex caches name -> container id hints.
type SandboxIndex interface {
	Lookup(ctx context.Context, name string) (string, bool, error)
	Put(ctx context.Context, name, containerID string) error
	Delete(ctx context.Context, name string) error
	Replace(ctx context.Context, entries map[string]string) error
}

// Service is the sandbox orchestrator.
type Service struct {
	ports      PortAllocator
	issuer     CredentialIssuer
	builder    ImageBuilder
	containers ContainerManager
	locker     repository.Locker
	index      SandboxIndex
	publisher  repository.EventPublisher

	portMin        int
	portMax        int
	portAttempts   int
	maxPortRetries int
	cleanupTimeout time.Duration
}

// Config holds service dependencies and settings.
type Config struct {
	Ports      PortAllocator
	Issuer     CredentialIssuer
	Builder    ImageBuilder
	Containers ContainerManager
	// Locker defaults to an in-process lock per sandbox name.
	Locker repository.Locker
	// Index and Publisher are optional.
	Index     SandboxIndex
	Publisher repository.EventPublisher

	PortMin      int
	PortMax      int
	PortAttempts int
	// MaxPortRetries bounds re-allocation after the engine rejects a port binding.
	MaxPortRetries int
	CleanupTimeout time.Duration
}

// NewService creates a new sandbox service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Ports == nil {
		return nil, fmt.Errorf("port allocator is required")
	}
	if cfg.Issuer == nil {
		return nil, fmt.Errorf("credential issuer is required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("image builder is required")
	}
	if cfg.Containers == nil {
		return nil, fmt.Errorf("container manager is required")
	}
	if cfg.Locker == nil {
		cfg.Locker = repository.NewLocalLocker()
	}
	if cfg.PortMin <= 0 {
		cfg.PortMin = defaultPortMin
	}
	if cfg.PortMax <= 0 {
		cfg.PortMax = defaultPortMax
	}
	if cfg.PortMin > cfg.PortMax {
		return nil, fmt.Errorf("invalid port range [%d, %d]", cfg.PortMin, cfg.PortMax)
	}
	if cfg.PortAttempts <= 0 {
		cfg.PortAttempts = defaultPortAttempts
	}
	if cfg.MaxPortRetries < 0 {
		cfg.MaxPortRetries = 0
	} else if cfg.MaxPortRetries == 0 {
		cfg.MaxPortRetries = defaultMaxPortRetries
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}
	return &Service{
		ports:          cfg.Ports,
		issuer:         cfg.Issuer,
		builder:        cfg.Builder,
		containers:     cfg.Containers,
		locker:         cfg.Locker,
		index:          cfg.Index,
		publisher:      cfg.Publisher,
		portMin:        cfg.PortMin,
		portMax:        cfg.PortMax,
		portAttempts:   cfg.PortAttempts,
		maxPortRetries: cfg.MaxPortRetries,
		cleanupTimeout: cfg.CleanupTimeout,
	}, nil
}

// VerifyFlag checks a submitted flag against the digest returned at provisioning.
func (s *Service) VerifyFlag(digest, submitted string) bool {
	return credential.VerifyFlag(digest, submitted)
}

func (s *Service) publish(ctx context.Context, event model.LifecycleEvent) {
	if s.publisher == nil {
		return
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().Unix()
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Warn(ctx, "publish lifecycle event failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// cleanupContext outlives a cancelled request so partial side effects still get removed.
func (s *Service) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cleanupTimeout)
}
