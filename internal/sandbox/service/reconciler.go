package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ExxiDauS/CyberCTF/pkg/utils/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reindex rebuilds the sandbox index from the engine's list of sandbox containers
// and returns how many sandboxes it recorded.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	containers, err := s.containers.ListManaged(ctx)
	if err != nil {
		return 0, err
	}
	entries := make(map[string]string, len(containers))
	for _, c := range containers {
		if len(c.Names) == 0 {
			continue
		}
		entries[c.Names[0]] = c.ID
	}
	if err := s.index.Replace(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Reindexer is the work a Reconciler schedules.
type Reindexer interface {
	Reindex(ctx context.Context) (int, error)
}

// Reconciler periodically refreshes the sandbox index on a cron schedule.
type Reconciler struct {
	target   Reindexer
	schedule string
	timeout  time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReconciler uses a standard five-field cron spec or a descriptor such as "@every 1m".
func NewReconciler(target Reindexer, schedule string, timeout time.Duration) *Reconciler {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Reconciler{
		target:   target,
		schedule: schedule,
		timeout:  timeout,
		cron:     cron.New(),
	}
}

// Start registers the job and starts the scheduler.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.cron.AddFunc(r.schedule, func() {
		_, _ = r.RunOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule sandbox reconciler %q failed: %w", r.schedule, err)
	}
	r.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running job to finish or ctx to end.
func (r *Reconciler) Stop(ctx context.Context) {
	r.mu.Lock()
	done := r.cron.Stop()
	r.mu.Unlock()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce reindexes immediately.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	started := time.Now()
	n, err := r.target.Reindex(runCtx)
	if err != nil {
		logger.Warn(ctx, "sandbox reindex failed", zap.Error(err))
		return 0, err
	}
	logger.Debug(ctx, "sandbox reindex finished", zap.Int("sandboxes", n), zap.Duration("elapsed", time.Since(started)))
	return n, nil
}
