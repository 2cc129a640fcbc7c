package repository

import (
	"context"
	"sync"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/common/cache"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const lockKeyPrefix = "sandbox:lock:"

// Locker serialises work on one sandbox name.
type Locker interface {
	// Lock blocks until key is held or ctx ends. The returned func releases it.
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker is an in-process mutex per key. Entries are dropped once unused.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry, false)
		return nil, appErr.Wrapf(ctx.Err(), appErr.Timeout, "wait for sandbox lock %s", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, entry, true) })
	}, nil
}

func (l *LocalLocker) release(key string, entry *localEntry, held bool) {
	if held {
		<-entry.sem
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

// Held reports how many keys currently have holders or waiters.
func (l *LocalLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// RedisLockerOptions configures RedisLocker.
type RedisLockerOptions struct {
	// TTL is the lease length; the holder renews it while working.
	TTL time.Duration
	// Wait bounds how long Lock polls before reporting ProvisionInProgress.
	Wait time.Duration
	// Poll is the interval between acquisition attempts.
	Poll time.Duration
}

// RedisLocker is a cross-process lease on a key, owned by a random token.
type RedisLocker struct {
	locks cache.LockOps
	opts  RedisLockerOptions
}

func NewRedisLocker(locks cache.LockOps, opts RedisLockerOptions) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}
	if opts.Poll <= 0 {
		opts.Poll = 50 * time.Millisecond
	}
	return &RedisLocker{locks: locks, opts: opts}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.opts.Wait)
	for {
		ok, err := r.locks.TryLock(ctx, lockKey, token, r.opts.TTL)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.LockFailed, "acquire sandbox lock failed")
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, appErr.Newf(appErr.ProvisionInProgress, "sandbox %s is busy", key)
		}
		select {
		case <-ctx.Done():
			return nil, appErr.Wrapf(ctx.Err(), appErr.Timeout, "wait for sandbox lock %s", key)
		case <-time.After(r.opts.Poll):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renew(ctx, lockKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
			defer cancel()
			if err := r.locks.Unlock(unlockCtx, lockKey, token); err != nil {
				logger.Warn(ctx, "release sandbox lock failed", zap.String("key", lockKey), zap.Error(err))
			}
		})
	}, nil
}

func (r *RedisLocker) renew(ctx context.Context, lockKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.opts.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			renewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.TTL/3)
			err := r.locks.ExtendLock(renewCtx, lockKey, token, r.opts.TTL)
			cancel()
			if err != nil {
				logger.Warn(ctx, "renew sandbox lock failed", zap.String("key", lockKey), zap.Error(err))
				return
			}
		}
	}
}

// ChainLocker takes every locker in order and releases in reverse.
type ChainLocker struct {
	lockers []Locker
}

func NewChainLocker(lockers ...Locker) *ChainLocker {
	out := make([]Locker, 0, len(lockers))
	for _, l := range lockers {
		if l != nil {
			out = append(out, l)
		}
	}
	return &ChainLocker{lockers: out}
}

func (c *ChainLocker) Lock(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c.lockers))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c.lockers {
		release, err := l.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
