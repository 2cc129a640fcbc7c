package repository

import (
	"context"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/common/cache"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
)

const (
	indexKey        = "sandbox:index"
	defaultIndexTTL = 10 * time.Minute
)

// SandboxIndex caches sandbox name -> container id. Entries are hints: callers
// confirm them against the engine before acting.
type SandboxIndex struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewSandboxIndex(c cache.Cache, ttl time.Duration) *SandboxIndex {
	if ttl <= 0 {
		ttl = defaultIndexTTL
	}
	return &SandboxIndex{cache: c, ttl: ttl}
}

// Lookup returns the cached container id for name.
func (i *SandboxIndex) Lookup(ctx context.Context, name string) (string, bool, error) {
	id, err := i.cache.HGet(ctx, indexKey, name)
	if err != nil {
		return "", false, appErr.Wrapf(err, appErr.CacheError, "read sandbox index failed")
	}
	return id, id != "", nil
}

// Put records name -> containerID and refreshes the index TTL.
func (i *SandboxIndex) Put(ctx context.Context, name, containerID string) error {
	if err := i.cache.HSet(ctx, indexKey, name, containerID); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write sandbox index failed")
	}
	if err := i.cache.Expire(ctx, indexKey, i.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "refresh sandbox index ttl failed")
	}
	return nil
}

// Delete drops name from the index.
func (i *SandboxIndex) Delete(ctx context.Context, name string) error {
	if err := i.cache.HDel(ctx, indexKey, name); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "delete sandbox index entry failed")
	}
	return nil
}

// Replace swaps the whole index for entries.
func (i *SandboxIndex) Replace(ctx context.Context, entries map[string]string) error {
	if err := i.cache.HReplace(ctx, indexKey, entries, i.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "replace sandbox index failed")
	}
	return nil
}

// All returns every cached entry.
func (i *SandboxIndex) All(ctx context.Context) (map[string]string, error) {
	entries, err := i.cache.HGetAll(ctx, indexKey)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read sandbox index failed")
	}
	return entries, nil
}
