package cache

import (
	"context"
	"time"
)

// Cache defines the cache operations used by the provisioning service.
// This abstraction allows switching between different cache implementations
// (Redis, local memory) without changing business logic.
type Cache interface {
	BasicOps
	HashOps
	LockOps
	CounterOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key; a missing key returns "" and nil
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// HashOps defines hash (map) operations
type HashOps interface {
	// HSet sets field in the hash stored at key to value
	HSet(ctx context.Context, key, field string, value interface{}) error

	// HGet returns the value associated with field; a missing field returns "" and nil
	HGet(ctx context.Context, key, field string) (string, error)

	// HGetAll returns all fields and values of the hash stored at key
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HDel deletes one or more fields from the hash stored at key
	HDel(ctx context.Context, key string, fields ...string) error

	// HReplace atomically replaces the whole hash with fields and applies ttl when positive
	HReplace(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
}

// LockOps defines distributed lock operations.
// The token identifies the holder so a lock is only released by its owner.
type LockOps interface {
	// TryLock attempts to acquire a distributed lock
	// Returns true if lock was acquired, false otherwise
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Unlock releases a distributed lock held with token
	Unlock(ctx context.Context, key, token string) error

	// ExtendLock extends the TTL of a lock held with token
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) error
}

// CounterOps defines the counter primitives behind fixed-window limits.
type CounterOps interface {
	// SetNX sets key to value only when it does not exist yet
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Incr increments the integer stored at key and returns the new value
	Incr(ctx context.Context, key string) (int64, error)

	// TTL returns the remaining time to live of key
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
