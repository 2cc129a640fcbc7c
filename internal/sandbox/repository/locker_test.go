package repository_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/common/cache"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/repository"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache failed: %v", err)
	}
	return c, mr
}

func TestLocalLockerSerialisesSameKey(t *testing.T) {
	t.Parallel()
	locker := repository.NewLocalLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(context.Background(), "algo101-7-42")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxInside)
	}
	if locker.Held() != 0 {
		t.Fatalf("expected lock entries cleaned up, got %d", locker.Held())
	}
}

func TestLocalLockerDistinctKeysDoNotBlock(t *testing.T) {
	t.Parallel()
	locker := repository.NewLocalLocker()
	releaseA, err := locker.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock a failed: %v", err)
	}
	defer releaseA()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := locker.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock b should not wait for a: %v", err)
	}
	releaseB()
}

func TestLocalLockerHonorsContext(t *testing.T) {
	t.Parallel()
	locker := repository.NewLocalLocker()
	release, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "k"); !appErr.Is(err, appErr.Timeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	release()
	release()
	if locker.Held() != 0 {
		t.Fatalf("expected entries cleaned up, got %d", locker.Held())
	}
}

func TestRedisLockerBusyIsProvisionInProgress(t *testing.T) {
	t.Parallel()
	c, mr := newRedisCache(t)
	locker := repository.NewRedisLocker(c, repository.RedisLockerOptions{TTL: 5 * time.Second, Wait: 30 * time.Millisecond, Poll: 5 * time.Millisecond})

	release, err := locker.Lock(context.Background(), "algo101-7-42")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if !mr.Exists("sandbox:lock:algo101-7-42") {
		t.Fatalf("expected lock key in redis")
	}
	if _, err := locker.Lock(context.Background(), "algo101-7-42"); !appErr.Is(err, appErr.ProvisionInProgress) {
		t.Fatalf("expected provision in progress, got %v", err)
	}
	release()
	if mr.Exists("sandbox:lock:algo101-7-42") {
		t.Fatalf("expected lock key released")
	}
	release2, err := locker.Lock(context.Background(), "algo101-7-42")
	if err != nil {
		t.Fatalf("re-lock failed: %v", err)
	}
	release2()
}

func TestRedisLockerDoesNotReleaseForeignLock(t *testing.T) {
	t.Parallel()
	c, mr := newRedisCache(t)
	locker := repository.NewRedisLocker(c, repository.RedisLockerOptions{TTL: time.Second})

	release, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	// lease expired and was taken by another holder
	if err := mr.Set("sandbox:lock:k", "someone-else"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	release()
	got, err := mr.Get("sandbox:lock:k")
	if err != nil || got != "someone-else" {
		t.Fatalf("foreign lock must survive release, got %q (%v)", got, err)
	}
}

func TestChainLockerReleasesOnFailure(t *testing.T) {
	t.Parallel()
	c, _ := newRedisCache(t)
	local := repository.NewLocalLocker()
	remote := repository.NewRedisLocker(c, repository.RedisLockerOptions{TTL: 5 * time.Second})
	chain := repository.NewChainLocker(local, remote, nil)

	hold, err := remote.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("remote lock failed: %v", err)
	}
	if _, err := chain.Lock(context.Background(), "k"); !appErr.Is(err, appErr.ProvisionInProgress) {
		t.Fatalf("expected provision in progress, got %v", err)
	}
	if local.Held() != 0 {
		t.Fatalf("expected local lock released after chain failure")
	}
	hold()

	release, err := chain.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("chain lock failed: %v", err)
	}
	release()
}
