package service_test

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/common/cache"
	"github.com/ExxiDauS/CyberCTF/internal/common/storage/storagetest"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/container"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/credential"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/engine"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/engine/enginetest"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/image"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/model"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/port"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/repository"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const archiveBucket = "problem-archives"

var algo101 = model.ProblemImage{ProblemName: "algo101", ProblemID: 7}

// scriptedPorts hands out ports in order, then repeats the last one.
type scriptedPorts struct {
	mu    sync.Mutex
	ports []int
	calls int
}

func (s *scriptedPorts) FindAvailablePort(ctx context.Context, min, max, maxAttempts int) (model.PortClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.ports) {
		i = len(s.ports) - 1
	}
	s.calls++
	return model.PortClaim{Port: s.ports[i], ClaimedAt: time.Now()}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event model.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	svc       *service.Service
	engine    *enginetest.Fake
	storage   *storagetest.Memory
	publisher *recordingPublisher
	index     *repository.SandboxIndex
	redis     *miniredis.Miniredis
}

type harnessOption func(*service.Config)

func withPorts(p service.PortAllocator) harnessOption {
	return func(c *service.Config) { c.Ports = p }
}

func withMaxPortRetries(n int) harnessOption {
	return func(c *service.Config) { c.MaxPortRetries = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	eng := enginetest.New()
	eng.BuildResult = engine.ImageInfo{ExposedPorts: []string{"22/tcp"}, Cmd: []string{"/usr/sbin/sshd", "-D"}}
	eng.AddImage(algo101.ImageTag(), eng.BuildResult)
	obj := storagetest.NewMemory()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache failed: %v", err)
	}
	index := repository.NewSandboxIndex(rc, time.Minute)

	manager, err := container.NewManager(eng, container.Options{})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	pub := &recordingPublisher{}
	allFree := port.ProberFunc(func(int) error { return nil })
	cfg := service.Config{
		Ports:      port.NewAllocator(port.WithProber(allFree)),
		Issuer:     credential.NewIssuer(credential.ModeHardened, nil),
		Builder:    image.NewBuilder(eng, obj, image.Options{Bucket: archiveBucket, Timeout: time.Minute}),
		Containers: manager,
		Locker:     repository.NewChainLocker(repository.NewLocalLocker(), repository.NewRedisLocker(rc, repository.RedisLockerOptions{Wait: 5 * time.Second})),
		Index:      index,
		Publisher:  pub,
		PortMin:    31000,
		PortMax:    31999,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc, err := service.NewService(cfg)
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	return &harness{svc: svc, engine: eng, storage: obj, publisher: pub, index: index, redis: mr}
}

func (h *harness) containersNamed(name string) int {
	n := 0
	for _, c := range h.engine.Containers() {
		if c.Options.Name == name {
			n++
		}
	}
	return n
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
