package port_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/ExxiDauS/CyberCTF/internal/sandbox/port"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
)

type recordingProber struct {
	mu     sync.Mutex
	free   map[int]bool
	err    error
	probed []int
}

func (p *recordingProber) Probe(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, n)
	if p.free[n] {
		return nil
	}
	if p.err != nil {
		return p.err
	}
	return port.ErrInUse
}

func TestFindAvailablePortReturnsBindablePort(t *testing.T) {
	t.Parallel()
	alloc := port.NewAllocator()
	claim, err := alloc.FindAvailablePort(context.Background(), 20000, 60000, 20)
	if err != nil {
		t.Fatalf("find port failed: %v", err)
	}
	if claim.Port < 20000 || claim.Port > 60000 {
		t.Fatalf("port out of range: %d", claim.Port)
	}
	if claim.ClaimedAt.IsZero() {
		t.Fatalf("expected claim timestamp")
	}
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(claim.Port))
	if err != nil {
		t.Fatalf("returned port is not bindable: %v", err)
	}
	_ = ln.Close()
}

func TestFindAvailablePortSkipsOccupiedPort(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	alloc := port.NewAllocator()
	_, err = alloc.FindAvailablePort(context.Background(), busy, busy, 3)
	if !appErr.Is(err, appErr.PortExhaustion) {
		t.Fatalf("expected port exhaustion, got %v", err)
	}
}

func TestFindAvailablePortExhaustsWholeRangeBeforeFailing(t *testing.T) {
	t.Parallel()
	prober := &recordingProber{}
	alloc := port.NewAllocator(port.WithProber(prober))

	_, err := alloc.FindAvailablePort(context.Background(), 100, 120, 5)
	if !appErr.Is(err, appErr.PortExhaustion) {
		t.Fatalf("expected port exhaustion, got %v", err)
	}
	if len(prober.probed) != 21 {
		t.Fatalf("expected every port probed once, got %d probes", len(prober.probed))
	}
	seen := make(map[int]bool)
	for _, p := range prober.probed {
		if seen[p] {
			t.Fatalf("port %d probed twice", p)
		}
		seen[p] = true
	}
}

func TestFindAvailablePortFallsBackToLinearScan(t *testing.T) {
	t.Parallel()
	prober := &recordingProber{free: map[int]bool{150: true}}
	alloc := port.NewAllocator(port.WithProber(prober))

	claim, err := alloc.FindAvailablePort(context.Background(), 100, 199, 0)
	if err != nil {
		t.Fatalf("find port failed: %v", err)
	}
	if claim.Port != 150 {
		t.Fatalf("expected port 150, got %d", claim.Port)
	}
	if len(prober.probed) != 51 || prober.probed[0] != 100 {
		t.Fatalf("expected ordered scan from 100, got %d probes starting at %d", len(prober.probed), prober.probed[0])
	}
}

func TestFindAvailablePortTreatsOtherErrorsAsUnavailable(t *testing.T) {
	t.Parallel()
	prober := &recordingProber{
		free: map[int]bool{305: true},
		err:  errors.New("permission denied"),
	}
	alloc := port.NewAllocator(port.WithProber(prober))

	claim, err := alloc.FindAvailablePort(context.Background(), 300, 310, 2)
	if err != nil {
		t.Fatalf("find port failed: %v", err)
	}
	if claim.Port != 305 {
		t.Fatalf("expected port 305, got %d", claim.Port)
	}
}

func TestFindAvailablePortIsDeterministicWithSeed(t *testing.T) {
	t.Parallel()
	allFree := port.ProberFunc(func(int) error { return nil })
	first := port.NewAllocator(port.WithProber(allFree), port.WithRand(rand.New(rand.NewPCG(7, 42))))
	second := port.NewAllocator(port.WithProber(allFree), port.WithRand(rand.New(rand.NewPCG(7, 42))))

	a, err := first.FindAvailablePort(context.Background(), 30000, 40000, 10)
	if err != nil {
		t.Fatalf("first allocator failed: %v", err)
	}
	b, err := second.FindAvailablePort(context.Background(), 30000, 40000, 10)
	if err != nil {
		t.Fatalf("second allocator failed: %v", err)
	}
	if a.Port != b.Port {
		t.Fatalf("expected same port for same seed, got %d and %d", a.Port, b.Port)
	}
}

func TestFindAvailablePortRejectsInvalidRange(t *testing.T) {
	t.Parallel()
	alloc := port.NewAllocator()
	cases := [][2]int{{0, 10}, {10, 70000}, {500, 400}}
	for _, c := range cases {
		if _, err := alloc.FindAvailablePort(context.Background(), c[0], c[1], 3); !appErr.Is(err, appErr.InvalidParams) {
			t.Fatalf("range %v: expected invalid params, got %v", c, err)
		}
	}
}

func TestFindAvailablePortHonorsCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	alloc := port.NewAllocator(port.WithProber(&recordingProber{}))
	if _, err := alloc.FindAvailablePort(ctx, 100, 200, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestTCPProberReportsInUse(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	err = port.NewTCPProber("").Probe(busy)
	if !errors.Is(err, port.ErrInUse) {
		t.Fatalf("expected in-use error, got %v", err)
	}
}
