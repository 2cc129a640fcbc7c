// Package port finds free host TCP ports for new sandboxes.
//
// Probing is a best-effort check: a port that was free when probed can be taken
// before the container binds it. The container engine rejecting the binding is the
// real arbiter, and callers retry with a fresh allocation when that happens.
package port

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/sandbox/model"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// Allocator picks random untried ports first, then falls back to a linear scan.
type Allocator struct {
	prober Prober
	now    func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithProber replaces the TCP bind prober.
func WithProber(p Prober) Option {
	return func(a *Allocator) {
		if p != nil {
			a.prober = p
		}
	}
}

// WithRand sets the random source used for the random phase.
func WithRand(r *rand.Rand) Option {
	return func(a *Allocator) {
		if r != nil {
			a.rnd = r
		}
	}
}

// WithClock overrides the timestamp source for claims.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		prober: NewTCPProber(""),
		now:    time.Now,
		rnd:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FindAvailablePort returns a claim on a port in [min, max] that was bindable at probe time.
// It tries up to maxAttempts random untried ports, then scans the rest of the range in order.
// PortExhaustion is returned only after every port in the range has been probed.
func (a *Allocator) FindAvailablePort(ctx context.Context, min, max, maxAttempts int) (model.PortClaim, error) {
	if min < MinPort || max > MaxPort || min > max {
		return model.PortClaim{}, appErr.Newf(appErr.InvalidParams, "invalid port range [%d, %d]", min, max)
	}
	if maxAttempts < 0 {
		maxAttempts = 0
	}

	size := max - min + 1
	tried := make(map[int]struct{}, minInt(maxAttempts, size))
	order := a.newShuffle(size)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.PortClaim{}, err
		}
		offset, ok := order.next()
		if !ok {
			break
		}
		port := min + offset
		tried[port] = struct{}{}
		if a.available(port) {
			return a.claim(port), nil
		}
	}

	for port := min; port <= max; port++ {
		if _, done := tried[port]; done {
			continue
		}
		if err := ctx.Err(); err != nil {
			return model.PortClaim{}, err
		}
		if a.available(port) {
			return a.claim(port), nil
		}
	}

	return model.PortClaim{}, appErr.Newf(appErr.PortExhaustion, "no free port in range [%d, %d]", min, max).
		WithDetail("min", min).
		WithDetail("max", max)
}

// available treats "in use" and every other bind failure alike: the port is skipped.
func (a *Allocator) available(port int) bool {
	return a.prober.Probe(port) == nil
}

func (a *Allocator) claim(port int) model.PortClaim {
	return model.PortClaim{Port: port, ClaimedAt: a.now()}
}

func (a *Allocator) newShuffle(n int) *shuffle {
	a.mu.Lock()
	seed1, seed2 := a.rnd.Uint64(), a.rnd.Uint64()
	a.mu.Unlock()
	return &shuffle{
		remaining: n,
		swapped:   make(map[int]int),
		rnd:       rand.New(rand.NewPCG(seed1, seed2)),
	}
}

// shuffle yields offsets in [0, n) uniformly without repeats (sparse Fisher-Yates).
type shuffle struct {
	remaining int
	swapped   map[int]int
	rnd       *rand.Rand
}

func (s *shuffle) next() (int, bool) {
	if s.remaining == 0 {
		return 0, false
	}
	i := s.rnd.IntN(s.remaining)
	picked := s.at(i)
	s.swapped[i] = s.at(s.remaining - 1)
	delete(s.swapped, s.remaining-1)
	s.remaining--
	return picked, true
}

func (s *shuffle) at(i int) int {
	if v, ok := s.swapped[i]; ok {
		return v
	}
	return i
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
