package image

import "context"

// buildSlots caps how many builds run against the engine at once. A nil value is unbounded.
type buildSlots chan struct{}

func newBuildSlots(size int) buildSlots {
	if size <= 0 {
		return nil
	}
	return make(buildSlots, size)
}

// acquire blocks until a slot frees up or ctx ends.
func (s buildSlots) acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s buildSlots) release() {
	if s == nil {
		return
	}
	<-s
}
