package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type fakeSim struct {
	id      string
	steps   atomic.Int64
	dead    atomic.Bool
	failing bool
	panics  bool
	// dieAt kills the simulation during its n-th step when positive.
	dieAt int64
	gate  chan struct{}
}

func newFakeSim(id string) *fakeSim { return &fakeSim{id: id} }

func (s *fakeSim) ID() string { return s.id }

func (s *fakeSim) Alive() bool { return !s.dead.Load() }

func (s *fakeSim) Step(ctx context.Context) error {
	n := s.steps.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.dieAt > 0 && n >= s.dieAt {
		s.dead.Store(true)
	}
	if s.panics {
		panic("step exploded")
	}
	if s.failing {
		return errors.New("step failed")
	}
	return nil
}

type failureLog struct {
	mu   sync.Mutex
	errs map[string][]error
}

func newFailureLog() *failureLog { return &failureLog{errs: map[string][]error{}} }

func (f *failureLog) handle(s Stepable, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[s.ID()] = append(f.errs[s.ID()], err)
}

func (f *failureLog) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs[id])
}

func (f *failureLog) first(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[id][0]
}
