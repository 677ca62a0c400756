package runner

import (
	"context"
	"sync"
	"sync/atomic"
)

// Sequential steps simulations one after another on the caller's goroutine.
// It is chosen when simulations are not to be stepped in parallel.
type Sequential struct {
	opts options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sims     []Stepable
	disposed bool
	active   atomic.Int64
}

func NewSequential(opts ...Option) *Sequential {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequential{opts: buildOptions(opts), ctx: ctx, cancel: cancel}
}

func (r *Sequential) Add(s Stepable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return nil
	}
	for _, x := range r.sims {
		if x.ID() == s.ID() {
			return duplicate("runner.Sequential.Add", s)
		}
	}
	r.sims = append(r.sims, s)
	r.opts.logger.Debug("simulation registered", "simulation", s.ID(), "registered", len(r.sims))
	return nil
}

func (r *Sequential) Remove(s Stepable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(s.ID())
}

func (r *Sequential) removeLocked(id string) {
	for i, x := range r.sims {
		if x.ID() == id {
			r.sims = append(r.sims[:i], r.sims[i+1:]...)
			r.opts.logger.Debug("simulation removed", "simulation", id, "registered", len(r.sims))
			return
		}
	}
}

// Advance steps each registered simulation once, in registration order.
// Dead simulations are dropped instead of stepped.
func (r *Sequential) Advance() int {
	stepped := 0
	for _, s := range r.Registered() {
		if r.ctx.Err() != nil {
			break
		}
		if !s.Alive() {
			r.Remove(s)
			continue
		}
		r.active.Add(1)
		if err := stepOnce(r.ctx, s); err != nil {
			r.opts.fail(s, err)
		}
		r.active.Add(-1)
		stepped++
	}
	return stepped
}

func (r *Sequential) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = true
	r.sims = nil
	r.cancel()
}

func (r *Sequential) ActiveCount() int { return int(r.active.Load()) }

func (r *Sequential) Registered() []Stepable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Stepable(nil), r.sims...)
}

func (r *Sequential) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sims)
}
