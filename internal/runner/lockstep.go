package runner

import (
	"context"
	"sync"
	"sync/atomic"
)

// worker is the goroutine bound to one simulation. Each round it receives
// one token on its own go channel and answers with one token on the shared
// done channel.
type worker struct {
	sim  Stepable
	goCh chan struct{}
}

// Lockstep runs every simulation on a dedicated goroutine and advances them
// together. Each Advance costs one send per worker and one receive per
// worker; there is no per-cycle task submission.
type Lockstep struct {
	opts options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	workers  []*worker
	byID     map[string]*worker
	shutdown bool

	advanceMu sync.Mutex
	done      chan struct{}
	quit      chan struct{}
	active    atomic.Int64
	wg        sync.WaitGroup
}

// NewLockstep creates an empty lockstep runner.
func NewLockstep(opts ...Option) *Lockstep {
	ctx, cancel := context.WithCancel(context.Background())
	return &Lockstep{
		opts:   buildOptions(opts),
		ctx:    ctx,
		cancel: cancel,
		byID:   make(map[string]*worker),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
}

// Add registers s and starts its worker, which blocks until the next Advance.
func (l *Lockstep) Add(s Stepable) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.shutdown {
		return nil
	}
	if _, ok := l.byID[s.ID()]; ok {
		return duplicate("runner.Lockstep.Add", s)
	}
	w := &worker{sim: s, goCh: make(chan struct{}, 1)}
	l.workers = append(l.workers, w)
	l.byID[s.ID()] = w

	l.wg.Add(1)
	go l.loop(w)

	l.opts.logger.Debug("simulation registered", "simulation", s.ID(), "registered", len(l.workers))
	return nil
}

// Remove deregisters s. A token already handed to its worker is still
// answered, so an Advance in flight is not disturbed.
func (l *Lockstep) Remove(s Stepable) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.byID[s.ID()]; ok {
		l.deregisterLocked(w)
		l.opts.logger.Debug("simulation removed", "simulation", s.ID(), "registered", len(l.workers))
	}
}

// deregisterLocked drops w if it is still the registered worker for its ID.
func (l *Lockstep) deregisterLocked(w *worker) {
	id := w.sim.ID()
	if l.byID[id] != w {
		return
	}
	delete(l.byID, id)
	for i, x := range l.workers {
		if x == w {
			l.workers = append(l.workers[:i], l.workers[i+1:]...)
			break
		}
	}
	close(w.goCh)
}

// loop is the worker state machine: wait for go, step, report done. A worker
// whose simulation is dead, or whose runner is shutting down, deregisters
// before reporting so the next round no longer counts it, then ends.
func (l *Lockstep) loop(w *worker) {
	defer l.wg.Done()

	for range w.goCh {
		last := !w.sim.Alive() || l.stopping()
		if !last {
			l.active.Add(1)
			if err := stepOnce(l.ctx, w.sim); err != nil {
				l.opts.fail(w.sim, err)
			}
			l.active.Add(-1)
			last = !w.sim.Alive()
		}
		if last {
			l.mu.Lock()
			l.deregisterLocked(w)
			l.mu.Unlock()
		}

		select {
		case l.done <- struct{}{}:
		case <-l.quit:
			return
		}

		if last {
			l.opts.logger.Debug("simulation worker terminated", "simulation", w.sim.ID())
			return
		}
	}
}

func (l *Lockstep) stopping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shutdown
}

// Advance releases one go token per registered worker and waits for the same
// number of done tokens.
func (l *Lockstep) Advance() int {
	l.advanceMu.Lock()
	defer l.advanceMu.Unlock()

	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return 0
	}
	n := len(l.workers)
	for _, w := range l.workers {
		w.goCh <- struct{}{}
	}
	l.mu.Unlock()

	for i := 0; i < n; i++ {
		select {
		case <-l.done:
		case <-l.quit:
			return i
		}
	}
	return n
}

// Dispose flags shutdown, empties the registry, and releases workers blocked
// in either phase. It waits for every worker to return.
func (l *Lockstep) Dispose() {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return
	}
	l.shutdown = true
	for _, w := range l.workers {
		close(w.goCh)
	}
	l.workers = nil
	l.byID = make(map[string]*worker)
	l.mu.Unlock()

	close(l.quit)
	l.cancel()
	l.wg.Wait()
	l.opts.logger.Debug("lockstep runner disposed")
}

func (l *Lockstep) ActiveCount() int { return int(l.active.Load()) }

func (l *Lockstep) Registered() []Stepable {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Stepable, len(l.workers))
	for i, w := range l.workers {
		out[i] = w.sim
	}
	return out
}

func (l *Lockstep) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.workers)
}
