package parallel

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of goroutines running agent work at once.
//
// Work submitted while every slot is busy runs inline on the submitting
// goroutine instead of queueing, so a fork-join task blocked on its join
// can never starve the children it is waiting for.
type Pool struct {
	size    int
	sem     *semaphore.Weighted
	closed  atomic.Bool
	running atomic.Int64
	onPanic func(unit string, v any)
}

// NewPool creates a pool with size slots. onPanic receives the recovered
// value of any unit of work that panics; it may be nil.
func NewPool(size int, onPanic func(unit string, v any)) *Pool {
	if size < 1 {
		size = 1
	}
	if onPanic == nil {
		onPanic = func(string, any) {}
	}
	return &Pool{
		size:    size,
		sem:     semaphore.NewWeighted(int64(size)),
		onPanic: onPanic,
	}
}

// Go runs fn as one unit of work tracked by wg. It runs on a pool goroutine
// when a slot is free, otherwise on the caller. A panic inside fn is
// recovered and handed to the pool's panic handler; wg is released either way.
func (p *Pool) Go(wg *sync.WaitGroup, unit string, fn func()) {
	wg.Add(1)
	if !p.closed.Load() && p.sem.TryAcquire(1) {
		go func() {
			defer wg.Done()
			defer p.sem.Release(1)
			p.run(unit, fn)
		}()
		return
	}
	defer wg.Done()
	p.run(unit, fn)
}

func (p *Pool) run(unit string, fn func()) {
	p.running.Add(1)
	defer p.running.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.onPanic(unit, r)
		}
	}()
	fn()
}

// Size is the number of slots.
func (p *Pool) Size() int { return p.size }

// Running is the number of units currently executing, inline ones included.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Close stops handing out slots and blocks until every goroutine started by
// the pool has finished. Units submitted after Close run inline.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	_ = p.sem.Acquire(context.Background(), int64(p.size))
}
