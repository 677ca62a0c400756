package parallel

import (
	"context"
	"sync"
)

// Span is a splittable sequence of agents.
type Span interface {
	// Len estimates the number of agents left in the span.
	Len() int

	// Split cuts the span roughly in half. ok is false when it cannot be split.
	Split() (left, right Span, ok bool)

	// Each visits the agents in order until fn returns false. It reports
	// whether every visited agent returned true.
	Each(fn func(Agent) bool) bool
}

// SliceSpan is a Span over a slice. Splitting shares the backing array.
type SliceSpan []Agent

func (s SliceSpan) Len() int { return len(s) }

func (s SliceSpan) Split() (Span, Span, bool) {
	if len(s) < 2 {
		return s, nil, false
	}
	mid := len(s) / 2
	return s[:mid], s[mid:], true
}

func (s SliceSpan) Each(fn func(Agent) bool) bool {
	for _, a := range s {
		if !fn(a) {
			return false
		}
	}
	return true
}

// stepTask recursively splits a span until partitions are no larger than
// threshold, forking one half onto the pool and keeping the other.
type stepTask struct {
	ctx       context.Context
	pool      *Pool
	threshold int
}

// run returns the AND of its partitions. A halt stops only the partition
// it happened in; sibling partitions already forked keep going. The forked
// half is always joined, even when the kept half panics.
func (t *stepTask) run(s Span) (ok bool) {
	if s.Len() > t.threshold {
		if left, right, split := s.Split(); split {
			var wg sync.WaitGroup
			rightOK := true
			t.pool.Go(&wg, "forkjoin.step", func() { rightOK = t.run(right) })
			defer func() {
				wg.Wait()
				ok = ok && rightOK
			}()
			return t.run(left)
		}
	}
	return s.Each(func(a Agent) bool {
		if a.Dead() {
			return true
		}
		return a.Step(t.ctx)
	})
}

// executeTask is the executable variant. Break results are ignored: the
// only stop signal is the context, shared by every partition.
type executeTask struct {
	ctx       context.Context
	pool      *Pool
	threshold int
	exec      Executable
}

func (t *executeTask) run(s Span) {
	if t.ctx.Err() != nil {
		return
	}
	if s.Len() > t.threshold {
		if left, right, ok := s.Split(); ok {
			var wg sync.WaitGroup
			defer wg.Wait()
			t.pool.Go(&wg, "forkjoin.execute", func() { t.run(right) })
			t.run(left)
			return
		}
	}
	s.Each(func(a Agent) bool {
		if t.ctx.Err() != nil {
			return false
		}
		t.exec(t.ctx, a)
		return true
	})
}
