// Package pool implements the two-priority concurrency pool (C3): a
// dynamically resizable worker pool with a strict small-before-large
// dispatch order. Parallelism is modulated by the batch orchestrator as
// the weak-link detector's verdicts and the migration phase change.
package pool

import (
	"context"
	"sync"
)

// Task is a deferred unit of work. It is opaque to the pool beyond its
// priority tag.
type Task func(ctx context.Context)

// Snapshot is an introspection view of the pool's state.
type Snapshot struct {
	Running int
	SmallQ  int
	LargeQ  int
	Limit   int
}

// item is one queued task; which queue (small or large) holds it is the
// only priority bookkeeping the pool keeps.
type item struct {
	task Task
}

// Pool is a PriorityPool (C3). Dispatch pumps `small` ahead of `large`
// (never preempting a running large task), FIFO within each class. The
// pump is re-entrancy safe: a sentinel flag prevents two dispatch loops
// from racing the same queues.
type Pool struct {
	mu      sync.Mutex
	limit   int
	running int
	small   []item
	large   []item
	pumping bool

	idleMu   sync.Mutex
	idleCond *sync.Cond

	ctx context.Context
}

// New creates a Pool with the given initial parallelism limit.
func New(ctx context.Context, limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	p := &Pool{
		limit: limit,
		ctx:   ctx,
	}
	p.idleCond = sync.NewCond(&p.idleMu)
	return p
}

// Push enqueues a task tagged small or large and attempts to dispatch.
func (p *Pool) Push(task Task, small bool) {
	p.mu.Lock()
	if small {
		p.small = append(p.small, item{task: task})
	} else {
		p.large = append(p.large, item{task: task})
	}
	p.mu.Unlock()
	p.pump()
}

// SetLimit updates the parallelism limit. Lowering it never cancels
// running tasks; new starts are simply suppressed until running < limit.
// Raising it immediately dispatches to fill the new headroom.
func (p *Pool) SetLimit(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	p.limit = n
	p.mu.Unlock()
	p.pump()
}

// Snapshot returns a point-in-time view of the pool for introspection.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Running: p.running,
		SmallQ:  len(p.small),
		LargeQ:  len(p.large),
		Limit:   p.limit,
	}
}

// pump is the dispatch loop. While running < limit and some queue is
// non-empty, it pops one task (small first, else large), increments
// running and schedules it in its own goroutine. Re-entrant calls while
// a pump is already running are absorbed by the `pumping` sentinel: the
// in-flight pump will loop again itself once it sees new work was
// queued, so no dispatch is lost.
func (p *Pool) pump() {
	p.mu.Lock()
	if p.pumping {
		p.mu.Unlock()
		return
	}
	p.pumping = true

	for {
		if p.running >= p.limit {
			p.pumping = false
			p.mu.Unlock()
			return
		}
		var next item
		var ok bool
		if len(p.small) > 0 {
			next, p.small = p.small[0], p.small[1:]
			ok = true
		} else if len(p.large) > 0 {
			next, p.large = p.large[0], p.large[1:]
			ok = true
		}
		if !ok {
			p.pumping = false
			p.mu.Unlock()
			return
		}
		p.running++
		p.mu.Unlock()

		go p.run(next.task)

		p.mu.Lock()
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		p.mu.Lock()
		p.running--
		p.mu.Unlock()
		p.idleMu.Lock()
		p.idleCond.Broadcast()
		p.idleMu.Unlock()
		p.pump()
	}()
	task(p.ctx)
}

// Idle blocks the calling goroutine until both queues are empty and
// running == 0. A polling-based resolution would also satisfy the
// caller; this uses a condition variable instead, which is strictly
// stronger.
func (p *Pool) Idle() {
	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	for !p.isQuiescent() {
		p.idleCond.Wait()
	}
}

func (p *Pool) isQuiescent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running == 0 && len(p.small) == 0 && len(p.large) == 0
}
