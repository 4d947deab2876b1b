package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warpdl/netshift/pkg/logger"
	"github.com/warpdl/netshift/pkg/netlink"
	"github.com/warpdl/netshift/pkg/pool"
	"github.com/warpdl/netshift/pkg/probe"
)

// migration serializes the staged link-migration protocol across the
// concurrently-running per-URL tasks. Exactly one task observes
// tryEnter return true per eligible weak verdict; every other task's
// weak verdict during Draining or after Switched is ignored, which the
// promptsLeft counter and the state check below guarantee together.
type migration struct {
	mu           sync.Mutex
	st           MigrationState
	promptsLeft  int
	weakDetectIx int
	weakRecorded bool

	pausedMs        atomic.Int64
	switchTriggerTS atomic.Int64
}

func (m *migration) state() MigrationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// tryEnter atomically transitions Normal -> Draining for the calling
// task iff no migration is already in flight or exhausted, recording
// index as the weak_detect_index the first time this succeeds.
func (m *migration) tryEnter(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st != Normal || m.promptsLeft <= 0 {
		return false
	}
	m.st = Draining
	if !m.weakRecorded {
		m.weakDetectIx = index
		m.weakRecorded = true
	}
	return true
}

func (m *migration) weakDetectIndexValue() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.weakRecorded {
		return -1
	}
	return m.weakDetectIx
}

// finishSuccess transitions Draining -> Switched and decrements
// promptsLeft.
func (m *migration) finishSuccess(switchTS int64) {
	m.mu.Lock()
	m.st = Switched
	m.promptsLeft--
	m.mu.Unlock()
	m.switchTriggerTS.Store(switchTS)
}

// finishTimeout: on a link-change timeout the migration remains in
// Draining rather than advancing to Switched, so the batch never
// reports a successful migration (or reclaims promptsLeft) that didn't
// happen. No transition out of Draining ever reverses, so this is
// terminal for the batch — the pool stays throttled at CONC_WEAK rather
// than bouncing back to Normal and risking a second disruptive drain on
// a link that may only have been transiently slow to report its id
// change.
func (m *migration) finishTimeout() {
	m.mu.Lock()
	m.st = Draining
	m.mu.Unlock()
}

// migrate runs the staged migration protocol. It is called synchronously
// from within the task that first observed a weak verdict and owns
// migration via tryEnter.
func (o *Orchestrator) migrate(ctx context.Context, p *pool.Pool, lp *probe.Probe, m *migration, verdict netlink.Verdict, lg logger.Logger) {
	if verdict.Confidence >= defConfBoostGate {
		lp.BoostShort(o.BoostDuration.Milliseconds())
	}

	logger.LogMigrationTransition(lg, Normal.String(), Draining.String())
	logger.LogPoolLimitChange(lg, "draining", o.ConcBefore, o.ConcWeak)
	p.SetLimit(o.ConcWeak)

	for {
		snap := p.Snapshot()
		if snap.SmallQ == 0 && snap.Running <= o.ConcWeak {
			break
		}
		select {
		case <-ctx.Done():
			m.finishTimeout()
			return
		case <-time.After(o.DrainPoll):
		}
	}

	prevNetID, _ := o.LinkProvider.DefaultNetID(ctx)
	pauseStart := o.clock()
	lg.Info("migration: opening link settings (prevNetID=%d)", prevNetID)
	o.LinkProvider.OpenLinkSettings(ctx)

	deadline := o.clock().Add(o.LinkPollCap)
	switched := false
	for o.clock().Before(deadline) {
		select {
		case <-ctx.Done():
			m.pausedMs.Add(o.clock().Sub(pauseStart).Milliseconds())
			m.finishTimeout()
			return
		case <-time.After(o.LinkPoll):
		}
		id, err := o.LinkProvider.DefaultNetID(ctx)
		if err == nil && id != prevNetID {
			switched = true
			break
		}
	}

	pausedMs := o.clock().Sub(pauseStart).Milliseconds()
	m.pausedMs.Add(pausedMs)

	if !switched {
		lg.Warning("migration: link-change poll timed out after %s, remaining in draining", o.LinkPollCap)
		m.finishTimeout()
		return
	}

	logger.LogMigrationTransition(lg, Draining.String(), Switched.String())
	logger.LogPoolLimitChange(lg, "switched", o.ConcWeak, o.ConcAfter)
	m.finishSuccess(o.clock().UnixMilli())
	p.SetLimit(o.ConcAfter)
}
