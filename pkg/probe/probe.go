// Package probe implements the light-weight RTT probe (C4): a
// minimum-cost 1-byte Range GET issued periodically to augment the
// weak-link detector's input without polluting its throughput
// statistics with whole-file transfer timings.
package probe

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/netshift/pkg/transport"
)

const minEveryN = 2

// Snapshot reports the probe's cumulative overhead, so a batch result can
// show how much the probing itself cost.
type Snapshot struct {
	Count  int
	CostMs int64
}

// Probe is a LightProbe (C4). It never returns an error to the caller:
// a failed probe must never impair the batch, so every failure is
// swallowed after best-effort scratch-file cleanup.
type Probe struct {
	fs        afero.Fs
	transport transport.Transport
	everyN    int
	scratch   string

	mu        sync.Mutex
	fastUntil time.Time
	count     int
	costMs    int64

	now func() time.Time
}

// New creates a Probe that issues probes on the given transport and
// cleans up its scratch file via fs. scratchPath is the file probes are
// (re)written to; it is removed before and after each probe attempt.
func New(fs afero.Fs, tr transport.Transport, everyN int, scratchPath string) *Probe {
	if everyN < minEveryN {
		everyN = 10
	}
	return &Probe{
		fs:        fs,
		transport: tr,
		everyN:    everyN,
		scratch:   scratchPath,
		now:       time.Now,
	}
}

// effectiveInterval halves everyN (floored at minEveryN) while a
// boostShort window is active.
func (p *Probe) effectiveInterval() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.now().Before(p.fastUntil) {
		n := p.everyN / 2
		if n < minEveryN {
			n = minEveryN
		}
		return n
	}
	return p.everyN
}

// MaybeProbe issues a 1-byte Range GET to sampleURL if index is a
// multiple of the (possibly boosted) interval. It returns whether a
// probe was actually issued. All transport/filesystem errors are
// swallowed; probe counters still advance so the overhead is visible in
// Snapshot even when the underlying request failed.
func (p *Probe) MaybeProbe(ctx context.Context, index int, sampleURL string) bool {
	n := p.effectiveInterval()
	if index%n != 0 {
		return false
	}

	_ = p.fs.Remove(p.scratch)

	start := p.now()
	end := int64(0)
	_, _ = p.transport.GetRangeAppend(ctx, sampleURL, p.scratch, 0, &end, transport.Timeouts{
		Connect: 5 * time.Second,
		Read:    5 * time.Second,
	})
	elapsed := p.now().Sub(start)

	_ = p.fs.Remove(p.scratch)

	p.mu.Lock()
	p.count++
	p.costMs += elapsed.Milliseconds()
	p.mu.Unlock()

	return true
}

// BoostShort extends the fast-interval window so that the next
// durationMs of probing uses half the normal interval. Used by the
// migration protocol right before a drain, so the detector gets denser
// samples while the batch decides whether to switch links.
func (p *Probe) BoostShort(durationMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	candidate := p.now().Add(time.Duration(durationMs) * time.Millisecond)
	if candidate.After(p.fastUntil) {
		p.fastUntil = candidate
	}
}

// Snapshot returns the probe's cumulative counters.
func (p *Probe) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{Count: p.count, CostMs: p.costMs}
}
