// Package netlink implements the weak-link detector (C2): a pure
// accumulator that classifies the current network link from a stream of
// per-transfer throughput/failure samples using an EWMA + CUSUM + fused
// score fusion, with warm-up and hysteresis. One Detector is owned
// exclusively by one batch; it is never shared across batches.
package netlink

import (
	"math"
	"sync"

	"github.com/VividCortex/ewma"
)

const epsilon = 1e-3

// Config holds the immutable tuning parameters for a Detector.
type Config struct {
	EWMAAlpha float64
	CUSUMK    float64
	CUSUMH    float64
	GateRatio float64
	FuseAlpha float64
	FuseGamma float64
	WinSize   int
	WarmupMin int
}

// DefaultConfig returns the detector's recommended tuning defaults.
func DefaultConfig() Config {
	return Config{
		EWMAAlpha: 0.2,
		CUSUMK:    0.3,
		CUSUMH:    1.2,
		GateRatio: 0.5,
		FuseAlpha: 0.7,
		FuseGamma: 0.3,
		WinSize:   20,
		WarmupMin: 10,
	}
}

// Sample is one data point fed to the detector.
type Sample struct {
	SpeedKBps float64
	OK        bool
	// TTFBMillis is reserved for future fusion and currently unused.
	TTFBMillis float64
}

// Verdict is the detector's output for one sample.
type Verdict struct {
	IsWeak     bool
	Confidence float64
}

// Detector is a WeakLinkDetector (C2). Feed and Reset are serialized by
// one internal mutex that guards all of the detector's accumulators, so
// a batch's task goroutines may feed it concurrently.
type Detector struct {
	cfg Config

	mu        sync.Mutex
	ewma      ewma.MovingAverage
	ewmaSet   bool
	history   []float64
	failWin   []int
	cusumPos  float64
	cusumNeg  float64
}

// New creates a Detector with the given configuration.
func New(cfg Config) *Detector {
	if cfg.WinSize <= 0 {
		cfg.WinSize = 20
	}
	return &Detector{
		cfg:     cfg,
		ewma:    newEWMA(cfg.EWMAAlpha),
		history: make([]float64, 0, cfg.WinSize*4),
		failWin: make([]int, 0, cfg.WinSize),
	}
}

// newEWMA builds a VividCortex/ewma moving average whose decay factor
// equals alpha. VividCortex's VariableEWMA derives decay from an "age"
// parameter as decay = 2/(age+1), so age = 2/alpha - 1 recovers the
// classic ewma ← α·v + (1−α)·ewma update the fusion step requires.
func newEWMA(alpha float64) ewma.MovingAverage {
	age := 2/alpha - 1
	return ewma.NewMovingAverage(age)
}

// NewDefault creates a Detector using DefaultConfig.
func NewDefault() *Detector {
	return New(DefaultConfig())
}

// Reset restores the detector to its initial state, so it can be reused
// across batch rounds.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ewma = newEWMA(d.cfg.EWMAAlpha)
	d.ewmaSet = false
	d.history = d.history[:0]
	d.failWin = d.failWin[:0]
	d.cusumPos = 0
	d.cusumNeg = 0
}

// safeDiv divides a by b, treating |b| < epsilon as signed epsilon to
// avoid blowing up on a near-zero denominator.
func safeDiv(a, b float64) float64 {
	if math.Abs(b) < epsilon {
		if b < 0 {
			return a / -epsilon
		}
		return a / epsilon
	}
	return a / b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Feed consumes one sample and returns the detector's verdict by
// running it through the eleven-step fusion algorithm below.
func (d *Detector) Feed(speedKBps float64, _ttfb float64, ok bool) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	v := speedKBps
	if math.IsNaN(v) || v < 0 {
		v = 0
	}

	// 1. EWMA update.
	if !d.ewmaSet {
		d.ewma.Set(v)
		d.ewmaSet = true
	} else {
		d.ewma.Add(v)
	}
	d.history = append(d.history, v)

	// 2. Failure window.
	flag := 0
	if !ok {
		flag = 1
	}
	d.failWin = append(d.failWin, flag)
	if len(d.failWin) > d.cfg.WinSize {
		d.failWin = d.failWin[len(d.failWin)-d.cfg.WinSize:]
	}
	failRate := meanInt(d.failWin)

	// 3. Baseline: mean of the lowest 25% of history (at least one sample).
	baseRaw := lowestQuartileMean(d.history)
	base := baseRaw
	if base <= 0 {
		if v > 0 {
			base = v
		} else {
			base = epsilon
		}
	}

	// 4. Relative change.
	x := safeDiv(v-base, math.Max(epsilon, base))

	// 5. CUSUM.
	d.cusumPos = math.Max(0, d.cusumPos+x-d.cfg.CUSUMK)
	d.cusumNeg = math.Min(0, d.cusumNeg+x+d.cfg.CUSUMK)
	change := d.cusumPos > d.cfg.CUSUMH || math.Abs(d.cusumNeg) > d.cfg.CUSUMH

	// 6. Fused score.
	zSpeed := x
	score := d.cfg.FuseAlpha*(-zSpeed) + d.cfg.FuseGamma*failRate
	weakByScore := score > 0.5

	// 7. Gate.
	gate := d.ewma.Value() < d.cfg.GateRatio*base

	// 8. Warm-up.
	enough := len(d.history) >= maxInt(3, d.cfg.WarmupMin)

	// 9. Verdict.
	isWeak := enough && change && weakByScore && gate

	// 10. Confidence.
	confDrop := 0.0
	if base > 0 {
		confDrop = clamp01((base - d.ewma.Value()) / base)
	}
	cusumMag := clamp01(math.Max(d.cusumPos, math.Abs(d.cusumNeg)) / (2 * d.cfg.CUSUMH))
	confidence := clamp01(0.45*confDrop + 0.35*failRate + 0.20*cusumMag)

	// 11. Hysteresis.
	if isWeak {
		d.cusumPos *= 0.25
		d.cusumNeg *= 0.25
	}

	return Verdict{IsWeak: isWeak, Confidence: confidence}
}

func meanInt(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum int
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func lowestQuartileMean(history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	sorted := make([]float64, len(history))
	copy(sorted, history)
	// Simple insertion sort is fine: history windows are small
	// (bounded in practice to a few hundred samples per batch).
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted) / 4
	if n < 1 {
		n = 1
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += sorted[i]
	}
	return sum / float64(n)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
