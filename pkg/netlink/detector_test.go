package netlink

import "testing"

func TestDetectorWarmup(t *testing.T) {
	d := NewDefault()
	for i := 0; i < 9; i++ {
		v := d.Feed(100, 0, true)
		if v.IsWeak {
			t.Fatalf("sample %d: expected isWeak=false before warm-up, got true", i)
		}
	}
	v := d.Feed(1, 0, true)
	if v.IsWeak {
		t.Fatalf("10th sample (1 kB/s): expected isWeak=false, a single drop at the end of warm-up must not push CUSUM past its threshold")
	}
}

func TestDetectorWeakDetection(t *testing.T) {
	d := NewDefault()
	for i := 0; i < 15; i++ {
		d.Feed(100, 0, true)
	}
	var sawWeak bool
	for i := 0; i < 10; i++ {
		v := d.Feed(5, 0, true)
		if v.IsWeak && v.Confidence > 0.4 {
			sawWeak = true
		}
	}
	if !sawWeak {
		t.Fatalf("expected at least one weak verdict with confidence > 0.4 among the last 10 degraded samples")
	}
}

func TestDetectorConfidenceAlwaysInRange(t *testing.T) {
	d := NewDefault()
	speeds := []float64{100, 95, 105, 90, 2, 1, 3, 0, 120, 110, -5}
	oks := []bool{true, true, true, true, false, false, true, false, true, true, true}
	for i, s := range speeds {
		v := d.Feed(s, 0, oks[i])
		if v.Confidence < 0 || v.Confidence > 1 {
			t.Fatalf("sample %d: confidence %f out of [0,1]", i, v.Confidence)
		}
	}
}

func TestDetectorWarmupGateBlocksEarlyVerdicts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupMin = 10
	d := New(cfg)
	// Fewer than warmupMin samples total, even with a drastic speed drop,
	// must never produce isWeak=true.
	for i := 0; i < 5; i++ {
		d.Feed(200, 0, true)
	}
	v := d.Feed(0, 0, false)
	if v.IsWeak {
		t.Fatalf("expected isWeak=false with only 6 samples fed (warmupMin=10)")
	}
}

func TestDetectorReset(t *testing.T) {
	d := NewDefault()
	for i := 0; i < 15; i++ {
		d.Feed(100, 0, true)
	}
	d.Reset()
	v := d.Feed(1, 0, false)
	if v.IsWeak {
		t.Fatalf("expected isWeak=false immediately after Reset with a single sample")
	}
}

func TestDetectorNaNSpeedTreatedAsZero(t *testing.T) {
	d := NewDefault()
	// NaN must be sanitized to 0 (v ← max(0, speed_kBps)) rather than
	// propagating through the EWMA/CUSUM math.
	var nan float64
	nan = nan / nan // not a literal NaN constant: force a runtime NaN
	v := d.Feed(nan, 0, true)
	if v.Confidence < 0 || v.Confidence > 1 {
		t.Fatalf("NaN sample produced out-of-range confidence %f", v.Confidence)
	}
}
