// Package batch implements the batch orchestrator (C5): it sequences
// detection -> pool reconfiguration -> link migration -> resume across a
// set of URLs, composing netlink.Detector, pool.Pool, probe.Probe and
// transfer.Transfer.
package batch

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// PerFile is C5's aggregated per-URL observation. T is -1 and Bytes is
// 0 for a failed transfer.
type PerFile struct {
	URL       string  `json:"url"`
	T         float64 `json:"t"`
	Bytes     int64   `json:"bytes"`
	Path      string  `json:"path"`
	UsedRange bool    `json:"used_range"`
	Retried   bool    `json:"retried"`
}

// SchedulerSnapshot records the pool parallelism limit in effect during
// each phase of the batch.
type SchedulerSnapshot struct {
	Before int `json:"before"`
	Weak   int `json:"weak"`
	After  int `json:"after"`
}

// ProbeSnapshot mirrors probe.Snapshot for JSON output.
type ProbeSnapshot struct {
	Count  int   `json:"count"`
	CostMs int64 `json:"costMs"`
}

// Result is the orchestrator's output. Field names are part of the
// contract consumed by external CSV/JSON tooling and must not change.
type Result struct {
	TS              int64             `json:"ts"`
	BaseURL         string            `json:"baseUrl"`
	Count           int               `json:"count"`
	Mode            string            `json:"mode"`
	WallTime        float64           `json:"wallTime"`
	PausedMs        int64             `json:"pausedMs"`
	TotalTime       float64           `json:"totalTime"`
	TotalBytes      int64             `json:"totalBytes"`
	PerFile         []PerFile         `json:"perFile"`
	WeakDetectIndex int               `json:"weak_detect_index"`
	SwitchTriggerTS int64             `json:"switch_trigger_ts"`
	Scheduler       SchedulerSnapshot `json:"scheduler"`
	Probes          ProbeSnapshot     `json:"probes"`

	// RunID correlates this result with its log file
	// (<downloadDir>/.netshift/<RunID>/run.log); it is not part of the
	// external JSON contract and is therefore not marshaled.
	RunID string `json:"-"`
}

// Summary renders a one-line human-readable recap of the batch
// (humanize.Bytes for size, a derived average throughput).
func (r Result) Summary() string {
	var throughput string
	if r.TotalTime > 0 {
		throughput = humanize.Bytes(uint64(float64(r.TotalBytes)/r.TotalTime)) + "/s"
	} else {
		throughput = "n/a"
	}
	return fmt.Sprintf("%s in %.1fs (wall %.1fs, paused %dms) across %d files, avg %s",
		humanize.Bytes(uint64(r.TotalBytes)), r.TotalTime, r.WallTime, r.PausedMs, r.Count, throughput)
}
