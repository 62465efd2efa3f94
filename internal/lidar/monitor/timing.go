package monitor

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/sweepsync/internal/lidar/pipeline"
)

// DefaultTimingWindow is the number of integration episodes kept.
const DefaultTimingWindow = 512

// TimingStats keeps a sliding window of integration times and counts sweep
// outcomes. It implements pipeline.Observer.
type TimingStats struct {
	mu      sync.Mutex
	samples []float64 // seconds, ring buffer
	next    int
	full    bool

	dispatched uint64
	dropped    map[string]uint64
}

// TimingSummary describes the integration times currently in the window.
type TimingSummary struct {
	Count      int               `json:"count"`
	MeanSec    float64           `json:"mean_sec"`
	StdDevSec  float64           `json:"stddev_sec"`
	P95Sec     float64           `json:"p95_sec"`
	MaxSec     float64           `json:"max_sec"`
	LastSec    float64           `json:"last_sec"`
	Dispatched uint64            `json:"dispatched"`
	Dropped    map[string]uint64 `json:"dropped"`
}

// NewTimingStats keeps the last window samples. Non-positive window selects
// DefaultTimingWindow.
func NewTimingStats(window int) *TimingStats {
	if window <= 0 {
		window = DefaultTimingWindow
	}
	return &TimingStats{
		samples: make([]float64, 0, window),
		dropped: make(map[string]uint64),
	}
}

// SweepDispatched records one integration episode.
func (ts *TimingStats) SweepDispatched(_ pipeline.SweepInfo, integration time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.dispatched++
	v := integration.Seconds()
	if !ts.full {
		ts.samples = append(ts.samples, v)
		ts.full = len(ts.samples) == cap(ts.samples)
		return
	}
	ts.samples[ts.next] = v
	ts.next = (ts.next + 1) % len(ts.samples)
}

// SweepDropped counts a drop under its reason.
func (ts *TimingStats) SweepDropped(_ pipeline.SweepInfo, reason pipeline.DropReason) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.dropped[reason.String()]++
}

// Samples returns the window oldest first, in seconds.
func (ts *TimingStats) Samples() []float64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.orderedLocked()
}

func (ts *TimingStats) orderedLocked() []float64 {
	out := make([]float64, 0, len(ts.samples))
	if !ts.full {
		return append(out, ts.samples...)
	}
	out = append(out, ts.samples[ts.next:]...)
	return append(out, ts.samples[:ts.next]...)
}

// Summary computes statistics over the window.
func (ts *TimingStats) Summary() TimingSummary {
	ts.mu.Lock()
	ordered := ts.orderedLocked()
	s := TimingSummary{
		Count:      len(ordered),
		Dispatched: ts.dispatched,
		Dropped:    make(map[string]uint64, len(ts.dropped)),
	}
	for k, v := range ts.dropped {
		s.Dropped[k] = v
	}
	ts.mu.Unlock()

	if len(ordered) == 0 {
		return s
	}
	s.LastSec = ordered[len(ordered)-1]
	s.MeanSec, s.StdDevSec = stat.MeanStdDev(ordered, nil)
	if len(ordered) < 2 {
		s.StdDevSec = 0
	}

	sorted := append([]float64(nil), ordered...)
	sort.Float64s(sorted)
	s.P95Sec = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	s.MaxSec = sorted[len(sorted)-1]
	return s
}
