package pipeline

import (
	"errors"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/lidar/projection"
	"github.com/banshee-data/sweepsync/internal/lidar/tf"
)

const ms = int64(time.Millisecond)

// scriptedProvider answers single lookups for stamps marked available and
// interpolated lookups according to a per-window-start script.
type scriptedProvider struct {
	mu      sync.Mutex
	known   map[int64]bool
	results map[int64]tf.InterpolationResult
	lookups []int64
	windows []tf.TimeWindow
	offsets [][]int64
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{known: map[int64]bool{}, results: map[int64]tf.InterpolationResult{}}
}

func (p *scriptedProvider) setKnown(stamp int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.known[stamp] = true
}

func (p *scriptedProvider) setResult(start int64, r tf.InterpolationResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[start] = r
}

func (p *scriptedProvider) LookupTransform(target, source string, stamp int64) (tf.Transform, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups = append(p.lookups, stamp)
	return tf.Identity(), p.known[stamp]
}

func (p *scriptedProvider) LookupInterpolated(target, source string, w tf.TimeWindow, offsets []int64) ([]tf.Transform, tf.InterpolationResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windows = append(p.windows, w)
	p.offsets = append(p.offsets, offsets)
	if r, ok := p.results[w.Start]; ok && r != tf.InterpolationSuccess {
		return nil, r
	}
	out := make([]tf.Transform, len(offsets))
	for i := range out {
		out[i] = tf.Identity()
	}
	return out, tf.InterpolationSuccess
}

// recorder is an Integrator that remembers what it saw.
type recorder struct {
	mu     sync.Mutex
	starts []int64
	points [][]r3.Vec
	onCall func()
}

func (r *recorder) Integrate(s *l2frames.ResolvedSweep) {
	r.mu.Lock()
	r.starts = append(r.starts, s.Sweep.StartTime())
	r.points = append(r.points, append([]r3.Vec(nil), s.Points...))
	r.mu.Unlock()
	if r.onCall != nil {
		r.onCall()
	}
}

func (r *recorder) Starts() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.starts...)
}

type droppedEvent struct {
	start  int64
	reason DropReason
}

type observerLog struct {
	mu         sync.Mutex
	dispatched []SweepInfo
	durations  []time.Duration
	dropped    []droppedEvent
}

func (o *observerLog) SweepDispatched(info SweepInfo, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched = append(o.dispatched, info)
	o.durations = append(o.durations, d)
}

func (o *observerLog) SweepDropped(info SweepInfo, reason DropReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, droppedEvent{start: info.StartTime, reason: reason})
}

type fakeDebug struct {
	wantReprojected, wantRangeImage bool
	err                             error

	reprojected []string
	imageStamps []int64
}

func (f *fakeDebug) WantsReprojected() bool { return f.wantReprojected }
func (f *fakeDebug) WantsRangeImage() bool  { return f.wantRangeImage }

func (f *fakeDebug) PublishReprojected(s *l2frames.ResolvedSweep) error {
	f.reprojected = append(f.reprojected, s.Sweep.ID())
	return f.err
}

func (f *fakeDebug) PublishRangeImage(stamp int64, _ *projection.RangeImage) error {
	f.imageStamps = append(f.imageStamps, stamp)
	return f.err
}

var errPublish = errors.New("publish failed")

// sweepAt builds a sweep of points at (1,0,0) with the given offsets, or a
// single untimed point when none are given.
func sweepAt(start int64, offsets ...int64) *l2frames.Sweep {
	if len(offsets) == 0 {
		offsets = []int64{0}
	}
	pts := make([]l2frames.Point, len(offsets))
	for i, off := range offsets {
		pts[i] = l2frames.Point{Position: r3.Vec{X: 1}, Offset: off}
	}
	return l2frames.NewSweep(start, "S", pts)
}
