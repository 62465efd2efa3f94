package pipeline

import (
	"sync"
	"time"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/timeutil"
)

// IntegrationTimer accumulates the wall time spent inside consumers.
type IntegrationTimer struct {
	clock timeutil.Clock

	mu       sync.Mutex
	started  time.Time
	last     time.Duration
	total    time.Duration
	episodes int
}

// NewIntegrationTimer returns a timer on clock, or on the real clock if nil.
func NewIntegrationTimer(clock timeutil.Clock) *IntegrationTimer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &IntegrationTimer{clock: clock}
}

func (t *IntegrationTimer) start() {
	t.mu.Lock()
	t.started = t.clock.Now()
	t.mu.Unlock()
}

func (t *IntegrationTimer) stop() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = t.clock.Since(t.started)
	t.total += t.last
	t.episodes++
	return t.last
}

// LastEpisode is the duration of the most recent dispatch.
func (t *IntegrationTimer) LastEpisode() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Total is the cumulative duration of all dispatches.
func (t *IntegrationTimer) Total() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Episodes is the number of timed dispatches.
func (t *IntegrationTimer) Episodes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.episodes
}

// Dispatcher hands resolved sweeps to integrators in registration order and
// then publishes optional debug artifacts.
type Dispatcher struct {
	integrators []Integrator
	debug       DebugPublisher
	timer       *IntegrationTimer
}

// NewDispatcher returns a Dispatcher. Nil integrators are skipped; a nil
// publisher disables debug artifacts.
func NewDispatcher(integrators []Integrator, debug DebugPublisher, timer *IntegrationTimer) *Dispatcher {
	d := &Dispatcher{timer: timer}
	if d.timer == nil {
		d.timer = NewIntegrationTimer(nil)
	}
	for _, in := range integrators {
		if !isNilInterface(in) {
			d.integrators = append(d.integrators, in)
		}
	}
	if !isNilInterface(debug) {
		d.debug = debug
	}
	return d
}

// Dispatch runs every integrator on sweep and returns the time spent in them.
func (d *Dispatcher) Dispatch(sweep *l2frames.ResolvedSweep) time.Duration {
	d.timer.start()
	for _, in := range d.integrators {
		in.Integrate(sweep)
	}
	elapsed := d.timer.stop()
	diagf("integrated sweep in %.3fs, total integration time %.3fs",
		elapsed.Seconds(), d.timer.Total().Seconds())

	d.publishDebug(sweep)
	return elapsed
}

// publishDebug logs and swallows publisher errors; artifacts are never retried.
func (d *Dispatcher) publishDebug(sweep *l2frames.ResolvedSweep) {
	if d.debug == nil {
		return
	}
	if d.debug.WantsReprojected() {
		if err := d.debug.PublishReprojected(sweep); err != nil {
			opsf("failed to publish reprojected sweep %s: %v", sweep.Sweep.ID(), err)
		}
	}
	if d.debug.WantsRangeImage() && len(d.integrators) > 0 {
		src, ok := d.integrators[0].(RangeImageSource)
		if !ok {
			return
		}
		image := src.PosedRangeImage()
		if image == nil {
			return
		}
		if err := d.debug.PublishRangeImage(sweep.Sweep.MedianTime(), image); err != nil {
			opsf("failed to publish range image for sweep %s: %v", sweep.Sweep.ID(), err)
		}
	}
}
