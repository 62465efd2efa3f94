package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/timeutil"
)

// Config holds the dependencies and policy of a Pipeline.
type Config struct {
	// WorldFrame is the frame resolved points are expressed in.
	WorldFrame string
	// UndistortMotion selects per-point interpolated poses over a single
	// lookup at the sweep start.
	UndistortMotion bool
	// MaxWaitForPose bounds how far the newest queued sweep may run ahead of
	// a sweep still waiting for its pose before that sweep is dropped.
	MaxWaitForPose time.Duration

	Normalizer     l2frames.Normalizer
	Provider       PoseProvider
	Integrators    []Integrator   // called in order
	DebugPublisher DebugPublisher // optional
	Observers      []Observer     // optional
	Clock          timeutil.Clock // defaults to the real clock
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Received   uint64 `json:"received"`
	Rejected   uint64 `json:"rejected"`
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	Queued     int    `json:"queued"`
}

// Pipeline owns the ingestion queue and runs the drain policy.
type Pipeline struct {
	cfg        Config
	resolver   Resolver
	queue      Queue
	dispatcher *Dispatcher
	timer      *IntegrationTimer
	observers  []Observer

	drainMu sync.Mutex

	received   atomic.Uint64
	rejected   atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.WorldFrame == "" {
		return nil, errors.New("pipeline: world frame is required")
	}
	if isNilInterface(cfg.Provider) {
		return nil, errors.New("pipeline: pose provider is required")
	}
	if cfg.MaxWaitForPose < 0 {
		return nil, fmt.Errorf("pipeline: max wait for pose must be >= 0, got %v", cfg.MaxWaitForPose)
	}

	p := &Pipeline{
		cfg: cfg,
		resolver: Resolver{
			WorldFrame:      cfg.WorldFrame,
			UndistortMotion: cfg.UndistortMotion,
			Provider:        cfg.Provider,
		},
		timer: NewIntegrationTimer(cfg.Clock),
	}
	p.dispatcher = NewDispatcher(cfg.Integrators, cfg.DebugPublisher, p.timer)
	for _, o := range cfg.Observers {
		if !isNilInterface(o) {
			p.observers = append(p.observers, o)
		}
	}
	return p, nil
}

// Push enqueues an already normalised sweep.
func (p *Pipeline) Push(s *l2frames.Sweep) {
	p.received.Add(1)
	n := p.queue.Push(s)
	tracef("queued sweep %s (%s, %d points, start %d), queue length %d",
		s.ID(), s.SensorFrame(), s.Len(), s.StartTime(), n)
}

func (p *Pipeline) reject(kind string, stamp int64, err error) error {
	p.rejected.Add(1)
	opsf("skipping %s at stamp %d: %v", kind, stamp, err)
	return err
}

// HandlePointCloud2 normalises msg and enqueues it. Rejected messages are
// logged and never queued.
func (p *Pipeline) HandlePointCloud2(msg *l2frames.PointCloud2) error {
	s, err := p.cfg.Normalizer.FromPointCloud2(msg)
	if err != nil {
		var stamp int64
		if msg != nil {
			stamp = msg.Header.Stamp
		}
		return p.reject("pointcloud", stamp, err)
	}
	p.Push(s)
	return nil
}

// HandleLivox normalises msg and enqueues it. Rejected messages are logged
// and never queued.
func (p *Pipeline) HandleLivox(msg *l2frames.LivoxCustomMsg) error {
	s, err := p.cfg.Normalizer.FromLivox(msg)
	if err != nil {
		var stamp int64
		if msg != nil {
			stamp = int64(msg.TimeBase)
		}
		return p.reject("livox message", stamp, err)
	}
	p.Push(s)
	return nil
}

// Drain processes queued sweeps from the front until the queue is empty or
// the front sweep's pose may still arrive. It never blocks on the pose
// history and never fails; outcomes are reported through logs and observers.
func (p *Pipeline) Drain() {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	for {
		front, back, n := p.queue.peek()
		if n == 0 {
			return
		}

		resolved, status := p.resolver.Resolve(front)
		switch {
		case status == ResolveSuccess:
			diagf("inserting sweep with %d points, remaining in queue %d", front.Len(), n-1)
			elapsed := p.dispatcher.Dispatch(resolved)
			p.queue.Pop()
			p.dispatched.Add(1)
			info := infoOf(front)
			for _, o := range p.observers {
				o.SweepDispatched(info, elapsed)
			}

		case status.Recoverable():
			boundary := p.resolver.BoundaryTime(front)
			waited := time.Duration(back.StartTime() - boundary)
			if waited < p.cfg.MaxWaitForPose {
				tracef("pose for sweep %s %s, waited %.3fs of %.3fs",
					front.ID(), status, waited.Seconds(), p.cfg.MaxWaitForPose.Seconds())
				return
			}
			if status == EndTimeNotAvailable {
				opsf("waited %.3fs but still could not look up end pose for sweep with frame %q in world frame %q spanning [%d, %d]; skipping sweep",
					waited.Seconds(), front.SensorFrame(), p.cfg.WorldFrame, front.StartTime(), front.EndTime())
				p.drop(front, EndTimeTimeout)
			} else {
				opsf("waited %.3fs but still could not look up pose for sweep with frame %q in world frame %q at %d; skipping sweep",
					waited.Seconds(), front.SensorFrame(), p.cfg.WorldFrame, front.StartTime())
				p.drop(front, PoseTimeout)
			}

		case status == StartTimeNotAvailable:
			opsf("pose for start time %d of sweep with frame %q is no longer available; skipping sweep",
				front.StartTime(), front.SensorFrame())
			p.drop(front, StartTimeUnavailable)

		default:
			opsf("could not resolve poses inside [%d, %d] for sweep with frame %q although both ends are available, this should never happen; skipping sweep",
				front.StartTime(), front.EndTime(), front.SensorFrame())
			p.drop(front, IntermediateTimeUnavailable)
		}
	}
}

func (p *Pipeline) drop(s *l2frames.Sweep, reason DropReason) {
	p.queue.Pop()
	p.dropped.Add(1)
	info := infoOf(s)
	for _, o := range p.observers {
		o.SweepDropped(info, reason)
	}
}

// QueueLen returns the number of sweeps waiting for a pose.
func (p *Pipeline) QueueLen() int { return p.queue.Len() }

// IntegrationTimer exposes consumer timing.
func (p *Pipeline) IntegrationTimer() *IntegrationTimer { return p.timer }

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:   p.received.Load(),
		Rejected:   p.rejected.Load(),
		Dispatched: p.dispatched.Load(),
		Dropped:    p.dropped.Load(),
		Queued:     p.queue.Len(),
	}
}
