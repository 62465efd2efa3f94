package l2frames

import (
	"slices"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sweepsync/internal/lidar/tf"
)

// Point is one return in the sensor frame. Offset is the capture time in
// nanoseconds after the sweep start.
type Point struct {
	Position r3.Vec
	Offset   int64
}

// Sweep is an immutable, sensor-agnostic capture cycle.
type Sweep struct {
	id          string
	startTime   int64
	sensorFrame string
	points      []Point
	maxOffset   int64
	medianTime  int64
}

// NewSweep builds a Sweep from points in capture order. The slice is copied
// and the order kept even when offsets are not monotonic. Negative offsets
// are clamped to zero.
func NewSweep(startTime int64, sensorFrame string, points []Point) *Sweep {
	s := &Sweep{
		id:          uuid.New().String(),
		startTime:   startTime,
		sensorFrame: sensorFrame,
		points:      make([]Point, len(points)),
	}
	copy(s.points, points)
	for i := range s.points {
		if s.points[i].Offset < 0 {
			s.points[i].Offset = 0
		}
		if s.points[i].Offset > s.maxOffset {
			s.maxOffset = s.points[i].Offset
		}
	}
	s.medianTime = startTime
	if n := len(s.points); n > 0 {
		offsets := s.Offsets()
		slices.Sort(offsets)
		s.medianTime = startTime + offsets[n/2]
	}
	return s
}

// ID is a random identifier assigned at construction.
func (s *Sweep) ID() string { return s.id }

// StartTime is the capture start in nanoseconds.
func (s *Sweep) StartTime() int64 { return s.startTime }

// EndTime is StartTime plus the largest point offset.
func (s *Sweep) EndTime() int64 { return s.startTime + s.maxOffset }

// MedianTime is the middle capture time of the sweep's points.
func (s *Sweep) MedianTime() int64 { return s.medianTime }

func (s *Sweep) SensorFrame() string { return s.sensorFrame }
func (s *Sweep) Len() int            { return len(s.points) }
func (s *Sweep) Point(i int) Point   { return s.points[i] }

// Window is the capture interval [StartTime, EndTime].
func (s *Sweep) Window() tf.TimeWindow {
	return tf.TimeWindow{Start: s.startTime, End: s.EndTime()}
}

// Offsets returns a fresh slice of per-point offsets.
func (s *Sweep) Offsets() []int64 {
	out := make([]int64, len(s.points))
	for i, p := range s.points {
		out[i] = p.Offset
	}
	return out
}

// ResolvedSweep is a sweep whose points have been expressed in the world
// frame. It is only valid for the duration of a consumer call.
type ResolvedSweep struct {
	Sweep      *Sweep
	WorldFrame string

	// ReferenceTime is the stamp Pose refers to: the start time for a single
	// rigid pose, the median time for motion-compensated sweeps.
	ReferenceTime int64
	// Pose is world_T_sensor at ReferenceTime.
	Pose tf.Transform

	// Points are in the world frame, in capture order.
	Points []r3.Vec
	// LocalPoints are the same points in the sensor frame at ReferenceTime.
	LocalPoints []r3.Vec
}

// Resolve applies one rigid pose to every point.
func Resolve(s *Sweep, worldFrame string, pose tf.Transform) *ResolvedSweep {
	r := &ResolvedSweep{
		Sweep:         s,
		WorldFrame:    worldFrame,
		ReferenceTime: s.startTime,
		Pose:          pose,
		Points:        make([]r3.Vec, len(s.points)),
		LocalPoints:   make([]r3.Vec, len(s.points)),
	}
	for i, p := range s.points {
		r.LocalPoints[i] = p.Position
		r.Points[i] = pose.Apply(p.Position)
	}
	return r
}

// ResolvePerPoint applies poses[i] to point i; poses holds one entry per
// point. The reference pose is the one at the sweep's median time, so
// LocalPoints form a motion-compensated cloud seen from one sensor origin.
func ResolvePerPoint(s *Sweep, worldFrame string, poses []tf.Transform) *ResolvedSweep {
	r := &ResolvedSweep{
		Sweep:         s,
		WorldFrame:    worldFrame,
		ReferenceTime: s.medianTime,
		Points:        make([]r3.Vec, len(s.points)),
		LocalPoints:   make([]r3.Vec, len(s.points)),
	}
	if len(poses) == 0 {
		r.Pose = tf.Identity()
		return r
	}
	r.Pose = poses[len(poses)/2]
	inv := r.Pose.Inverse()
	for i, p := range s.points {
		r.Points[i] = poses[i].Apply(p.Position)
		r.LocalPoints[i] = inv.Apply(r.Points[i])
	}
	return r
}
