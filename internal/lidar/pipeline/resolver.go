package pipeline

import (
	"fmt"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/lidar/tf"
)

// ResolveStatus is the tagged outcome of resolving a sweep's pose.
type ResolveStatus int

const (
	ResolveSuccess ResolveStatus = iota
	// PoseNotAvailable is a missed single lookup. It is treated as
	// recoverable.
	PoseNotAvailable
	// EndTimeNotAvailable: the pose history has not reached the end of the
	// capture window yet.
	EndTimeNotAvailable
	// StartTimeNotAvailable: the start of the window has been evicted.
	StartTimeNotAvailable
	// IntermediateTimeNotAvailable: both ends resolved but a sample between
	// them did not, which the pose history should never allow.
	IntermediateTimeNotAvailable
)

// Recoverable reports whether retrying later may succeed.
func (s ResolveStatus) Recoverable() bool {
	return s == PoseNotAvailable || s == EndTimeNotAvailable
}

func (s ResolveStatus) String() string {
	switch s {
	case ResolveSuccess:
		return "success"
	case PoseNotAvailable:
		return "pose not available"
	case EndTimeNotAvailable:
		return "end time not available"
	case StartTimeNotAvailable:
		return "start time not available"
	case IntermediateTimeNotAvailable:
		return "intermediate time not available"
	default:
		return fmt.Sprintf("ResolveStatus(%d)", int(s))
	}
}

// Resolver attaches world poses to sweeps, either as one rigid pose at the
// start time or, with UndistortMotion, one interpolated pose per point.
type Resolver struct {
	WorldFrame      string
	UndistortMotion bool
	Provider        PoseProvider
}

// Resolve returns the resolved sweep, or nil and the failure kind.
func (r Resolver) Resolve(s *l2frames.Sweep) (*l2frames.ResolvedSweep, ResolveStatus) {
	if !r.UndistortMotion {
		pose, ok := r.Provider.LookupTransform(r.WorldFrame, s.SensorFrame(), s.StartTime())
		if !ok {
			return nil, PoseNotAvailable
		}
		return l2frames.Resolve(s, r.WorldFrame, pose), ResolveSuccess
	}

	poses, res := r.Provider.LookupInterpolated(r.WorldFrame, s.SensorFrame(), s.Window(), s.Offsets())
	switch res {
	case tf.InterpolationSuccess:
	case tf.EndTimeNotAvailable:
		return nil, EndTimeNotAvailable
	case tf.StartTimeNotAvailable:
		return nil, StartTimeNotAvailable
	default:
		return nil, IntermediateTimeNotAvailable
	}
	if len(poses) != s.Len() {
		opsf("pose provider returned %d poses for %d points of sweep %s", len(poses), s.Len(), s.ID())
		return nil, IntermediateTimeNotAvailable
	}
	return l2frames.ResolvePerPoint(s, r.WorldFrame, poses), ResolveSuccess
}

// BoundaryTime is the stamp whose pose a recoverable failure is waiting for:
// the end of the window when undistorting, the start otherwise.
func (r Resolver) BoundaryTime(s *l2frames.Sweep) int64 {
	if r.UndistortMotion {
		return s.EndTime()
	}
	return s.StartTime()
}
