package pipeline

import (
	"reflect"
	"time"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/lidar/projection"
	"github.com/banshee-data/sweepsync/internal/lidar/tf"
)

// PoseProvider is the read side of the pose history. Both calls return
// target_T_source, i.e. they map source-frame points into target.
type PoseProvider interface {
	LookupTransform(target, source string, stamp int64) (tf.Transform, bool)
	LookupInterpolated(target, source string, window tf.TimeWindow, offsets []int64) ([]tf.Transform, tf.InterpolationResult)
}

// Integrator is a map consumer. Integrate is called synchronously, once per
// resolved sweep, in registration order. Implementations must not retain the
// sweep after returning.
type Integrator interface {
	Integrate(sweep *l2frames.ResolvedSweep)
}

// RangeImageSource is implemented by projective integrators that can expose
// the range image of the sweep they integrated last.
type RangeImageSource interface {
	PosedRangeImage() *projection.RangeImage
}

// DebugPublisher receives optional debug artifacts. The Wants methods let the
// dispatcher skip building artifacts nobody will read.
type DebugPublisher interface {
	WantsReprojected() bool
	WantsRangeImage() bool
	PublishReprojected(sweep *l2frames.ResolvedSweep) error
	PublishRangeImage(stamp int64, image *projection.RangeImage) error
}

// SweepInfo identifies a sweep in observer callbacks.
type SweepInfo struct {
	ID          string
	SensorFrame string
	StartTime   int64
	EndTime     int64
	Points      int
}

func infoOf(s *l2frames.Sweep) SweepInfo {
	return SweepInfo{
		ID:          s.ID(),
		SensorFrame: s.SensorFrame(),
		StartTime:   s.StartTime(),
		EndTime:     s.EndTime(),
		Points:      s.Len(),
	}
}

// DropReason explains why a queued sweep was discarded.
type DropReason int

const (
	// EndTimeTimeout: the end pose did not arrive within MaxWaitForPose.
	EndTimeTimeout DropReason = iota + 1
	// PoseTimeout: the start pose did not arrive within MaxWaitForPose.
	PoseTimeout
	StartTimeUnavailable
	IntermediateTimeUnavailable
)

func (r DropReason) String() string {
	switch r {
	case EndTimeTimeout:
		return "end_time_timeout"
	case PoseTimeout:
		return "pose_timeout"
	case StartTimeUnavailable:
		return "start_time_unavailable"
	case IntermediateTimeUnavailable:
		return "intermediate_time_unavailable"
	default:
		return "unknown"
	}
}

// Observer is told about every sweep leaving the queue. Calls happen on the
// draining goroutine after the corresponding log line.
type Observer interface {
	SweepDispatched(info SweepInfo, integration time.Duration)
	SweepDropped(info SweepInfo, reason DropReason)
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
