package tf

import (
	"fmt"
	"sort"
)

// TimeWindow is a closed capture interval in nanoseconds.
type TimeWindow struct {
	Start int64
	End   int64
}

func (w TimeWindow) Duration() int64 { return w.End - w.Start }

// InterpolationResult is the outcome of LookupInterpolated. Only
// EndTimeNotAvailable can change by waiting.
type InterpolationResult int

const (
	InterpolationSuccess InterpolationResult = iota
	EndTimeNotAvailable
	StartTimeNotAvailable
	IntermediateTimeNotAvailable
)

func (r InterpolationResult) String() string {
	switch r {
	case InterpolationSuccess:
		return "success"
	case EndTimeNotAvailable:
		return "end time not available"
	case StartTimeNotAvailable:
		return "start time not available"
	case IntermediateTimeNotAvailable:
		return "intermediate time not available"
	default:
		return fmt.Sprintf("InterpolationResult(%d)", int(r))
	}
}

// LookupInterpolated resolves target_T_source at window.Start+offset for
// every offset. The window is sampled at NumInterpolationIntervals+1 evenly
// spaced knots and each offset is interpolated between its bracketing knots.
//
// The end of the window is checked first so that a lagging estimator reports
// EndTimeNotAvailable even if the start has also not arrived.
func (b *Buffer) LookupInterpolated(target, source string, window TimeWindow, offsets []int64) ([]Transform, InterpolationResult) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	end, status := b.lookupLocked(target, source, window.End)
	switch status {
	case Available:
	case NoLongerAvailable:
		return nil, StartTimeNotAvailable
	default:
		return nil, EndTimeNotAvailable
	}
	start, status := b.lookupLocked(target, source, window.Start)
	if status != Available {
		return nil, StartTimeNotAvailable
	}

	n := b.intervals
	span := window.Duration()
	if span <= 0 {
		n = 0
	}
	stamps := make([]int64, n+1)
	knots := make([]Transform, n+1)
	stamps[0], knots[0] = window.Start, start
	for i := 1; i < n; i++ {
		stamps[i] = window.Start + span*int64(i)/int64(n)
		t, s := b.lookupLocked(target, source, stamps[i])
		if s != Available {
			opsf("intermediate lookup %s -> %s at %d failed (%v) inside [%d, %d]",
				source, target, stamps[i], s, window.Start, window.End)
			return nil, IntermediateTimeNotAvailable
		}
		knots[i] = t
	}
	if n > 0 {
		stamps[n], knots[n] = window.End, end
	}

	out := make([]Transform, len(offsets))
	for i, off := range offsets {
		t := window.Start + off
		j := sort.Search(len(stamps), func(k int) bool { return stamps[k] >= t })
		switch {
		case j == 0:
			out[i] = knots[0]
		case j == len(stamps):
			out[i] = knots[len(knots)-1]
		case stamps[j] == t:
			out[i] = knots[j]
		default:
			alpha := float64(t-stamps[j-1]) / float64(stamps[j]-stamps[j-1])
			out[i] = Interpolate(knots[j-1], knots[j], alpha)
		}
	}
	return out, InterpolationSuccess
}
