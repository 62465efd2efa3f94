// Package projection bins sensor-frame points into a spherical range image.
//
// Frame convention: x forward, y left, z up. Azimuth is measured from +x
// towards +y; column 0 starts at azimuth -π. Row 0 is the highest
// elevation.
package projection

import (
	"errors"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/lidar/tf"
)

var ErrInvalidProjector = errors.New("projection: invalid projector bounds")

// SphericalProjector maps directions to pixel indices.
type SphericalProjector struct {
	Width, Height int
	// Elevation bounds in radians.
	MinElevation, MaxElevation float64
}

// Validate reports whether the projector describes a non-empty image.
func (p SphericalProjector) Validate() error {
	if p.Width <= 0 || p.Height <= 0 || !(p.MaxElevation > p.MinElevation) {
		return ErrInvalidProjector
	}
	return nil
}

// Pixel returns the row and column that direction v falls in, or false when
// v is outside the elevation bounds or has zero length.
func (p SphericalProjector) Pixel(v r3.Vec) (row, col int, ok bool) {
	horiz := math.Hypot(v.X, v.Y)
	if horiz == 0 && v.Z == 0 {
		return 0, 0, false
	}
	el := math.Atan2(v.Z, horiz)
	if el < p.MinElevation || el > p.MaxElevation {
		return 0, 0, false
	}
	az := math.Atan2(v.Y, v.X)

	row = int((p.MaxElevation - el) / (p.MaxElevation - p.MinElevation) * float64(p.Height))
	col = int((az + math.Pi) / (2 * math.Pi) * float64(p.Width))
	row = min(max(row, 0), p.Height-1)
	col = min(max(col, 0), p.Width-1)
	return row, col, true
}

// RangeImage holds the closest return per pixel in row-major order. A zero
// range means no return.
type RangeImage struct {
	Width, Height int
	Ranges        []float32
	// Frame is the world frame Pose is expressed in.
	Frame string
	// Pose is world_T_sensor at Stamp, the origin the ranges are measured from.
	Pose  tf.Transform
	Stamp int64
}

// NewRangeImage allocates an empty image.
func NewRangeImage(width, height int) *RangeImage {
	return &RangeImage{Width: width, Height: height, Ranges: make([]float32, width*height)}
}

// At returns the range at row, col.
func (im *RangeImage) At(row, col int) float32 {
	return im.Ranges[row*im.Width+col]
}

// Filled counts pixels with a return.
func (im *RangeImage) Filled() int {
	n := 0
	for _, r := range im.Ranges {
		if r > 0 {
			n++
		}
	}
	return n
}

// RangeImageIntegrator is a map consumer that keeps the range image of the
// most recent sweep, projected from the sweep's reference pose.
type RangeImageIntegrator struct {
	projector SphericalProjector
	minRange  float64
	maxRange  float64

	mu         sync.RWMutex
	last       *RangeImage
	integrated int
}

// NewRangeImageIntegrator returns an integrator for projector. Returns
// outside [minRange, maxRange] are ignored; maxRange <= 0 means unbounded.
func NewRangeImageIntegrator(projector SphericalProjector, minRange, maxRange float64) (*RangeImageIntegrator, error) {
	if err := projector.Validate(); err != nil {
		return nil, err
	}
	if maxRange <= 0 {
		maxRange = math.Inf(1)
	}
	return &RangeImageIntegrator{projector: projector, minRange: minRange, maxRange: maxRange}, nil
}

// Integrate projects the sweep's sensor-frame points.
func (ri *RangeImageIntegrator) Integrate(sweep *l2frames.ResolvedSweep) {
	im := NewRangeImage(ri.projector.Width, ri.projector.Height)
	im.Frame = sweep.WorldFrame
	im.Pose = sweep.Pose
	im.Stamp = sweep.ReferenceTime

	for _, p := range sweep.LocalPoints {
		d := r3.Norm(p)
		if d < ri.minRange || d > ri.maxRange {
			continue
		}
		row, col, ok := ri.projector.Pixel(p)
		if !ok {
			continue
		}
		i := row*im.Width + col
		if cur := im.Ranges[i]; cur == 0 || float32(d) < cur {
			im.Ranges[i] = float32(d)
		}
	}

	ri.mu.Lock()
	ri.last = im
	ri.integrated++
	ri.mu.Unlock()
}

// PosedRangeImage returns the image of the last integrated sweep, or nil.
func (ri *RangeImageIntegrator) PosedRangeImage() *RangeImage {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return ri.last
}

// Integrated returns the number of sweeps integrated so far.
func (ri *RangeImageIntegrator) Integrated() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return ri.integrated
}
