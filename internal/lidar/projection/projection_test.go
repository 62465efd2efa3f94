package projection

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/lidar/tf"
)

var testProjector = SphericalProjector{Width: 8, Height: 4, MinElevation: -math.Pi / 4, MaxElevation: math.Pi / 4}

func TestSphericalProjectorPixel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		v        r3.Vec
		row, col int
		ok       bool
	}{
		{"forward", r3.Vec{X: 1}, 2, 4, true},
		{"behind wraps to first column", r3.Vec{X: -1, Y: -1e-9}, 2, 0, true},
		{"right", r3.Vec{Y: -1}, 2, 2, true},
		{"left of forward", r3.Vec{X: -0.2, Y: 1}, 2, 6, true},
		{"just below top", r3.Vec{X: 1, Z: 0.99}, 0, 4, true},
		{"above bounds", r3.Vec{Z: 5}, 0, 0, false},
		{"zero vector", r3.Vec{}, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			row, col, ok := testProjector.Pixel(tt.v)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.row, row, "row")
				assert.Equal(t, tt.col, col, "col")
			}
		})
	}
}

func TestRangeImageIntegrator(t *testing.T) {
	t.Parallel()

	_, err := NewRangeImageIntegrator(SphericalProjector{Width: 1, Height: 1}, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidProjector)

	ri, err := NewRangeImageIntegrator(testProjector, 0.5, 10)
	require.NoError(t, err)
	assert.Nil(t, ri.PosedRangeImage())

	sweep := l2frames.NewSweep(100, "S", []l2frames.Point{
		{Position: r3.Vec{X: 2}},
		{Position: r3.Vec{X: 1}},
		{Position: r3.Vec{X: 0.1}},
		{Position: r3.Vec{Y: 20}},
		{Position: r3.Vec{Y: -3}},
	})
	pose := tf.Identity()
	pose.Translation = r3.Vec{Z: 1}
	ri.Integrate(l2frames.Resolve(sweep, "world", pose))

	im := ri.PosedRangeImage()
	require.NotNil(t, im)
	assert.Equal(t, float32(1), im.At(2, 4))
	assert.Equal(t, float32(3), im.At(2, 2))
	assert.Equal(t, 2, im.Filled())
	assert.Equal(t, int64(100), im.Stamp)
	assert.Equal(t, "world", im.Frame)
	assert.Equal(t, r3.Vec{Z: 1}, im.Pose.Translation)
	assert.Equal(t, 1, ri.Integrated())
}
