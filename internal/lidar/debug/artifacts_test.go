package debug

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/lidar/projection"
	"github.com/banshee-data/sweepsync/internal/lidar/tf"
)

func TestReprojectedSweep(t *testing.T) {
	t.Parallel()
	s := l2frames.NewSweep(100, "S", []l2frames.Point{
		{Position: r3.Vec{X: 1}, Offset: 0},
		{Position: r3.Vec{Y: 2}, Offset: 30},
	})
	pose := tf.Identity()
	pose.Translation = r3.Vec{Z: 1}

	a := ReprojectedSweep(l2frames.Resolve(s, "map", pose))
	assert.Equal(t, KindReprojectedSweep, a.Kind)
	assert.Equal(t, s.ID(), a.SweepID)
	assert.Equal(t, int64(130), a.Stamp)
	assert.Equal(t, "map", a.Frame)
	assert.Equal(t, []float32{1, 0, 1, 0, 2, 1}, a.Points)
	assert.Equal(t, 2, a.NumPoints())
}

func TestRangeImageArtifact(t *testing.T) {
	t.Parallel()
	img := projection.NewRangeImage(4, 3)
	img.Frame = "map"
	img.Ranges[1] = 2.5
	img.Ranges[6] = 7

	a, err := RangeImage(42, img, true)
	require.NoError(t, err)
	assert.Equal(t, KindRangeImage, a.Kind)
	assert.Equal(t, int64(42), a.Stamp)
	assert.Equal(t, 4, a.Width)
	assert.Equal(t, 3, a.Height)
	assert.Equal(t, img.Ranges, a.Ranges)
	require.NotEmpty(t, a.PNG)
	assert.True(t, bytes.HasPrefix(a.PNG, []byte("\x89PNG")))

	// The artifact owns its ranges.
	img.Ranges[1] = 0
	assert.Equal(t, float32(2.5), a.Ranges[1])
}

func TestRenderRangeImagePNG(t *testing.T) {
	t.Parallel()

	t.Run("empty image still renders", func(t *testing.T) {
		t.Parallel()
		png, err := RenderRangeImagePNG(projection.NewRangeImage(2, 2), 0, 0)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	})

	t.Run("malformed image", func(t *testing.T) {
		t.Parallel()
		_, err := RenderRangeImagePNG(&projection.RangeImage{Width: 3, Height: 3}, 0, 0)
		assert.Error(t, err)
		_, err = RenderRangeImagePNG(nil, 0, 0)
		assert.Error(t, err)
	})
}
