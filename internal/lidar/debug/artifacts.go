// Package debug builds the optional debug artifacts published after a sweep
// is integrated: the sweep reprojected into the world frame and a rendering
// of the range image seen by a projective consumer.
package debug

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/lidar/projection"
)

// Kind tags an artifact on the wire.
type Kind uint8

const (
	KindReprojectedSweep Kind = 1
	KindRangeImage       Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindReprojectedSweep:
		return "reprojected_sweep"
	case KindRangeImage:
		return "range_image"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Artifact is one debug payload. Fields that do not apply to Kind are zero.
type Artifact struct {
	Kind    Kind
	SweepID string
	// Stamp is the sweep's median capture time in nanoseconds.
	Stamp int64
	Frame string

	// Points holds packed x,y,z world coordinates.
	Points []float32

	Width, Height int
	Ranges        []float32
	PNG           []byte
}

// NumPoints returns len(Points)/3.
func (a *Artifact) NumPoints() int { return len(a.Points) / 3 }

// ReprojectedSweep packs the world-frame points of sweep.
func ReprojectedSweep(sweep *l2frames.ResolvedSweep) *Artifact {
	pts := make([]float32, 0, 3*len(sweep.Points))
	for _, p := range sweep.Points {
		pts = append(pts, float32(p.X), float32(p.Y), float32(p.Z))
	}
	return &Artifact{
		Kind:    KindReprojectedSweep,
		SweepID: sweep.Sweep.ID(),
		Stamp:   sweep.Sweep.MedianTime(),
		Frame:   sweep.WorldFrame,
		Points:  pts,
	}
}

// RangeImage copies img into an artifact stamped at stamp. When render is
// set the PNG field carries a heat map of the ranges.
func RangeImage(stamp int64, img *projection.RangeImage, render bool) (*Artifact, error) {
	a := &Artifact{
		Kind:   KindRangeImage,
		Stamp:  stamp,
		Frame:  img.Frame,
		Width:  img.Width,
		Height: img.Height,
		Ranges: append([]float32(nil), img.Ranges...),
	}
	if render {
		png, err := RenderRangeImagePNG(img, 0, 0)
		if err != nil {
			return nil, err
		}
		a.PNG = png
	}
	return a, nil
}

// rangeGrid adapts a RangeImage to plotter.GridXYZ. Row 0 of the image is
// the top, which is the largest Y on the plot.
type rangeGrid struct {
	img      *projection.RangeImage
	min, max float64
}

func newRangeGrid(img *projection.RangeImage) rangeGrid {
	g := rangeGrid{img: img, min: math.Inf(1), max: math.Inf(-1)}
	for _, r := range img.Ranges {
		if r <= 0 {
			continue
		}
		g.min = math.Min(g.min, float64(r))
		g.max = math.Max(g.max, float64(r))
	}
	if math.IsInf(g.min, 1) {
		g.min, g.max = 0, 1
	} else if g.max == g.min {
		g.max = g.min + 1
	}
	return g
}

func (g rangeGrid) Dims() (c, r int) { return g.img.Width, g.img.Height }
func (g rangeGrid) X(c int) float64  { return float64(c) }
func (g rangeGrid) Y(r int) float64  { return float64(g.img.Height - 1 - r) }
func (g rangeGrid) Min() float64     { return g.min }
func (g rangeGrid) Max() float64     { return g.max }

func (g rangeGrid) Z(c, r int) float64 {
	v := g.img.At(g.img.Height-1-r, c)
	if v <= 0 {
		return math.NaN()
	}
	return float64(v)
}

// RenderRangeImagePNG draws img as a heat map. Zero width or height selects
// a size proportional to the image.
func RenderRangeImagePNG(img *projection.RangeImage, width, height vg.Length) ([]byte, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 || len(img.Ranges) != img.Width*img.Height {
		return nil, errors.New("debug: malformed range image")
	}
	if width <= 0 || height <= 0 {
		width = vg.Length(math.Max(float64(img.Width), 64)) * vg.Millimeter
		height = vg.Length(math.Max(float64(img.Height), 16)) * vg.Millimeter
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("range image %s @ %d", img.Frame, img.Stamp)
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"

	hm := plotter.NewHeatMap(newRangeGrid(img), moreland.ExtendedBlackBody().Palette(255))
	hm.NaN = color.Transparent
	hm.Rasterized = true
	p.Add(hm)

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return nil, fmt.Errorf("render range image: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode range image: %w", err)
	}
	return buf.Bytes(), nil
}
