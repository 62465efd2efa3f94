package l2frames

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	ErrEmptySweep          = errors.New("sweep has no points")
	ErrMissingField        = errors.New("point field missing")
	ErrFieldOrder          = errors.New("x, y and z fields are not contiguous and in order")
	ErrUnsupportedDatatype = errors.New("unsupported point field datatype")
	ErrTruncated           = errors.New("point data shorter than declared layout")
	ErrNegativeOffset      = errors.New("point time before the header stamp")
)

// Per-point time fields recognised in PointCloud2 messages. Integer fields
// are nanoseconds after the header stamp; floating point fields are seconds.
var timeFieldNames = []string{"t", "offset_time", "time", "timestamp"}

// Normalizer converts raw sensor messages into Sweeps.
type Normalizer struct {
	// SensorFrameID overrides the message frame when non-empty.
	SensorFrameID string
	// TimeOffset is added to every message stamp to compensate for clock skew.
	TimeOffset time.Duration
}

func (n Normalizer) frame(msgFrame string) string {
	if n.SensorFrameID != "" {
		return n.SensorFrameID
	}
	return msgFrame
}

type fieldReader struct {
	offset   int
	datatype uint8
	order    binary.ByteOrder
}

func (r fieldReader) read(rec []byte) float64 {
	b := rec[r.offset:]
	switch r.datatype {
	case Int8:
		return float64(int8(b[0]))
	case Uint8:
		return float64(b[0])
	case Int16:
		return float64(int16(r.order.Uint16(b)))
	case Uint16:
		return float64(r.order.Uint16(b))
	case Int32:
		return float64(int32(r.order.Uint32(b)))
	case Uint32:
		return float64(r.order.Uint32(b))
	case Float32:
		return float64(math.Float32frombits(r.order.Uint32(b)))
	default:
		return math.Float64frombits(r.order.Uint64(b))
	}
}

func (r fieldReader) isFloat() bool {
	return r.datatype == Float32 || r.datatype == Float64
}

func newFieldReader(f PointField, pointStep uint32, order binary.ByteOrder) (fieldReader, error) {
	size := datatypeSize(f.Datatype)
	if size == 0 {
		return fieldReader{}, fmt.Errorf("field %q datatype %d: %w", f.Name, f.Datatype, ErrUnsupportedDatatype)
	}
	if uint64(f.Offset)+uint64(size) > uint64(pointStep) {
		return fieldReader{}, fmt.Errorf("field %q ends past point step %d: %w", f.Name, pointStep, ErrTruncated)
	}
	return fieldReader{offset: int(f.Offset), datatype: f.Datatype, order: order}, nil
}

// FromPointCloud2 builds a Sweep from the generic point layout. The fields
// named x, y and z must appear consecutively and in that order. When a
// recognised time field is present, per-point offsets are read from it,
// otherwise all offsets are zero. Points keep their capture order and a point
// timed before the header stamp rejects the message. Points with non-finite
// coordinates are skipped.
func (n Normalizer) FromPointCloud2(msg *PointCloud2) (*Sweep, error) {
	if msg == nil || msg.NumPoints() == 0 {
		return nil, ErrEmptySweep
	}

	xi := -1
	for i, f := range msg.Fields {
		if f.Name == "x" {
			xi = i
			break
		}
	}
	if xi < 0 {
		return nil, fmt.Errorf("x: %w", ErrMissingField)
	}
	if xi+2 >= len(msg.Fields) || msg.Fields[xi+1].Name != "y" || msg.Fields[xi+2].Name != "z" {
		return nil, ErrFieldOrder
	}

	var order binary.ByteOrder = binary.LittleEndian
	if msg.IsBigEndian {
		order = binary.BigEndian
	}
	var xyz [3]fieldReader
	for k := range xyz {
		r, err := newFieldReader(msg.Fields[xi+k], msg.PointStep, order)
		if err != nil {
			return nil, err
		}
		xyz[k] = r
	}

	var (
		timeReader fieldReader
		hasTime    bool
	)
	for _, name := range timeFieldNames {
		for _, f := range msg.Fields {
			if f.Name != name {
				continue
			}
			r, err := newFieldReader(f, msg.PointStep, order)
			if err != nil {
				opsf("ignoring time field %q: %v", f.Name, err)
				continue
			}
			timeReader, hasTime = r, true
			break
		}
		if hasTime {
			break
		}
	}

	rowStep := int(msg.RowStep)
	if rowStep == 0 {
		rowStep = int(msg.Width) * int(msg.PointStep)
	}
	if int(msg.Height) > 0 && len(msg.Data) < (int(msg.Height)-1)*rowStep+int(msg.Width)*int(msg.PointStep) {
		return nil, fmt.Errorf("%d bytes for %dx%d points of %d bytes: %w",
			len(msg.Data), msg.Width, msg.Height, msg.PointStep, ErrTruncated)
	}

	points := make([]Point, 0, msg.NumPoints())
	skipped := 0
	for row := 0; row < int(msg.Height); row++ {
		for col := 0; col < int(msg.Width); col++ {
			start := row*rowStep + col*int(msg.PointStep)
			rec := msg.Data[start : start+int(msg.PointStep)]
			p := r3.Vec{X: xyz[0].read(rec), Y: xyz[1].read(rec), Z: xyz[2].read(rec)}
			if !finite(p) {
				skipped++
				continue
			}
			var off int64
			if hasTime {
				v := timeReader.read(rec)
				if timeReader.isFloat() {
					off = int64(math.Round(v * 1e9))
				} else {
					off = int64(v)
				}
				if off < 0 {
					return nil, fmt.Errorf("point %d offset %dns: %w", len(points), off, ErrNegativeOffset)
				}
			}
			points = append(points, Point{Position: p, Offset: off})
		}
	}
	if skipped > 0 {
		tracef("skipped %d non-finite points at stamp %d", skipped, msg.Header.Stamp)
	}
	if len(points) == 0 {
		return nil, ErrEmptySweep
	}

	start := msg.Header.Stamp + int64(n.TimeOffset)
	return NewSweep(start, n.frame(msg.Header.FrameID), points), nil
}

// FromLivox builds a Sweep from a Livox custom message. The start stamp is
// the message TimeBase; per-point offsets come from OffsetTime.
func (n Normalizer) FromLivox(msg *LivoxCustomMsg) (*Sweep, error) {
	if msg == nil || len(msg.Points) == 0 {
		return nil, ErrEmptySweep
	}
	points := make([]Point, 0, len(msg.Points))
	for _, lp := range msg.Points {
		p := r3.Vec{X: float64(lp.X), Y: float64(lp.Y), Z: float64(lp.Z)}
		if !finite(p) {
			continue
		}
		points = append(points, Point{Position: p, Offset: int64(lp.OffsetTime)})
	}
	if len(points) == 0 {
		return nil, ErrEmptySweep
	}
	start := int64(msg.TimeBase) + int64(n.TimeOffset)
	return NewSweep(start, n.frame(msg.Header.FrameID), points), nil
}

func finite(p r3.Vec) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}
