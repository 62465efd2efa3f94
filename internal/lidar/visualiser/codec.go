package visualiser

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/sweepsync/internal/lidar/debug"
)

// Artifact wire fields.
const (
	fieldKind    protowire.Number = 1
	fieldSweepID protowire.Number = 2
	fieldStamp   protowire.Number = 3
	fieldFrame   protowire.Number = 4
	fieldPoints  protowire.Number = 5 // packed fixed32 (float32 bits)
	fieldWidth   protowire.Number = 6
	fieldHeight  protowire.Number = 7
	fieldRanges  protowire.Number = 8 // packed fixed32 (float32 bits)
	fieldPNG     protowire.Number = 9
)

var ErrMalformedArtifact = errors.New("visualiser: malformed artifact")

func appendPackedFloats(b []byte, num protowire.Number, vs []float32) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(4*len(vs)))
	for _, v := range vs {
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	return b
}

// EncodeArtifact serialises a in protobuf wire format.
func EncodeArtifact(a *debug.Artifact) []byte {
	b := make([]byte, 0, 64+4*(len(a.Points)+len(a.Ranges))+len(a.PNG))
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Kind))
	if a.SweepID != "" {
		b = protowire.AppendTag(b, fieldSweepID, protowire.BytesType)
		b = protowire.AppendString(b, a.SweepID)
	}
	if a.Stamp != 0 {
		b = protowire.AppendTag(b, fieldStamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Stamp))
	}
	if a.Frame != "" {
		b = protowire.AppendTag(b, fieldFrame, protowire.BytesType)
		b = protowire.AppendString(b, a.Frame)
	}
	b = appendPackedFloats(b, fieldPoints, a.Points)
	if a.Width != 0 {
		b = protowire.AppendTag(b, fieldWidth, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Width))
	}
	if a.Height != 0 {
		b = protowire.AppendTag(b, fieldHeight, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Height))
	}
	b = appendPackedFloats(b, fieldRanges, a.Ranges)
	if len(a.PNG) > 0 {
		b = protowire.AppendTag(b, fieldPNG, protowire.BytesType)
		b = protowire.AppendBytes(b, a.PNG)
	}
	return b
}

func consumePackedFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("packed floats of %d bytes: %w", len(b), ErrMalformedArtifact)
	}
	out := make([]float32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, fmt.Errorf("packed floats: %w", protowire.ParseError(n))
		}
		out = append(out, math.Float32frombits(v))
		b = b[n:]
	}
	return out, nil
}

// DecodeArtifact parses b. Unknown fields are skipped.
func DecodeArtifact(b []byte) (*debug.Artifact, error) {
	a := &debug.Artifact{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldKind:
				a.Kind = debug.Kind(v)
			case fieldStamp:
				a.Stamp = int64(v)
			case fieldWidth:
				a.Width = int(v)
			case fieldHeight:
				a.Height = int(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			var err error
			switch num {
			case fieldSweepID:
				a.SweepID = string(v)
			case fieldFrame:
				a.Frame = string(v)
			case fieldPoints:
				a.Points, err = consumePackedFloats(v)
			case fieldRanges:
				a.Ranges, err = consumePackedFloats(v)
			case fieldPNG:
				a.PNG = append([]byte(nil), v...)
			}
			if err != nil {
				return nil, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if a.Kind != debug.KindReprojectedSweep && a.Kind != debug.KindRangeImage {
		return nil, fmt.Errorf("kind %d: %w", a.Kind, ErrMalformedArtifact)
	}
	if len(a.Points)%3 != 0 || len(a.Ranges) != a.Width*a.Height {
		return nil, ErrMalformedArtifact
	}
	return a, nil
}
