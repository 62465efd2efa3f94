package visualiser

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/sweepsync/internal/lidar/debug"
)

func TestArtifactCodec(t *testing.T) {
	tests := []struct {
		name string
		in   *debug.Artifact
	}{
		{
			name: "reprojected sweep",
			in: &debug.Artifact{
				Kind:    debug.KindReprojectedSweep,
				SweepID: "abc",
				Stamp:   1_700_000_000_123_456_789,
				Frame:   "map",
				Points:  []float32{1, 2, 3, -4, 5.5, 6},
			},
		},
		{
			name: "range image with png",
			in: &debug.Artifact{
				Kind:   debug.KindRangeImage,
				Stamp:  42,
				Frame:  "map",
				Width:  2,
				Height: 2,
				Ranges: []float32{0, 1.5, 0, 3},
				PNG:    []byte("\x89PNG..."),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeArtifact(EncodeArtifact(tt.in))
			if err != nil {
				t.Fatalf("DecodeArtifact: %v", err)
			}
			if diff := cmp.Diff(tt.in, got); diff != "" {
				t.Errorf("artifact mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeArtifactSkipsUnknownFields(t *testing.T) {
	b := EncodeArtifact(&debug.Artifact{Kind: debug.KindReprojectedSweep, Frame: "map"})
	b = protowire.AppendTag(b, 99, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 7)

	got, err := DecodeArtifact(b)
	if err != nil {
		t.Fatalf("DecodeArtifact: %v", err)
	}
	if got.Frame != "map" {
		t.Errorf("expected frame map, got %q", got.Frame)
	}
}

func TestDecodeArtifactRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"truncated", EncodeArtifact(&debug.Artifact{Kind: debug.KindRangeImage, Frame: "map"})[:4]},
		{"ranges do not fill image", EncodeArtifact(&debug.Artifact{Kind: debug.KindRangeImage, Width: 2, Height: 2, Ranges: []float32{1}})},
		{"partial point", EncodeArtifact(&debug.Artifact{Kind: debug.KindReprojectedSweep, Points: []float32{1, 2}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeArtifact(tt.in); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := DecodeArtifact(nil)
	if !errors.Is(err, ErrMalformedArtifact) {
		t.Errorf("expected ErrMalformedArtifact, got %v", err)
	}
}
