package livox

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
)

func encode(t *testing.T, p *Packet) []byte {
	t.Helper()
	b, err := AppendPacket(nil, p)
	require.NoError(t, err)
	return b
}

func TestParsePacket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		dataType uint8
		points   []Point
		wantSize int
	}{
		{
			name:     "cartesian high",
			dataType: DataTypeCartesianHigh,
			points: []Point{
				{X: 1.234, Y: -2.5, Z: 0.001, Reflectivity: 10, Tag: 1},
				{X: -0.5, Y: 0, Z: 12.75, Reflectivity: 200},
			},
			wantSize: HeaderSize + 2*14,
		},
		{
			name:     "cartesian low",
			dataType: DataTypeCartesianLow,
			points: []Point{
				{X: 1.25, Y: -2.5, Z: 0.01, Reflectivity: 10, Tag: 1},
			},
			wantSize: HeaderSize + 8,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := &Packet{
				Version:      0,
				TimeInterval: 500,
				UDPCount:     7,
				FrameCount:   3,
				DataType:     tt.dataType,
				TimeType:     0,
				Timestamp:    1_700_000_000_000_000_000,
				Points:       tt.points,
			}
			b := encode(t, in)
			require.Len(t, b, tt.wantSize)

			got, err := ParsePacket(b)
			require.NoError(t, err)
			assert.Equal(t, uint16(len(tt.points)), got.DotNum)
			assert.Equal(t, uint16(tt.wantSize), got.Length)
			assert.Equal(t, uint16(7), got.UDPCount)
			assert.Equal(t, uint8(3), got.FrameCount)
			assert.Equal(t, in.Timestamp, got.Timestamp)
			require.Len(t, got.Points, len(tt.points))
			for i := range tt.points {
				assert.InDelta(t, tt.points[i].X, got.Points[i].X, 1e-3)
				assert.InDelta(t, tt.points[i].Y, got.Points[i].Y, 1e-3)
				assert.InDelta(t, tt.points[i].Z, got.Points[i].Z, 1e-3)
				assert.Equal(t, tt.points[i].Reflectivity, got.Points[i].Reflectivity)
				assert.Equal(t, tt.points[i].Tag, got.Points[i].Tag)
			}
		})
	}
}

func TestParsePacketErrors(t *testing.T) {
	t.Parallel()

	full := encode(t, &Packet{DataType: DataTypeCartesianHigh, Points: make([]Point, 3)})
	unsupported := encode(t, &Packet{DataType: DataTypeCartesianLow})
	unsupported[10] = 3

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrShortPacket},
		{"header only partially present", full[:20], ErrShortPacket},
		{"payload truncated", full[:len(full)-1], ErrShortPacket},
		{"spherical data type", unsupported, ErrUnsupportedDataType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParsePacket(tt.data)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, IsMalformed(err))
		})
	}
}

func TestPointTime(t *testing.T) {
	t.Parallel()
	p := &Packet{Timestamp: 1000, TimeInterval: 40, DotNum: 4}
	// 40 * 0.1 µs = 4 µs spread over 4 points.
	assert.Equal(t, uint64(1000), p.PointTime(0))
	assert.Equal(t, uint64(2000), p.PointTime(1))
	assert.Equal(t, uint64(4000), p.PointTime(3))
	assert.Equal(t, uint64(1000), (&Packet{Timestamp: 1000}).PointTime(5))
}

func TestAssemblerSplitsOnFramePeriod(t *testing.T) {
	t.Parallel()
	var frames []*l2frames.LivoxCustomMsg
	a := NewAssembler("livox_frame", 10*time.Millisecond, func(m *l2frames.LivoxCustomMsg) {
		frames = append(frames, m)
	})

	const ms = uint64(time.Millisecond)
	pkt := func(ts uint64, udp uint16, n int) []byte {
		return encode(t, &Packet{
			DataType:     DataTypeCartesianHigh,
			UDPCount:     udp,
			TimeInterval: 10, // 1 µs
			Timestamp:    ts,
			Points:       make([]Point, n),
		})
	}

	require.NoError(t, a.HandlePacket(pkt(100*ms, 1, 2)))
	require.NoError(t, a.HandlePacket(pkt(105*ms, 2, 2)))
	assert.Empty(t, frames)

	// Crosses 100ms + 10ms.
	require.NoError(t, a.HandlePacket(pkt(110*ms, 3, 1)))
	require.Len(t, frames, 1)

	f := frames[0]
	assert.Equal(t, 100*ms, f.TimeBase)
	assert.Equal(t, int64(100*ms), f.Header.Stamp)
	assert.Equal(t, "livox_frame", f.Header.FrameID)
	assert.Equal(t, uint32(4), f.PointNum)
	offsets := make([]uint32, len(f.Points))
	for i, p := range f.Points {
		offsets[i] = p.OffsetTime
	}
	want := []uint32{0, 500, uint32(5 * ms), uint32(5*ms + 500)}
	if diff := cmp.Diff(want, offsets); diff != "" {
		t.Errorf("offsets (-want +got):\n%s", diff)
	}

	a.Flush()
	require.Len(t, frames, 2)
	assert.Equal(t, 110*ms, frames[1].TimeBase)
	assert.Equal(t, uint32(1), frames[1].PointNum)

	// Nothing left to flush.
	a.Flush()
	assert.Len(t, frames, 2)

	assert.Equal(t, AssemblerStats{Packets: 3, Frames: 2}, a.Stats())
}

func TestAssemblerCountsUDPGaps(t *testing.T) {
	t.Parallel()
	a := NewAssembler("", 0, nil)
	assert.Equal(t, DefaultFramePeriod, a.FramePeriod)

	for _, udp := range []uint16{1, 2, 5, 6} {
		a.AddPacket(&Packet{UDPCount: udp})
	}
	assert.Equal(t, uint64(1), a.Stats().UDPGaps)
}

func TestAssemblerRejectsMalformed(t *testing.T) {
	t.Parallel()
	a := NewAssembler("", 0, nil)
	err := a.HandlePacket([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortPacket)
	assert.Zero(t, a.Stats().Packets)
}

func TestAssembledFrameNormalises(t *testing.T) {
	t.Parallel()
	var got *l2frames.LivoxCustomMsg
	a := NewAssembler("livox_frame", 0, func(m *l2frames.LivoxCustomMsg) { got = m })
	a.AddPacket(&Packet{
		Timestamp:    5_000,
		TimeInterval: 20,
		DotNum:       2,
		Points:       []Point{{X: 1}, {X: 2}},
	})
	a.Flush()
	require.NotNil(t, got)

	s, err := l2frames.Normalizer{}.FromLivox(got)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), s.StartTime())
	assert.Equal(t, int64(6_000), s.EndTime())
	assert.Equal(t, "livox_frame", s.SensorFrame())
}

func TestAssemblerClampsReorderedPacket(t *testing.T) {
	t.Parallel()
	var got *l2frames.LivoxCustomMsg
	a := NewAssembler("livox_frame", 0, func(m *l2frames.LivoxCustomMsg) { got = m })

	a.AddPacket(&Packet{UDPCount: 1, Timestamp: 1_000_000, DotNum: 1, Points: []Point{{X: 1}}})
	// Arrives late: 990µs and 1005µs, the first before the frame time base.
	a.AddPacket(&Packet{UDPCount: 2, Timestamp: 990_000, TimeInterval: 300, DotNum: 2, Points: []Point{{X: 2}, {X: 3}}})
	a.Flush()
	require.NotNil(t, got)

	offsets := make([]uint32, len(got.Points))
	for i, p := range got.Points {
		offsets[i] = p.OffsetTime
	}
	if diff := cmp.Diff([]uint32{0, 0, 5_000}, offsets); diff != "" {
		t.Errorf("offsets (-want +got):\n%s", diff)
	}
	assert.Equal(t, AssemblerStats{Packets: 2, Frames: 1, Late: 1}, a.Stats())

	s, err := l2frames.Normalizer{}.FromLivox(got)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), s.StartTime())
	assert.Equal(t, int64(1_005_000), s.EndTime())
}
