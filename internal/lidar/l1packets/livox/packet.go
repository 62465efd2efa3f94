// Package livox parses Livox SDK2 point cloud packets and assembles them
// into per-frame driver messages.
package livox

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed SDK2 point packet header length.
const HeaderSize = 36

// Point data types.
const (
	DataTypeCartesianHigh uint8 = 1 // int32 mm, 14 bytes per point
	DataTypeCartesianLow  uint8 = 2 // int16 cm, 8 bytes per point
)

const (
	highPointSize = 14
	lowPointSize  = 8
)

var (
	ErrShortPacket         = errors.New("livox: short packet")
	ErrUnsupportedDataType = errors.New("livox: unsupported data type")
)

// Point is one return in metres.
type Point struct {
	X, Y, Z      float32
	Reflectivity uint8
	Tag          uint8
}

// Packet is a decoded SDK2 point packet.
type Packet struct {
	Version uint8
	Length  uint16
	// TimeInterval is the span covered by the packet's points, in 0.1 µs.
	TimeInterval uint16
	DotNum       uint16
	UDPCount     uint16
	FrameCount   uint8
	DataType     uint8
	TimeType     uint8
	CRC32        uint32
	// Timestamp of the first point in nanoseconds.
	Timestamp uint64
	Points    []Point
}

// PointTime returns the capture time of point i in nanoseconds.
func (p *Packet) PointTime(i int) uint64 {
	if p.DotNum == 0 {
		return p.Timestamp
	}
	span := uint64(p.TimeInterval) * 100
	return p.Timestamp + span*uint64(i)/uint64(p.DotNum)
}

// ParsePacket decodes a little-endian SDK2 point packet.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrShortPacket, len(data), HeaderSize)
	}
	p := &Packet{
		Version:      data[0],
		Length:       binary.LittleEndian.Uint16(data[1:3]),
		TimeInterval: binary.LittleEndian.Uint16(data[3:5]),
		DotNum:       binary.LittleEndian.Uint16(data[5:7]),
		UDPCount:     binary.LittleEndian.Uint16(data[7:9]),
		FrameCount:   data[9],
		DataType:     data[10],
		TimeType:     data[11],
		// 12 reserved bytes
		CRC32:     binary.LittleEndian.Uint32(data[24:28]),
		Timestamp: binary.LittleEndian.Uint64(data[28:36]),
	}

	var size int
	switch p.DataType {
	case DataTypeCartesianHigh:
		size = highPointSize
	case DataTypeCartesianLow:
		size = lowPointSize
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedDataType, p.DataType)
	}

	payload := data[HeaderSize:]
	need := int(p.DotNum) * size
	if len(payload) < need {
		return nil, fmt.Errorf("%w: %d points of type %d need %d bytes, have %d",
			ErrShortPacket, p.DotNum, p.DataType, need, len(payload))
	}

	p.Points = make([]Point, p.DotNum)
	for i := range p.Points {
		rec := payload[i*size : (i+1)*size]
		if p.DataType == DataTypeCartesianHigh {
			p.Points[i] = Point{
				X:            float32(int32(binary.LittleEndian.Uint32(rec[0:4]))) / 1000,
				Y:            float32(int32(binary.LittleEndian.Uint32(rec[4:8]))) / 1000,
				Z:            float32(int32(binary.LittleEndian.Uint32(rec[8:12]))) / 1000,
				Reflectivity: rec[12],
				Tag:          rec[13],
			}
		} else {
			p.Points[i] = Point{
				X:            float32(int16(binary.LittleEndian.Uint16(rec[0:2]))) / 100,
				Y:            float32(int16(binary.LittleEndian.Uint16(rec[2:4]))) / 100,
				Z:            float32(int16(binary.LittleEndian.Uint16(rec[4:6]))) / 100,
				Reflectivity: rec[6],
				Tag:          rec[7],
			}
		}
	}
	tracef("parsed packet udp_cnt=%d frame_cnt=%d points=%d", p.UDPCount, p.FrameCount, len(p.Points))
	return p, nil
}

// AppendPacket encodes p in SDK2 wire format. DotNum and Length are taken
// from p.Points. Coordinates are rounded to the resolution of DataType.
func AppendPacket(b []byte, p *Packet) ([]byte, error) {
	var size int
	switch p.DataType {
	case DataTypeCartesianHigh:
		size = highPointSize
	case DataTypeCartesianLow:
		size = lowPointSize
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedDataType, p.DataType)
	}
	length := HeaderSize + size*len(p.Points)

	var hdr [HeaderSize]byte
	hdr[0] = p.Version
	binary.LittleEndian.PutUint16(hdr[1:3], uint16(length))
	binary.LittleEndian.PutUint16(hdr[3:5], p.TimeInterval)
	binary.LittleEndian.PutUint16(hdr[5:7], uint16(len(p.Points)))
	binary.LittleEndian.PutUint16(hdr[7:9], p.UDPCount)
	hdr[9] = p.FrameCount
	hdr[10] = p.DataType
	hdr[11] = p.TimeType
	binary.LittleEndian.PutUint32(hdr[24:28], p.CRC32)
	binary.LittleEndian.PutUint64(hdr[28:36], p.Timestamp)
	b = append(b, hdr[:]...)

	for _, pt := range p.Points {
		if p.DataType == DataTypeCartesianHigh {
			b = binary.LittleEndian.AppendUint32(b, uint32(roundInt32(pt.X*1000)))
			b = binary.LittleEndian.AppendUint32(b, uint32(roundInt32(pt.Y*1000)))
			b = binary.LittleEndian.AppendUint32(b, uint32(roundInt32(pt.Z*1000)))
		} else {
			b = binary.LittleEndian.AppendUint16(b, uint16(int16(roundInt32(pt.X*100))))
			b = binary.LittleEndian.AppendUint16(b, uint16(int16(roundInt32(pt.Y*100))))
			b = binary.LittleEndian.AppendUint16(b, uint16(int16(roundInt32(pt.Z*100))))
		}
		b = append(b, pt.Reflectivity, pt.Tag)
	}
	return b, nil
}

func roundInt32(v float32) int32 {
	if v < 0 {
		return int32(v - 0.5)
	}
	return int32(v + 0.5)
}
