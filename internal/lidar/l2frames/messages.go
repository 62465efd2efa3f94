package l2frames

// Header carries the capture stamp (ns) and the frame the data is expressed in.
type Header struct {
	Stamp   int64
	FrameID string
}

// PointField datatypes, numbered as in the sensor_msgs PointField schema.
const (
	Int8    uint8 = 1
	Uint8   uint8 = 2
	Int16   uint8 = 3
	Uint16  uint8 = 4
	Int32   uint8 = 5
	Uint32  uint8 = 6
	Float32 uint8 = 7
	Float64 uint8 = 8
)

// datatypeSize returns the byte width of a PointField datatype, or 0.
func datatypeSize(dt uint8) int {
	switch dt {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// PointField describes one named channel inside a PointCloud2 point record.
type PointField struct {
	Name     string
	Offset   uint32
	Datatype uint8
	Count    uint32
}

// PointCloud2 is the generic structured point layout: Height rows of Width
// points, each PointStep bytes, described by Fields.
type PointCloud2 struct {
	Header      Header
	Height      uint32
	Width       uint32
	Fields      []PointField
	IsBigEndian bool
	PointStep   uint32
	RowStep     uint32
	Data        []byte
	IsDense     bool
}

// NumPoints returns Width*Height.
func (m *PointCloud2) NumPoints() int {
	return int(m.Width) * int(m.Height)
}

// LivoxPoint is one record of a Livox custom message. Coordinates are
// metres; OffsetTime is nanoseconds after the message TimeBase.
type LivoxPoint struct {
	OffsetTime   uint32
	X, Y, Z      float32
	Reflectivity uint8
	Tag          uint8
	Line         uint8
}

// LivoxCustomMsg is the Livox driver's sweep message.
type LivoxCustomMsg struct {
	Header   Header
	TimeBase uint64
	PointNum uint32
	LidarID  uint8
	Points   []LivoxPoint
}
