package livox

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
)

// DefaultFramePeriod matches the 10 Hz publish rate of the Livox driver.
const DefaultFramePeriod = 100 * time.Millisecond

// FrameFunc receives each completed frame. It is called without the
// assembler lock held.
type FrameFunc func(msg *l2frames.LivoxCustomMsg)

// Assembler accumulates point packets into one LivoxCustomMsg per frame
// period. The first packet of a frame sets its time base; a packet whose
// timestamp reaches time base + period closes the frame and starts the next.
// Points of a reordered packet timed before the time base get offset zero.
type Assembler struct {
	FrameID     string
	LidarID     uint8
	FramePeriod time.Duration

	onFrame FrameFunc

	mu      sync.Mutex
	cur     *l2frames.LivoxCustomMsg
	packets uint64
	frames  uint64
	lastUDP uint16
	haveUDP bool
	gaps    uint64
	late    uint64
}

// NewAssembler returns an assembler emitting frames to fn. A non-positive
// period selects DefaultFramePeriod.
func NewAssembler(frameID string, period time.Duration, fn FrameFunc) *Assembler {
	if period <= 0 {
		period = DefaultFramePeriod
	}
	return &Assembler{FrameID: frameID, FramePeriod: period, onFrame: fn}
}

// HandlePacket parses payload and adds it to the current frame.
func (a *Assembler) HandlePacket(payload []byte) error {
	p, err := ParsePacket(payload)
	if err != nil {
		return err
	}
	a.AddPacket(p)
	return nil
}

// AddPacket appends p's points to the current frame, emitting the frame
// first if p belongs to the next one.
func (a *Assembler) AddPacket(p *Packet) {
	var done *l2frames.LivoxCustomMsg

	a.mu.Lock()
	a.packets++
	if a.haveUDP && p.UDPCount != a.lastUDP+1 {
		a.gaps++
		tracef("udp_cnt gap: %d -> %d", a.lastUDP, p.UDPCount)
	}
	a.lastUDP, a.haveUDP = p.UDPCount, true

	if a.cur != nil && p.Timestamp >= a.cur.TimeBase+uint64(a.FramePeriod) {
		done = a.cur
		a.cur = nil
	}
	if a.cur == nil {
		a.cur = &l2frames.LivoxCustomMsg{
			Header:   l2frames.Header{Stamp: int64(p.Timestamp), FrameID: a.FrameID},
			TimeBase: p.Timestamp,
			LidarID:  a.LidarID,
		}
	}
	if p.Timestamp < a.cur.TimeBase {
		a.late++
		tracef("packet at %d precedes frame time base %d", p.Timestamp, a.cur.TimeBase)
	}
	for i, pt := range p.Points {
		var offset uint64
		if ts := p.PointTime(i); ts > a.cur.TimeBase {
			offset = ts - a.cur.TimeBase
		}
		if offset > math.MaxUint32 {
			offset = math.MaxUint32
		}
		a.cur.Points = append(a.cur.Points, l2frames.LivoxPoint{
			OffsetTime:   uint32(offset),
			X:            pt.X,
			Y:            pt.Y,
			Z:            pt.Z,
			Reflectivity: pt.Reflectivity,
			Tag:          pt.Tag,
		})
	}
	a.cur.PointNum = uint32(len(a.cur.Points))
	if done != nil {
		a.frames++
	}
	a.mu.Unlock()

	if done != nil {
		a.emit(done)
	}
}

// Flush emits the partial frame, if any.
func (a *Assembler) Flush() {
	a.mu.Lock()
	done := a.cur
	a.cur = nil
	if done != nil {
		a.frames++
	}
	a.mu.Unlock()

	if done != nil {
		a.emit(done)
	}
}

func (a *Assembler) emit(msg *l2frames.LivoxCustomMsg) {
	diagf("frame at %d with %d points", msg.TimeBase, msg.PointNum)
	if a.onFrame != nil {
		a.onFrame(msg)
	}
}

// AssemblerStats reports cumulative counters.
type AssemblerStats struct {
	Packets uint64
	Frames  uint64
	UDPGaps uint64
	// Late counts packets timed before the frame they were added to.
	Late uint64
}

// Stats returns a snapshot of the counters.
func (a *Assembler) Stats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AssemblerStats{Packets: a.packets, Frames: a.frames, UDPGaps: a.gaps, Late: a.late}
}

// IsMalformed reports whether err came from a packet that could not be
// decoded, as opposed to a downstream failure.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrShortPacket) || errors.Is(err, ErrUnsupportedDataType)
}
