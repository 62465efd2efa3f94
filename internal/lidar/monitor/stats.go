package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/sweepsync/internal/timeutil"
)

// StatsSnapshot is the packet throughput over the last logging interval.
type StatsSnapshot struct {
	PacketsPerSec float64   `json:"packets_per_sec"`
	MBPerSec      float64   `json:"mb_per_sec"`
	DroppedCount  int64     `json:"dropped"`
	Timestamp     time.Time `json:"timestamp"`
}

// PacketStats tracks input packet statistics. It satisfies
// network.PacketStatsInterface.
type PacketStats struct {
	clock timeutil.Clock

	mu             sync.Mutex
	packetCount    int64
	byteCount      int64
	droppedCount   int64
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *StatsSnapshot
}

// NewPacketStats creates a PacketStats on clock; nil selects the real clock.
func NewPacketStats(clock timeutil.Clock) *PacketStats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	now := clock.Now()
	return &PacketStats{clock: clock, lastReset: now, startTime: now}
}

// AddPacket increments packet count and byte count
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

// AddDropped counts a packet the handler rejected.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
}

// GetAndReset returns current stats and resets counters
func (ps *PacketStats) GetAndReset() (packets, bytes, dropped int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.clock.Now()
	duration = now.Sub(ps.lastReset)
	packets, bytes, dropped = ps.packetCount, ps.byteCount, ps.droppedCount

	ps.packetCount = 0
	ps.byteCount = 0
	ps.droppedCount = 0
	ps.lastReset = now
	return
}

// LogStats logs the rates since the previous call and keeps them as the
// latest snapshot.
func (ps *PacketStats) LogStats() {
	packets, bytes, dropped, duration := ps.GetAndReset()
	if (packets == 0 && dropped == 0) || duration <= 0 {
		return
	}
	snap := &StatsSnapshot{
		PacketsPerSec: float64(packets) / duration.Seconds(),
		MBPerSec:      float64(bytes) / duration.Seconds() / (1024 * 1024),
		DroppedCount:  dropped,
		Timestamp:     ps.clock.Now(),
	}
	ps.mu.Lock()
	ps.latestSnapshot = snap
	ps.mu.Unlock()

	msg := fmt.Sprintf("input stats (/sec): %.2f MB, %.1f packets", snap.MBPerSec, snap.PacketsPerSec)
	if dropped > 0 {
		msg += fmt.Sprintf(", %s rejected", FormatWithCommas(dropped))
	}
	diagf("%s", msg)
}

// GetUptime returns the time since the stats were created
func (ps *PacketStats) GetUptime() time.Duration {
	return ps.clock.Since(ps.startTime)
}

// GetLatestSnapshot returns a copy of the most recent snapshot, or nil.
func (ps *PacketStats) GetLatestSnapshot() *StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.latestSnapshot == nil {
		return nil
	}
	snapshot := *ps.latestSnapshot
	return &snapshot
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
