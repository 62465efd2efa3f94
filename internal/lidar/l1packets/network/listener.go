// Package network receives LiDAR packets from a UDP socket or replays them
// from a capture file, handing each payload to a PacketHandler.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// PacketHandler consumes one UDP payload. The slice is only valid for the
// duration of the call.
type PacketHandler interface {
	HandlePacket(payload []byte) error
}

// PacketHandlerFunc adapts a function to PacketHandler.
type PacketHandlerFunc func(payload []byte) error

func (f PacketHandlerFunc) HandlePacket(payload []byte) error { return f(payload) }

// PacketStatsInterface provides packet statistics management
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
	LogStats()
}

// UDPListener receives LiDAR packets over UDP and forwards them to a handler.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	conn        *net.UDPConn
	stats       PacketStatsInterface
	handler     PacketHandler
	ready       chan struct{}
}

// UDPListenerConfig contains configuration options for the UDP listener
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Stats       PacketStatsInterface
	Handler     PacketHandler
}

// NewUDPListener creates a new UDP listener with the provided configuration
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	var stats PacketStatsInterface
	if config.Stats != nil {
		stats = config.Stats
	} else {
		stats = noopStats{}
	}

	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}

	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		stats:       stats,
		handler:     config.Handler,
		ready:       make(chan struct{}),
	}
}

type noopStats struct{}

func (noopStats) AddPacket(int) {}
func (noopStats) AddDropped()   {}
func (noopStats) LogStats()     {}

// Ready is closed once the socket is bound.
func (l *UDPListener) Ready() <-chan struct{} { return l.ready }

// LocalAddr returns the bound address. It is only valid after Ready.
func (l *UDPListener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start binds the socket and reads packets until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	if l.handler == nil {
		return errors.New("udp listener has no packet handler")
	}
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.conn = conn
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			opsf("failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	diagf("UDP listener started on %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)
	close(l.ready)

	go l.startStatsLogging(ctx)

	// Livox SDK2 point packets top out well below this.
	buffer := make([]byte, 2048)

	for {
		select {
		case <-ctx.Done():
			diagf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, from, err := conn.ReadFromUDP(buffer)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				opsf("UDP read error: %v", err)
				continue
			}

			l.stats.AddPacket(n)
			tracef("packet of %d bytes from %v", n, from)
			if err := l.handler.HandlePacket(buffer[:n]); err != nil {
				l.stats.AddDropped()
				opsf("error handling packet from %v: %v", from, err)
			}
		}
	}
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// Close closes the UDP listener and releases resources
func (l *UDPListener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
