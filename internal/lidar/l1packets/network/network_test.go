package network

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     func([]byte) bool
}

func (c *collector) HandlePacket(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, append([]byte(nil), p...))
	if c.fail != nil && c.fail(p) {
		return errors.New("rejected")
	}
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

type countingStats struct {
	mu               sync.Mutex
	packets, dropped int
	bytes            int
}

func (s *countingStats) AddPacket(n int) {
	s.mu.Lock()
	s.packets++
	s.bytes += n
	s.mu.Unlock()
}

func (s *countingStats) AddDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *countingStats) LogStats() {}

func udpFrame(t *testing.T, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{192, 168, 1, 100},
		DstIP:    net.IP{192, 168, 1, 50},
	}
	udp := &layers.UDP{SrcPort: 56000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writePCAP(t *testing.T, frames ...[]byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	ts := time.Unix(1_700_000_000, 0)
	for i, f := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(f),
			Length:        len(f),
		}
		require.NoError(t, w.WritePacket(ci, f))
	}
	return out.Bytes()
}

func TestReadPCAPFiltersByPort(t *testing.T) {
	t.Parallel()
	data := writePCAP(t,
		udpFrame(t, 56301, []byte("a")),
		udpFrame(t, 9999, []byte("other")),
		udpFrame(t, 56301, []byte("bad")),
		udpFrame(t, 56301, []byte("c")),
	)
	path := filepath.Join(t.TempDir(), "capture.pcap")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c := &collector{fail: func(p []byte) bool { return string(p) == "bad" }}
	res, err := ReadPCAPFile(context.Background(), path, 56301, c)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Packets)
	assert.Equal(t, 3, res.Matched)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("bad"), []byte("c")}, c.payloads)
}

func TestReadPCAPAnyPort(t *testing.T) {
	t.Parallel()
	data := writePCAP(t, udpFrame(t, 1, []byte("x")), udpFrame(t, 2, []byte("y")))
	c := &collector{}
	res, err := ReadPCAP(context.Background(), bytes.NewReader(data), 0, c)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matched)
}

func TestReadPCAPErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := ReadPCAPFile(context.Background(), filepath.Join(t.TempDir(), "nope.pcap"), 0, &collector{})
		assert.Error(t, err)
	})

	t.Run("not a pcap", func(t *testing.T) {
		t.Parallel()
		_, err := ReadPCAP(context.Background(), bytes.NewReader([]byte("garbage data here")), 0, &collector{})
		assert.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		data := writePCAP(t, udpFrame(t, 1, []byte("x")))
		_, err := ReadPCAP(ctx, bytes.NewReader(data), 0, &collector{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestUDPListenerDeliversPackets(t *testing.T) {
	t.Parallel()
	stats := &countingStats{}
	c := &collector{fail: func(p []byte) bool { return string(p) == "bad" }}
	l := NewUDPListener(UDPListenerConfig{
		Address: "127.0.0.1:0",
		Stats:   stats,
		Handler: c,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Start(ctx) }()

	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not bind")
	}

	conn, err := net.Dial("udp", l.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	for _, p := range []string{"one", "bad", "three"} {
		_, err := conn.Write([]byte(p))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return c.len() == 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.Equal(t, 3, stats.packets)
	assert.Equal(t, 11, stats.bytes)
	assert.Equal(t, 1, stats.dropped)
}

func TestUDPListenerRequiresHandler(t *testing.T) {
	t.Parallel()
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0"})
	assert.Error(t, l.Start(context.Background()))
	assert.NoError(t, l.Close())
}

func TestPacketHandlerFunc(t *testing.T) {
	t.Parallel()
	var got []byte
	h := PacketHandlerFunc(func(p []byte) error { got = p; return nil })
	require.NoError(t, h.HandlePacket([]byte{1}))
	assert.Equal(t, []byte{1}, got)
}
