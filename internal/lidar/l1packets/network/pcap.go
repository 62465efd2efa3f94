package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPResult summarises a replay.
type PCAPResult struct {
	Packets  int           `json:"packets"`
	Matched  int           `json:"matched"`
	Rejected int           `json:"rejected"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// ReadPCAPFile replays UDP payloads addressed to udpPort from a pcap file
// into handler, in capture order. udpPort 0 matches every UDP packet.
// Handler errors are counted and logged; replay continues.
func ReadPCAPFile(ctx context.Context, path string, udpPort int, handler PacketHandler) (PCAPResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCAPResult{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return ReadPCAP(ctx, f, udpPort, handler)
}

// ReadPCAP is ReadPCAPFile over an open reader.
func ReadPCAP(ctx context.Context, r io.Reader, udpPort int, handler PacketHandler) (PCAPResult, error) {
	var res PCAPResult
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return res, fmt.Errorf("failed to read PCAP header: %w", err)
	}

	start := time.Now()
	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.NoCopy = true

	for {
		if err := ctx.Err(); err != nil {
			diagf("PCAP reader stopping due to context cancellation (processed %d packets)", res.Packets)
			return res, err
		}
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			res.Elapsed = time.Since(start)
			diagf("PCAP file reading complete: %d packets, %d matched, %d rejected in %v",
				res.Packets, res.Matched, res.Rejected, res.Elapsed)
			return res, nil
		}
		if err != nil {
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("read PCAP record %d: %w", res.Packets+1, err)
		}
		res.Packets++

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || (udpPort != 0 && int(udp.DstPort) != udpPort) || len(udp.Payload) == 0 {
			continue
		}
		res.Matched++

		if err := handler.HandlePacket(udp.Payload); err != nil {
			res.Rejected++
			opsf("error handling PCAP packet %d: %v", res.Packets, err)
		}

		if res.Packets%10000 == 0 {
			elapsed := time.Since(start)
			diagf("PCAP progress: %d packets processed in %v (%.0f pkt/s)",
				res.Packets, elapsed, float64(res.Packets)/elapsed.Seconds())
		}
	}
}
