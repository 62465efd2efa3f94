package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/sweepsync/internal/lidar/l1packets/network"
	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/lidar/monitor"
	"github.com/banshee-data/sweepsync/internal/lidar/pipeline"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	// UDPPort filters the capture; -1 uses the port of input.listen_addr
	// and 0 accepts every UDP packet.
	UDPPort int
}

// ReplayResult is printed as JSON when a replay completes.
type ReplayResult struct {
	PCAP     network.PCAPResult   `json:"pcap"`
	Frames   uint64               `json:"frames"`
	UDPGaps  uint64               `json:"udp_gaps"`
	Pipeline pipeline.Stats       `json:"pipeline"`
	Timing   monitor.TimingSummary `json:"timing"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <pcap>",
		Short: "Replay Livox packets from a pcap capture",
		Long: `Replay a pcap capture of Livox point packets through the same pipeline as
run. Poses come from pose_history.pose_file and the static transforms.
Each assembled frame is drained as soon as it is queued, and the queue is
drained once more at the end of the capture.

Examples:
  sweepsync replay -c sweepsync.yaml drive.pcap
  sweepsync replay -c sweepsync.yaml --udp-port 0 drive.pcap`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := runReplay(ctx, opts, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().IntVar(&opts.UDPPort, "udp-port", -1, "UDP destination port to replay (-1: input.listen_addr port, 0: any)")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, path string) (*ReplayResult, error) {
	cfg := opts.Config
	if t := cfg.GetTopicType(); t != "livox" {
		return nil, fmt.Errorf("input.topic_type %q cannot be replayed from pcap", t)
	}

	s, err := buildStack(cfg)
	if err != nil {
		return nil, err
	}
	defer s.close()

	assembler := s.newAssembler(handleLivoxNow(s.pipeline))
	handler := network.PacketHandlerFunc(func(payload []byte) error {
		s.packets.AddPacket(len(payload))
		if err := assembler.HandlePacket(payload); err != nil {
			s.packets.AddDropped()
			return err
		}
		return nil
	})

	port := opts.UDPPort
	if port < 0 {
		port = cfg.GetListenPort()
	}
	pcap, err := network.ReadPCAPFile(ctx, path, port, handler)
	if err != nil {
		return nil, err
	}

	assembler.Flush()
	s.pipeline.Drain()
	s.packets.LogStats()
	logSummary(s)

	as := assembler.Stats()
	return &ReplayResult{
		PCAP:     pcap,
		Frames:   as.Frames,
		UDPGaps:  as.UDPGaps,
		Pipeline: s.pipeline.Stats(),
		Timing:   s.timing.Summary(),
	}, nil
}

// handleLivoxNow normalises msg and drains straight away. The whole pose
// history is loaded before replay starts, so waiting would only delay drops.
func handleLivoxNow(p *pipeline.Pipeline) func(*l2frames.LivoxCustomMsg) {
	return func(msg *l2frames.LivoxCustomMsg) {
		if err := p.HandleLivox(msg); err == nil {
			p.Drain()
		}
	}
}
