package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/sweepsync/internal/lidar/l1packets/network"
	"github.com/banshee-data/sweepsync/internal/lidar/pipeline"
	"github.com/banshee-data/sweepsync/internal/monitoring"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	RcvBuf        int
	StatsInterval time.Duration
	NoDebugHTTP   bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest live Livox sweeps over UDP",
		Long: `Listen for Livox point packets on input.listen_addr, assemble them into
sweeps and hand each sweep to the range image consumer once its pose is
known. Dispatched and dropped sweeps are recorded in the ledger.

Examples:
  sweepsync run --config sweepsync.yaml
  sweepsync run -c sweepsync.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runLive(ctx, opts)
		},
	}

	cmd.Flags().IntVar(&opts.RcvBuf, "rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	cmd.Flags().DurationVar(&opts.StatsInterval, "stats-interval", 10*time.Second, "packet statistics logging interval")
	cmd.Flags().BoolVar(&opts.NoDebugHTTP, "no-debug-http", false, "do not serve the /debug/ HTTP routes")

	return cmd
}

func runLive(ctx context.Context, opts *RunOptions) error {
	cfg := opts.Config
	if t := cfg.GetTopicType(); t != "livox" {
		return fmt.Errorf("input.topic_type %q has no network transport", t)
	}

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if s.publisher != nil {
		if err := s.publisher.Start(); err != nil {
			return fmt.Errorf("debug stream: %w", err)
		}
		monitoring.Logf("debug stream serving on %s", s.publisher.Addr())
	}

	inbox := pipeline.NewInbox(cfg.GetTopicQueueLength(), s.pipeline.HandleLivox)
	assembler := s.newAssembler(inbox.Offer)
	listener := network.NewUDPListener(network.UDPListenerConfig{
		Address:     cfg.GetListenAddr(),
		RcvBuf:      opts.RcvBuf,
		LogInterval: opts.StatsInterval,
		Stats:       s.packets,
		Handler:     assembler,
	})
	runner := &pipeline.Runner{Drainer: s.pipeline, Period: cfg.GetProcessingRetryPeriod()}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 4)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errc <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
			monitoring.Logf("%s routine terminated", name)
		}()
	}

	var mux *http.ServeMux
	if !opts.NoDebugHTTP {
		if mux, err = s.debugMux(); err != nil {
			return err
		}
	}

	spawn("UDP listener", listener.Start)
	spawn("inbox", inbox.Run)
	spawn("drain scheduler", runner.Run)
	if mux != nil {
		spawn("debug HTTP", func(ctx context.Context) error {
			return serveHTTP(ctx, cfg.GetDebugHTTPAddr(), mux)
		})
	}

	monitoring.Logf("sweepsync %s: %s sweeps on %s, world frame %s",
		cfg.GetTopicName(), cfg.GetTopicType(), cfg.GetListenAddr(), cfg.GetWorldFrame())

	wg.Wait()
	close(errc)

	// Hand the partial frame and any backlog to the pipeline before exit.
	assembler.Flush()
	inbox.Close()
	_ = inbox.Run(context.Background())
	s.pipeline.Drain()
	logSummary(s)

	var errs []error
	for err := range errc {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{Addr: addr, Handler: handler}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting debug HTTP server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return ctx.Err()
}

func logSummary(s *stack) {
	st := s.pipeline.Stats()
	monitoring.Logf("sweeps: received %d, rejected %d, dispatched %d, dropped %d, still queued %d",
		st.Received, st.Rejected, st.Dispatched, st.Dropped, st.Queued)
	if s.rangeImage != nil {
		monitoring.Logf("range image consumer integrated %d sweeps", s.rangeImage.Integrated())
	}
}
