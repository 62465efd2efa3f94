// Package visualiser streams debug artifacts to remote viewers over gRPC.
//
// Each viewer subscribes to one topic (the reprojected sweep topic or the
// range image topic) and receives every artifact published on it while it
// stays connected. Slow viewers lose artifacts rather than stalling the
// pipeline.
package visualiser

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/sweepsync/internal/lidar/debug"
	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/lidar/projection"
)

// Config holds configuration for the debug stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// ReprojectedTopic names the world-frame sweep stream. Empty disables it.
	ReprojectedTopic string

	// RangeImageTopic names the range image stream. Empty disables it.
	RangeImageTopic string

	// RenderRangeImagePNG attaches a heat map PNG to range image artifacts.
	RenderRangeImagePNG bool

	// ClientBuffer is the per-client artifact backlog.
	ClientBuffer int

	// MaxClients is the maximum number of concurrent subscribers.
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       "localhost:50061",
		ReprojectedTopic: "reprojected_sweep",
		RangeImageTopic:  "range_image",
		ClientBuffer:     4,
		MaxClients:       8,
	}
}

// Publisher fans debug artifacts out to subscribed viewers. It implements
// pipeline.DebugPublisher.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	clients   map[uint64]*subscriber
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	published   atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type subscriber struct {
	id    uint64
	topic string
	ch    chan []byte
}

// NewPublisher creates a Publisher. Zero ClientBuffer and MaxClients fall
// back to DefaultConfig values.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	return &Publisher{
		config:  cfg,
		clients: make(map[uint64]*subscriber),
		stopCh:  make(chan struct{}),
	}
}

// Start listens on Config.ListenAddr and serves the debug stream.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the debug stream on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	const maxMsgSize = 16 * 1024 * 1024 // 16 MB
	p.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	p.Register(p.server)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		diagf("debug stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			opsf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Register attaches the debug stream service to s.
func (p *Publisher) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&debugStreamServiceDesc, p)
}

// Stop ends every subscription and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	if p.server != nil {
		p.server.GracefulStop()
	}
	p.wg.Wait()
	diagf("debug stream stopped")
}

func (p *Publisher) hasSubscribers(topic string) bool {
	if topic == "" {
		return false
	}
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		if c.topic == topic {
			return true
		}
	}
	return false
}

// WantsReprojected reports whether the reprojected topic is enabled and has
// at least one subscriber.
func (p *Publisher) WantsReprojected() bool { return p.hasSubscribers(p.config.ReprojectedTopic) }

// WantsRangeImage reports whether the range image topic is enabled and has
// at least one subscriber.
func (p *Publisher) WantsRangeImage() bool { return p.hasSubscribers(p.config.RangeImageTopic) }

// PublishReprojected sends the world-frame points of sweep.
func (p *Publisher) PublishReprojected(sweep *l2frames.ResolvedSweep) error {
	if p.config.ReprojectedTopic == "" {
		return nil
	}
	p.broadcast(p.config.ReprojectedTopic, EncodeArtifact(debug.ReprojectedSweep(sweep)))
	return nil
}

// PublishRangeImage sends image stamped at stamp.
func (p *Publisher) PublishRangeImage(stamp int64, image *projection.RangeImage) error {
	if p.config.RangeImageTopic == "" {
		return nil
	}
	a, err := debug.RangeImage(stamp, image, p.config.RenderRangeImagePNG)
	if err != nil {
		return fmt.Errorf("range image artifact: %w", err)
	}
	p.broadcast(p.config.RangeImageTopic, EncodeArtifact(a))
	return nil
}

func (p *Publisher) broadcast(topic string, msg []byte) {
	p.published.Add(1)
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		if c.topic != topic {
			continue
		}
		select {
		case c.ch <- msg:
			tracef("sent %d bytes on %s to client %d", len(msg), topic, c.id)
		default:
			p.dropped.Add(1)
		}
	}
}

func (p *Publisher) addClient(topic string) (*subscriber, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("%d clients already subscribed", len(p.clients))
	}
	c := &subscriber{
		id:    p.nextID.Add(1),
		topic: topic,
		ch:    make(chan []byte, p.config.ClientBuffer),
	}
	p.clients[c.id] = c
	p.clientCount.Add(1)
	diagf("client %d subscribed to %s (total: %d)", c.id, topic, p.clientCount.Load())
	return c, nil
}

func (p *Publisher) removeClient(id uint64) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; !ok {
		return
	}
	delete(p.clients, id)
	p.clientCount.Add(-1)
	diagf("client %d disconnected (remaining: %d)", id, p.clientCount.Load())
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Clients:   p.clientCount.Load(),
		Running:   p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Clients   int32  `json:"clients"`
	Running   bool   `json:"running"`
}
