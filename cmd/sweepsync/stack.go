package main

import (
	"fmt"
	"math"
	"net/http"
	"os"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sweepsync/internal/config"
	"github.com/banshee-data/sweepsync/internal/lidar/l1packets/livox"
	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
	"github.com/banshee-data/sweepsync/internal/lidar/monitor"
	"github.com/banshee-data/sweepsync/internal/lidar/pipeline"
	"github.com/banshee-data/sweepsync/internal/lidar/projection"
	"github.com/banshee-data/sweepsync/internal/lidar/storage/sqlite"
	"github.com/banshee-data/sweepsync/internal/lidar/tf"
	"github.com/banshee-data/sweepsync/internal/lidar/visualiser"
	"github.com/banshee-data/sweepsync/internal/monitoring"
)

// defaultLivoxFrame is the frame id the Livox driver stamps on its messages.
const defaultLivoxFrame = "livox_frame"

// stack is everything run and replay share: the pose history, the pipeline
// and its consumers and observers.
type stack struct {
	cfg        *config.Config
	poses      *tf.Buffer
	rangeImage *projection.RangeImageIntegrator
	pipeline   *pipeline.Pipeline
	timing     *monitor.TimingStats
	packets    *monitor.PacketStats
	ledger     *sqlite.Ledger        // nil when ledger.path is empty
	publisher  *visualiser.Publisher // nil when no debug topic is set
}

func buildStack(cfg *config.Config) (*stack, error) {
	s := &stack{
		cfg:     cfg,
		timing:  monitor.NewTimingStats(0),
		packets: monitor.NewPacketStats(nil),
	}

	poses, err := loadPoseHistory(cfg)
	if err != nil {
		return nil, err
	}
	s.poses = poses

	var integrators []pipeline.Integrator
	if cfg.GetRangeImageEnabled() {
		s.rangeImage, err = projection.NewRangeImageIntegrator(projection.SphericalProjector{
			Width:        cfg.GetRangeImageWidth(),
			Height:       cfg.GetRangeImageHeight(),
			MinElevation: cfg.GetRangeImageMinElevationDeg() * math.Pi / 180,
			MaxElevation: cfg.GetRangeImageMaxElevationDeg() * math.Pi / 180,
		}, cfg.GetRangeImageMinRange(), cfg.GetRangeImageMaxRange())
		if err != nil {
			return nil, fmt.Errorf("range image: %w", err)
		}
		integrators = append(integrators, s.rangeImage)
	}

	observers := []pipeline.Observer{s.timing}
	if path := cfg.GetLedgerPath(); path != "" {
		if s.ledger, err = sqlite.Open(path); err != nil {
			return nil, err
		}
		observers = append(observers, s.ledger)
	}

	pcfg := pipeline.Config{
		WorldFrame:      cfg.GetWorldFrame(),
		UndistortMotion: cfg.GetUndistortMotion(),
		MaxWaitForPose:  cfg.GetMaxWaitForPose(),
		Normalizer: l2frames.Normalizer{
			SensorFrameID: cfg.GetSensorFrameID(),
			TimeOffset:    cfg.GetTimeOffset(),
		},
		Provider:    s.poses,
		Integrators: integrators,
		Observers:   observers,
	}
	if cfg.GetReprojectedTopic() != "" || cfg.GetRangeImageTopic() != "" {
		s.publisher = visualiser.NewPublisher(visualiser.Config{
			ListenAddr:          cfg.GetDebugGRPCAddr(),
			ReprojectedTopic:    cfg.GetReprojectedTopic(),
			RangeImageTopic:     cfg.GetRangeImageTopic(),
			RenderRangeImagePNG: cfg.GetRenderRangeImagePNG(),
		})
		pcfg.DebugPublisher = s.publisher
	}

	if s.pipeline, err = pipeline.New(pcfg); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// loadPoseHistory seeds a transform buffer with the configured static edges
// and the optional pose log. A pose log is a finite recording, so retention
// is disabled when one is loaded.
func loadPoseHistory(cfg *config.Config) (*tf.Buffer, error) {
	bcfg := tf.BufferConfig{
		Retention:                 cfg.GetPoseRetention(),
		NumInterpolationIntervals: cfg.GetNumInterpolationIntervals(),
	}
	if cfg.GetPoseFile() != "" {
		bcfg.Retention = 0
	}
	buf := tf.NewBuffer(bcfg)

	for _, st := range cfg.PoseHistory.StaticTransforms {
		q := quat.Number{Real: st.RotationWXYZ[0], Imag: st.RotationWXYZ[1], Jmag: st.RotationWXYZ[2], Kmag: st.RotationWXYZ[3]}
		t := r3.Vec{X: st.Translation[0], Y: st.Translation[1], Z: st.Translation[2]}
		if err := buf.SetStatic(st.Parent, st.Child, tf.NewTransform(q, t)); err != nil {
			return nil, fmt.Errorf("static transform %s -> %s: %w", st.Parent, st.Child, err)
		}
	}

	if path := cfg.GetPoseFile(); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open pose file: %w", err)
		}
		defer f.Close()
		n, err := buf.LoadCSV(f, cfg.GetWorldFrame(), cfg.GetPoseFileChild())
		if err != nil {
			return nil, fmt.Errorf("failed to load pose file %s: %w", path, err)
		}
		monitoring.Logf("loaded %d poses %s -> %s from %s", n, cfg.GetWorldFrame(), cfg.GetPoseFileChild(), path)
	}
	return buf, nil
}

// newAssembler builds the Livox frame assembler that feeds fn.
func (s *stack) newAssembler(fn livox.FrameFunc) *livox.Assembler {
	frame := s.cfg.GetSensorFrameID()
	if frame == "" {
		frame = defaultLivoxFrame
	}
	return livox.NewAssembler(frame, s.cfg.GetFramePeriod(), fn)
}

// debugMux returns the debug HTTP surface for this stack.
func (s *stack) debugMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	o := monitor.Options{
		Pipeline: s.pipeline,
		Timing:   s.timing,
		Packets:  s.packets,
	}
	if s.ledger != nil {
		o.Ledger = s.ledger
		o.LedgerDB = s.ledger.DB
		o.LedgerPath = s.cfg.GetLedgerPath()
	}
	if err := monitor.AttachDebugRoutes(mux, o); err != nil {
		return nil, err
	}
	return mux, nil
}

func (s *stack) close() {
	if s.publisher != nil {
		s.publisher.Stop()
	}
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			monitoring.Logf("failed to close ledger: %v", err)
		}
	}
}
