package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sweepsync/internal/lidar/pipeline"
	"github.com/banshee-data/sweepsync/internal/lidar/storage/sqlite"
)

var _ pipeline.Observer = (*TimingStats)(nil)

func TestTimingStatsSummary(t *testing.T) {
	t.Parallel()
	ts := NewTimingStats(0)
	assert.Equal(t, TimingSummary{Dropped: map[string]uint64{}}, ts.Summary())

	for _, ms := range []int{10, 20, 30, 40} {
		ts.SweepDispatched(pipeline.SweepInfo{}, time.Duration(ms)*time.Millisecond)
	}
	ts.SweepDropped(pipeline.SweepInfo{}, pipeline.PoseTimeout)
	ts.SweepDropped(pipeline.SweepInfo{}, pipeline.PoseTimeout)

	s := ts.Summary()
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, uint64(4), s.Dispatched)
	assert.InDelta(t, 0.025, s.MeanSec, 1e-12)
	assert.InDelta(t, 0.0129099, s.StdDevSec, 1e-6)
	assert.InDelta(t, 0.040, s.P95Sec, 1e-12)
	assert.InDelta(t, 0.040, s.MaxSec, 1e-12)
	assert.InDelta(t, 0.040, s.LastSec, 1e-12)
	assert.Equal(t, map[string]uint64{"pose_timeout": 2}, s.Dropped)
}

func TestTimingStatsSingleSample(t *testing.T) {
	t.Parallel()
	ts := NewTimingStats(4)
	ts.SweepDispatched(pipeline.SweepInfo{}, time.Second)
	s := ts.Summary()
	assert.Equal(t, 1.0, s.MeanSec)
	assert.Zero(t, s.StdDevSec)
}

func TestTimingStatsWindowWraps(t *testing.T) {
	t.Parallel()
	ts := NewTimingStats(3)
	for i := 1; i <= 5; i++ {
		ts.SweepDispatched(pipeline.SweepInfo{}, time.Duration(i)*time.Second)
	}
	assert.Equal(t, []float64{3, 4, 5}, ts.Samples())
	s := ts.Summary()
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, uint64(5), s.Dispatched)
	assert.Equal(t, 5.0, s.LastSec)
}

type fixedStats pipeline.Stats

func (f fixedStats) Stats() pipeline.Stats { return pipeline.Stats(f) }

type failingCounter struct{}

func (failingCounter) CountByOutcome() (map[string]int, error) { return nil, errors.New("db closed") }

func serve(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	// tsweb only serves debug handlers to loopback and tailnet peers.
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSweepsReport(t *testing.T) {
	t.Parallel()
	ledger, err := sqlite.Open(filepath.Join(t.TempDir(), "sweeps.db"))
	require.NoError(t, err)
	defer ledger.Close()
	ledger.SweepDropped(pipeline.SweepInfo{ID: "a", SensorFrame: "lidar"}, pipeline.EndTimeTimeout)

	timing := NewTimingStats(8)
	timing.SweepDispatched(pipeline.SweepInfo{}, 2*time.Millisecond)

	mux := http.NewServeMux()
	require.NoError(t, AttachDebugRoutes(mux, Options{
		Pipeline:   fixedStats{Received: 3, Dispatched: 1, Dropped: 1, Queued: 1},
		Timing:     timing,
		Packets:    NewPacketStats(nil),
		Ledger:     ledger,
		LedgerDB:   ledger.DB,
		LedgerPath: "sweeps.db",
	}))

	rec := serve(t, mux, "/debug/sweeps")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got SweepsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Pipeline)
	assert.Equal(t, uint64(3), got.Pipeline.Received)
	assert.Equal(t, 1, got.Pipeline.Queued)
	require.NotNil(t, got.Timing)
	assert.Equal(t, 1, got.Timing.Count)
	assert.Nil(t, got.Input)
	assert.Equal(t, map[string]int{"dropped/end_time_timeout": 1}, got.Ledger)

	rec = serve(t, mux, "/debug/tailsql/")
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
}

func TestSweepsReportLedgerError(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	require.NoError(t, AttachDebugRoutes(mux, Options{Ledger: failingCounter{}}))

	rec := serve(t, mux, "/debug/sweeps")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "db closed")
}

func TestTimingChart(t *testing.T) {
	t.Parallel()
	timing := NewTimingStats(8)
	for i := 0; i < 3; i++ {
		timing.SweepDispatched(pipeline.SweepInfo{}, time.Duration(i+1)*time.Millisecond)
	}
	mux := http.NewServeMux()
	require.NoError(t, AttachDebugRoutes(mux, Options{Timing: timing}))

	rec := serve(t, mux, "/debug/sweeps/timings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "Integration time per sweep")
}
