// Package monitor exposes the sweep pipeline's debug surface: input
// throughput, integration timing, outcome counts and live SQL over the
// sweep ledger, all mounted under /debug/ via tsweb.
package monitor

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/sweepsync/internal/lidar/pipeline"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// PipelineStats is satisfied by *pipeline.Pipeline.
type PipelineStats interface {
	Stats() pipeline.Stats
}

// OutcomeCounter is satisfied by the sqlite ledger.
type OutcomeCounter interface {
	CountByOutcome() (map[string]int, error)
}

// Options selects what the debug routes expose. Nil fields are omitted.
type Options struct {
	Pipeline PipelineStats
	Timing   *TimingStats
	Packets  *PacketStats
	Ledger   OutcomeCounter

	// LedgerDB and LedgerPath enable /debug/tailsql/.
	LedgerDB   *sql.DB
	LedgerPath string
}

// SweepsReport is the JSON body of /debug/sweeps.
type SweepsReport struct {
	Pipeline *pipeline.Stats `json:"pipeline,omitempty"`
	Timing   *TimingSummary  `json:"timing,omitempty"`
	Input    *StatsSnapshot  `json:"input,omitempty"`
	Ledger   map[string]int  `json:"ledger,omitempty"`
}

// AttachDebugRoutes mounts the debug handlers on mux under /debug/.
func AttachDebugRoutes(mux *http.ServeMux, o Options) error {
	debug := tsweb.Debugger(mux)

	debug.Handle("sweeps", "Sweep pipeline counters and integration timing (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report, err := o.report()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			opsf("encode sweeps report: %v", err)
		}
	}))

	if o.Timing != nil {
		debug.Handle("sweeps/timings", "Integration time per sweep (chart)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handleTimingChart(w, o.Timing)
		}))
	}

	if o.LedgerDB != nil {
		tsql, err := tailsql.NewServer(tailsql.Options{
			RoutePrefix: "/debug/tailsql/",
		})
		if err != nil {
			return fmt.Errorf("failed to create tailsql server: %w", err)
		}
		tsql.SetDB("sqlite://"+o.LedgerPath, o.LedgerDB, &tailsql.DBOptions{
			Label: "Sweep ledger",
		})
		debug.Handle("tailsql/", "SQL live debugging of the sweep ledger", tsql.NewMux())
	}
	return nil
}

func (o Options) report() (*SweepsReport, error) {
	var r SweepsReport
	if o.Pipeline != nil {
		s := o.Pipeline.Stats()
		r.Pipeline = &s
	}
	if o.Timing != nil {
		s := o.Timing.Summary()
		r.Timing = &s
	}
	if o.Packets != nil {
		r.Input = o.Packets.GetLatestSnapshot()
	}
	if o.Ledger != nil {
		counts, err := o.Ledger.CountByOutcome()
		if err != nil {
			return nil, fmt.Errorf("ledger counts: %w", err)
		}
		r.Ledger = counts
	}
	return &r, nil
}

func handleTimingChart(w http.ResponseWriter, ts *TimingStats) {
	samples := ts.Samples()
	summary := ts.Summary()

	x := make([]int, len(samples))
	y := make([]opts.LineData, len(samples))
	for i, s := range samples {
		x[i] = i
		y[i] = opts.LineData{Value: s * 1000}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sweep integration time", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Integration time per sweep",
			Subtitle: fmt.Sprintf("n=%d mean=%.2fms p95=%.2fms max=%.2fms", summary.Count, summary.MeanSec*1000, summary.P95Sec*1000, summary.MaxSec*1000),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sweep", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).AddSeries("integration", y)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
