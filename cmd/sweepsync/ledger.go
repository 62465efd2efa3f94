package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/banshee-data/sweepsync/internal/lidar/storage/sqlite"
)

// LedgerOptions holds flags for the ledger command.
type LedgerOptions struct {
	*RootOptions
	Recent int
	JSON   bool
}

// LedgerReport is the JSON form of the ledger command output.
type LedgerReport struct {
	Path   string          `json:"path"`
	Counts map[string]int  `json:"counts"`
	Recent []sqlite.Record `json:"recent,omitempty"`
}

// NewLedgerCommand creates the ledger command.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Summarise sweep outcomes recorded in the ledger",
		Long: `Print how many sweeps were dispatched and how many were dropped for each
reason, from the sqlite ledger at ledger.path.

Examples:
  sweepsync ledger -c sweepsync.yaml
  sweepsync ledger -c sweepsync.yaml --recent 20 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Recent, "recent", 0, "also list the N most recent sweeps")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON")

	return cmd
}

func runLedger(cmd *cobra.Command, opts *LedgerOptions) error {
	path := opts.Config.GetLedgerPath()
	if path == "" {
		return errors.New("ledger.path is empty; the ledger is disabled")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("ledger %s: %w", path, err)
	}

	l, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()

	report := LedgerReport{Path: path}
	if report.Counts, err = l.CountByOutcome(); err != nil {
		return err
	}
	if opts.Recent > 0 {
		if report.Recent, err = l.Recent(opts.Recent); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	keys := make([]string, 0, len(report.Counts))
	total := 0
	for k, n := range report.Counts {
		keys = append(keys, k)
		total += n
	}
	sort.Strings(keys)

	fmt.Fprintf(out, "%s: %d sweeps\n", path, total)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-40s %d\n", k, report.Counts[k])
	}
	for _, r := range report.Recent {
		line := fmt.Sprintf("  %s %s start=%d points=%d %s", r.RecordedAt.Format("15:04:05.000"), r.SweepID, r.StartNS, r.Points, r.Outcome)
		if r.Reason != "" {
			line += "/" + r.Reason
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
