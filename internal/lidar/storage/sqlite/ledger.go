package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/sweepsync/internal/lidar/pipeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Outcome values stored in the outcome column.
const (
	OutcomeDispatched = "dispatched"
	OutcomeDropped    = "dropped"
)

// Ledger records sweep outcomes. It implements pipeline.Observer.
type Ledger struct {
	DB  *sql.DB
	now func() time.Time
}

// Record is one ledger row.
type Record struct {
	SweepID     string        `json:"sweep_id"`
	SensorFrame string        `json:"sensor_frame"`
	StartNS     int64         `json:"start_ns"`
	EndNS       int64         `json:"end_ns"`
	Points      int           `json:"points"`
	Outcome     string        `json:"outcome"`
	Reason      string        `json:"reason,omitempty"`
	Integration time.Duration `json:"integration_ns"`
	RecordedAt  time.Time     `json:"recorded_at"`
}

// Open opens (creating if needed) the ledger at path and migrates it to the
// latest schema.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	l := &Ledger{DB: db, now: time.Now}
	if err := l.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	diagf("opened ledger %s", path)
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.DB.Close() }

func (l *Ledger) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(l.DB, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// MigrateUp runs all pending migrations. It returns nil when the schema is
// already current.
func (l *Ledger) MigrateUp() error {
	m, err := l.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the underlying DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty state, or
// 0, false, nil before any migration ran.
func (l *Ledger) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := l.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) { diagf("[migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                          { return false }

// Insert writes r. A zero RecordedAt is stamped with the current time.
func (l *Ledger) Insert(r Record) error {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = l.now()
	}
	_, err := l.DB.Exec(`
		INSERT INTO sweeps (sweep_id, sensor_frame, start_ns, end_ns, points, outcome, reason, integration_ns, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SweepID, r.SensorFrame, r.StartNS, r.EndNS, r.Points, r.Outcome, r.Reason,
		r.Integration.Nanoseconds(), r.RecordedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert sweep %s: %w", r.SweepID, err)
	}
	tracef("recorded sweep %s as %s", r.SweepID, r.Outcome)
	return nil
}

func recordOf(info pipeline.SweepInfo, outcome string) Record {
	return Record{
		SweepID:     info.ID,
		SensorFrame: info.SensorFrame,
		StartNS:     info.StartTime,
		EndNS:       info.EndTime,
		Points:      info.Points,
		Outcome:     outcome,
	}
}

// SweepDispatched records a dispatched sweep with its integration time.
func (l *Ledger) SweepDispatched(info pipeline.SweepInfo, integration time.Duration) {
	r := recordOf(info, OutcomeDispatched)
	r.Integration = integration
	if err := l.Insert(r); err != nil {
		opsf("ledger write failed: %v", err)
	}
}

// SweepDropped records a dropped sweep and why.
func (l *Ledger) SweepDropped(info pipeline.SweepInfo, reason pipeline.DropReason) {
	r := recordOf(info, OutcomeDropped)
	r.Reason = reason.String()
	if err := l.Insert(r); err != nil {
		opsf("ledger write failed: %v", err)
	}
}

// Recent returns up to limit rows, newest first.
func (l *Ledger) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.DB.Query(`
		SELECT sweep_id, sensor_frame, start_ns, end_ns, points, outcome, reason, integration_ns, recorded_at
		FROM sweeps
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent sweeps: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var integrationNS, recordedNS int64
		if err := rows.Scan(&r.SweepID, &r.SensorFrame, &r.StartNS, &r.EndNS, &r.Points,
			&r.Outcome, &r.Reason, &integrationNS, &recordedNS); err != nil {
			return nil, fmt.Errorf("scan sweep: %w", err)
		}
		r.Integration = time.Duration(integrationNS)
		r.RecordedAt = time.Unix(0, recordedNS)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByOutcome returns row counts keyed by "dispatched" and by
// "dropped/<reason>".
func (l *Ledger) CountByOutcome() (map[string]int, error) {
	rows, err := l.DB.Query(`SELECT outcome, reason, COUNT(*) FROM sweeps GROUP BY outcome, reason`)
	if err != nil {
		return nil, fmt.Errorf("count sweeps: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome, reason string
		var n int
		if err := rows.Scan(&outcome, &reason, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		key := outcome
		if reason != "" {
			key += "/" + reason
		}
		counts[key] = n
	}
	return counts, rows.Err()
}
