// Package sqlite contains the SQLite sweep ledger.
//
// Every sweep the pipeline dispatches or drops leaves one row here, so the
// outcome history can be inspected with SQL after the fact. The schema is
// managed with embedded golang-migrate migrations.
package sqlite
