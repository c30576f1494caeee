package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chazu/bcopt/info"
)

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id       TEXT PRIMARY KEY,
	started  INTEGER NOT NULL,
	elapsed  INTEGER NOT NULL,
	classes  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	seq      INTEGER NOT NULL,
	pass     TEXT NOT NULL,
	class    TEXT NOT NULL,
	method   TEXT NOT NULL,
	pc       INTEGER NOT NULL,
	detail   TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE TABLE IF NOT EXISTS facts (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	element  TEXT NOT NULL,
	kind     TEXT NOT NULL,
	kept     INTEGER NOT NULL,
	editable INTEGER NOT NULL,
	PRIMARY KEY (run_id, element)
);
`

// SQLiteSink stores reports in a SQLite database, one row per run and per
// record, so that runs can be compared with SQL.
type SQLiteSink struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &SQLiteSink{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Write stores r in one transaction. Writing a run ID twice replaces it.
func (s *SQLiteSink) Write(ctx context.Context, r *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{"DELETE FROM facts WHERE run_id = ?", "DELETE FROM records WHERE run_id = ?", "DELETE FROM runs WHERE id = ?"} {
		if _, err := tx.ExecContext(ctx, q, r.RunID); err != nil {
			return fmt.Errorf("replacing run %s: %w", r.RunID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (id, started, elapsed, classes) VALUES (?, ?, ?, ?)",
		r.RunID, r.Started.Unix(), int64(r.Elapsed), r.Classes,
	); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}

	rec, err := tx.PrepareContext(ctx, "INSERT INTO records (run_id, seq, pass, class, method, pc, detail) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing records: %w", err)
	}
	defer rec.Close()
	for i, x := range r.Records {
		if _, err := rec.ExecContext(ctx, r.RunID, i, x.Pass, x.Class, x.Method, x.Offset, x.Detail); err != nil {
			return fmt.Errorf("saving record: %w", err)
		}
	}

	fact, err := tx.PrepareContext(ctx, "INSERT INTO facts (run_id, element, kind, kept, editable) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing facts: %w", err)
	}
	defer fact.Close()
	for _, f := range r.Facts {
		if _, err := fact.ExecContext(ctx, r.RunID, f.Element, f.Kind, f.Kept, f.Editable); err != nil {
			return fmt.Errorf("saving fact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", r.RunID, err)
	}
	log.Infof("stored run %s in %s", r.RunID, s.path)
	return nil
}

// Load reads the run with the given ID back into a report.
func (s *SQLiteSink) Load(ctx context.Context, runID string) (*Report, error) {
	r := &Report{RunID: runID}
	var started, elapsed int64
	err := s.db.QueryRowContext(ctx, "SELECT started, elapsed, classes FROM runs WHERE id = ?", runID).
		Scan(&started, &elapsed, &r.Classes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	r.Started = time.Unix(started, 0)
	r.Elapsed = time.Duration(elapsed)

	rows, err := s.db.QueryContext(ctx, "SELECT pass, class, method, pc, detail FROM records WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var x Record
		if err := rows.Scan(&x.Pass, &x.Class, &x.Method, &x.Offset, &x.Detail); err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		r.Records = append(r.Records, x)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	frows, err := s.db.QueryContext(ctx, "SELECT element, kind, kept, editable FROM facts WHERE run_id = ? ORDER BY rowid", runID)
	if err != nil {
		return nil, fmt.Errorf("querying facts: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var f info.Fact
		if err := frows.Scan(&f.Element, &f.Kind, &f.Kept, &f.Editable); err != nil {
			return nil, fmt.Errorf("reading fact: %w", err)
		}
		r.Facts = append(r.Facts, f)
	}
	return r, frows.Err()
}

// PassCount is the number of records of one pass in a run.
type PassCount struct {
	Pass  string
	Count int
}

// Summary returns the record count per pass of a run, by pass name.
func (s *SQLiteSink) Summary(ctx context.Context, runID string) ([]PassCount, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT pass, COUNT(*) FROM records WHERE run_id = ? GROUP BY pass ORDER BY pass", runID)
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}
	defer rows.Close()
	var out []PassCount
	for rows.Next() {
		var pc PassCount
		if err := rows.Scan(&pc.Pass, &pc.Count); err != nil {
			return nil, fmt.Errorf("reading summary: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// Runs returns the IDs of the stored runs, oldest first.
func (s *SQLiteSink) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM runs ORDER BY started, rowid")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
