package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"campaign-spend/models"
	"campaign-spend/utils"
)

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Run is one publish of the merged table and its summaries.
type Run struct {
	ID          string
	MergedRows  int
	Summaries   int
	Correlation sql.NullFloat64
}

// SQLWriter persists published runs to PostgreSQL or SQLite.
type SQLWriter struct {
	db     *sql.DB
	driver string
}

// NewSQLWriter opens the database, waits for it to answer pings, runs
// schema migrations and returns a ready-to-use SQLWriter.
func NewSQLWriter(ctx context.Context, driver, dsn string, retry *utils.RetryConfig) (*SQLWriter, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("sql: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := retry.Do(ctx, driver+" ping", func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping failed after retries: %w", driver, err)
	}

	w := &SQLWriter{db: db, driver: driver}
	if err := w.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", driver, err)
	}
	return w, nil
}

func (w *SQLWriter) migrate(ctx context.Context) error {
	spendType, timeType, floatType := "NUMERIC", "TIMESTAMPTZ", "DOUBLE PRECISION"
	if w.driver == DriverSQLite {
		spendType, timeType, floatType = "TEXT", "TEXT", "REAL"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			created_at   %s NOT NULL,
			merged_rows  INTEGER NOT NULL,
			summaries    INTEGER NOT NULL,
			correlation  %s
		)`, timeType, floatType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS merged_rows (
			run_id        TEXT NOT NULL REFERENCES runs(id),
			position      INTEGER NOT NULL,
			state         TEXT,
			location_name TEXT,
			spend         %s,
			polled        %s,
			phase         TEXT,
			PRIMARY KEY (run_id, position)
		)`, spendType, floatType),
		`CREATE TABLE IF NOT EXISTS view_summaries (
			run_id   TEXT NOT NULL REFERENCES runs(id),
			view     TEXT NOT NULL,
			position INTEGER NOT NULL,
			cells    TEXT NOT NULL,
			PRIMARY KEY (run_id, view, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_merged_rows_state ON merged_rows(state)`,
		`CREATE INDEX IF NOT EXISTS idx_view_summaries_view ON view_summaries(view)`,
	}
	for _, stmt := range stmts {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// WriteRun stores the merged table and every summary under a new run id in
// a single transaction and returns the run.
func (w *SQLWriter) WriteRun(ctx context.Context, merged *models.MergedTable, correlation sql.NullFloat64, summaries []Summary) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		MergedRows:  len(merged.Rows),
		Summaries:   len(summaries),
		Correlation: correlation,
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", w.driver, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		w.rebind("INSERT INTO runs (id, created_at, merged_rows, summaries, correlation) VALUES (?, ?, ?, ?, ?)"),
		run.ID, time.Now().UTC().Format(time.RFC3339), run.MergedRows, run.Summaries, correlation)
	if err != nil {
		return nil, fmt.Errorf("%s: insert run: %w", w.driver, err)
	}

	const batchSize = 100
	for i := 0; i < len(merged.Rows); i += batchSize {
		end := min(i+batchSize, len(merged.Rows))
		if err := w.insertMergedBatch(ctx, tx, run.ID, i, merged.Rows[i:end]); err != nil {
			return nil, fmt.Errorf("%s: insert merged rows: %w", w.driver, err)
		}
	}

	for _, s := range summaries {
		if err := w.insertSummary(ctx, tx, run.ID, s); err != nil {
			return nil, fmt.Errorf("%s: insert %s: %w", w.driver, s.View, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", w.driver, err)
	}
	return run, nil
}

func (w *SQLWriter) insertMergedBatch(ctx context.Context, tx *sql.Tx, runID string, offset int, batch []*models.MergedRow) error {
	const cols = 7
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*cols)

	for idx, r := range batch {
		valueStrings = append(valueStrings, "(?, ?, ?, ?, ?, ?, ?)")
		valueArgs = append(valueArgs,
			runID, offset+idx, r.State, r.LocationName(), r.Spend, r.Polled, r.Phase)
	}

	query := fmt.Sprintf(`
		INSERT INTO merged_rows (run_id, position, state, location_name, spend, polled, phase)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	_, err := tx.ExecContext(ctx, w.rebind(query), valueArgs...)
	return err
}

func (w *SQLWriter) insertSummary(ctx context.Context, tx *sql.Tx, runID string, s Summary) error {
	stmt, err := tx.PrepareContext(ctx,
		w.rebind("INSERT INTO view_summaries (run_id, view, position, cells) VALUES (?, ?, ?, ?)"))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range s.Table.Records() {
		cells, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, runID, s.View, i, string(cells)); err != nil {
			return err
		}
	}
	return nil
}

// FetchRun reads back the run header.
func (w *SQLWriter) FetchRun(ctx context.Context, runID string) (*Run, error) {
	run := &Run{ID: runID}
	err := w.db.QueryRowContext(ctx,
		w.rebind("SELECT merged_rows, summaries, correlation FROM runs WHERE id = ?"), runID,
	).Scan(&run.MergedRows, &run.Summaries, &run.Correlation)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch run %s: %w", w.driver, runID, err)
	}
	return run, nil
}

// FetchSummary returns the stored records of one view in their original
// order.
func (w *SQLWriter) FetchSummary(ctx context.Context, runID, view string) ([][]string, error) {
	rows, err := w.db.QueryContext(ctx,
		w.rebind("SELECT cells FROM view_summaries WHERE run_id = ? AND view = ? ORDER BY position"),
		runID, view)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch summary: %w", w.driver, err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", w.driver, err)
		}
		var rec []string
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("%s: decode cells: %w", w.driver, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountMerged returns how many merged rows a run stored.
func (w *SQLWriter) CountMerged(ctx context.Context, runID string) (int, error) {
	var n int
	err := w.db.QueryRowContext(ctx,
		w.rebind("SELECT COUNT(*) FROM merged_rows WHERE run_id = ?"), runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s: count merged rows: %w", w.driver, err)
	}
	return n, nil
}

// Verify checks that what the store holds for run matches summaries.
func (w *SQLWriter) Verify(ctx context.Context, run *Run, summaries []Summary) error {
	n, err := w.CountMerged(ctx, run.ID)
	if err != nil {
		return err
	}
	if n != run.MergedRows {
		return fmt.Errorf("%s: run %s holds %d merged rows, wrote %d", w.driver, run.ID, n, run.MergedRows)
	}

	for _, s := range summaries {
		stored, err := w.FetchSummary(ctx, run.ID, s.View)
		if err != nil {
			return err
		}
		want := s.Table.Records()
		if len(stored) != len(want) {
			return fmt.Errorf("%s: %s holds %d rows, wrote %d", w.driver, s.View, len(stored), len(want))
		}
		for i := range want {
			if strings.Join(stored[i], "\x1f") != strings.Join(want[i], "\x1f") {
				return fmt.Errorf("%s: %s row %d differs: %v != %v", w.driver, s.View, i, stored[i], want[i])
			}
		}
	}
	return nil
}

func (w *SQLWriter) Close() error {
	return w.db.Close()
}

// rebind rewrites ? placeholders to $N for PostgreSQL.
func (w *SQLWriter) rebind(query string) string {
	if w.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
