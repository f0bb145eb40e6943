package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/funnel-sync/internal/db"
	"github.com/sells-group/funnel-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db        *sql.DB
	upsertSQL string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	upsertSQL, err := db.BuildUpsertSQL(sqliteFunnelUpsert)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build upsert")
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn, upsertSQL: upsertSQL}, nil
}

// Dates are TEXT in ISO form so the unique key compares calendar dates.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS funnel_metrics (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	start_date      TEXT NOT NULL,
	end_date        TEXT NOT NULL,
	funnel_id       TEXT NOT NULL,
	funnel_name     TEXT NOT NULL,
	account_id      TEXT NOT NULL DEFAULT '',
	amount_spent    TEXT NOT NULL DEFAULT '0',
	impressions     INTEGER NOT NULL DEFAULT 0,
	reach           INTEGER NOT NULL DEFAULT 0,
	ads_link_clicks INTEGER NOT NULL DEFAULT 0,
	frequency       REAL NOT NULL DEFAULT 0,
	link_ctr        REAL,
	is_current_week INTEGER NOT NULL DEFAULT 0,
	updated_at      DATETIME NOT NULL,
	UNIQUE (start_date, end_date, funnel_id)
);

CREATE INDEX IF NOT EXISTS idx_funnel_metrics_funnel_id ON funnel_metrics(funnel_id);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	triggered_by TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	window_start TEXT NOT NULL,
	window_end   TEXT NOT NULL,
	counts       TEXT NOT NULL DEFAULT '{}',
	error        TEXT,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteFunnelUpsert carries updated_at as a bound value; SQLite's
// CURRENT_TIMESTAMP text would not round-trip as a DATETIME.
var sqliteFunnelUpsert = db.UpsertConfig{
	Table:        funnelUpsert.Table,
	Columns:      append(append([]string{}, funnelColumns...), "updated_at"),
	ConflictKeys: funnelUpsert.ConflictKeys,
}

func isoDate(t time.Time) any { return t.Format(model.DateLayout) }

func (s *SQLiteStore) UpsertFunnel(ctx context.Context, row model.FunnelRow) error {
	if err := validateRow(row); err != nil {
		return err
	}
	values := append(funnelValues(row, isoDate), time.Now().UTC())
	if _, err := s.db.ExecContext(ctx, s.upsertSQL, values...); err != nil {
		return eris.Wrapf(err, "sqlite: upsert funnel %s", row.Key)
	}
	return nil
}

func (s *SQLiteStore) ListFunnels(ctx context.Context, filter FunnelFilter) ([]model.FunnelRow, error) {
	query := `SELECT start_date, end_date, funnel_id, funnel_name, account_id, amount_spent,
		impressions, reach, ads_link_clicks, frequency, link_ctr, is_current_week, updated_at
		FROM funnel_metrics WHERE 1=1`
	var args []any

	if !filter.StartDate.IsZero() {
		query += ` AND start_date >= ?`
		args = append(args, filter.StartDate.Format(model.DateLayout))
	}
	if !filter.EndDate.IsZero() {
		query += ` AND end_date <= ?`
		args = append(args, filter.EndDate.Format(model.DateLayout))
	}
	if filter.FunnelID != "" {
		query += ` AND funnel_id = ?`
		args = append(args, filter.FunnelID)
	}
	query += ` ORDER BY start_date DESC, end_date DESC, funnel_id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list funnels")
	}
	defer rows.Close()

	var out []model.FunnelRow
	for rows.Next() {
		r, err := scanSQLiteFunnel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list funnels iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteFunnel(row scannable) (*model.FunnelRow, error) {
	var r model.FunnelRow
	var start, end, amount string
	var ctr sql.NullFloat64

	if err := row.Scan(&start, &end, &r.Key.FunnelID, &r.FunnelName, &r.AccountID, &amount,
		&r.Impressions, &r.Reach, &r.AdsLinkClicks, &r.Frequency, &ctr, &r.IsCurrentWeek, &r.UpdatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan funnel")
	}

	var err error
	if r.Key.StartDate, err = model.ParseDate(start); err != nil {
		return nil, err
	}
	if r.Key.EndDate, err = model.ParseDate(end); err != nil {
		return nil, err
	}
	if r.AmountSpent, err = decimal.NewFromString(amount); err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse amount_spent of %s", r.Key)
	}
	if ctr.Valid {
		v := ctr.Float64
		r.LinkCTR = &v
	}
	return &r, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, trigger model.Trigger, w model.Window) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    model.RunStatusRunning,
		Window:    w,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, triggered_by, status, window_start, window_end, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Trigger), string(run.Status), w.Since(), w.Until(), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, counts, sql.NullString{})
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, counts model.RunCounts, reason string) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, counts, sql.NullString{String: reason, Valid: true})
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status model.RunStatus, counts model.RunCounts, reason sql.NullString) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, counts = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), string(countsJSON), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, triggered_by, status, window_start, window_end, counts, error, started_at, completed_at FROM sync_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		// started_at is stored as text; compare as time.
		if !filter.StartedAfter.IsZero() && r.StartedAt.Before(filter.StartedAfter) {
			continue
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var trigger, status, start, end, countsJSON string
	var reason sql.NullString
	var completed sql.NullTime

	if err := row.Scan(&r.ID, &trigger, &status, &start, &end, &countsJSON, &reason, &r.StartedAt, &completed); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Trigger = model.Trigger(trigger)
	r.Status = model.RunStatus(status)

	var err error
	if r.Window.Start, err = model.ParseDate(start); err != nil {
		return nil, err
	}
	if r.Window.End, err = model.ParseDate(end); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(countsJSON), &r.Counts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal counts")
	}
	if reason.Valid {
		r.Error = reason.String
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
