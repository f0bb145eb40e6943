package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/funnel-sync/internal/db"
	"github.com/sells-group/funnel-sync/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, maxConns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns the pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool, migrationFS, "migrations"), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var pgFunnelUpsert = func() db.UpsertConfig {
	cfg := funnelUpsert
	cfg.Touch = "updated_at"
	return cfg
}()

func (s *PostgresStore) UpsertFunnel(ctx context.Context, row model.FunnelRow) error {
	if err := validateRow(row); err != nil {
		return err
	}
	values := funnelValues(row, func(t time.Time) any { return t })
	if _, err := db.Upsert(ctx, s.pool, pgFunnelUpsert, values); err != nil {
		return eris.Wrapf(err, "postgres: upsert funnel %s", row.Key)
	}
	return nil
}

const pgFunnelSelect = `SELECT start_date, end_date, funnel_id, funnel_name, account_id, amount_spent::text,
	impressions, reach, ads_link_clicks, frequency, link_ctr, is_current_week, updated_at
	FROM funnel_metrics WHERE true`

func (s *PostgresStore) ListFunnels(ctx context.Context, filter FunnelFilter) ([]model.FunnelRow, error) {
	query := pgFunnelSelect
	args := []any{}
	argIdx := 1

	if !filter.StartDate.IsZero() {
		query += fmt.Sprintf(` AND start_date >= $%d`, argIdx)
		args = append(args, filter.StartDate)
		argIdx++
	}
	if !filter.EndDate.IsZero() {
		query += fmt.Sprintf(` AND end_date <= $%d`, argIdx)
		args = append(args, filter.EndDate)
		argIdx++
	}
	if filter.FunnelID != "" {
		query += fmt.Sprintf(` AND funnel_id = $%d`, argIdx)
		args = append(args, filter.FunnelID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY start_date DESC, end_date DESC, funnel_id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list funnels")
	}
	defer rows.Close()

	var out []model.FunnelRow
	for rows.Next() {
		var r model.FunnelRow
		var amount string
		if err := rows.Scan(
			&r.Key.StartDate, &r.Key.EndDate, &r.Key.FunnelID, &r.FunnelName, &r.AccountID, &amount,
			&r.Impressions, &r.Reach, &r.AdsLinkClicks, &r.Frequency, &r.LinkCTR, &r.IsCurrentWeek, &r.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan funnel")
		}
		if r.AmountSpent, err = decimal.NewFromString(amount); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse amount_spent of %s", r.Key)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list funnels iterate")
}

func (s *PostgresStore) StartRun(ctx context.Context, trigger model.Trigger, w model.Window) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    model.RunStatusRunning,
		Window:    w,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, triggered_by, status, window_start, window_end, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Trigger), string(run.Status), w.Start, w.End, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, counts, nil)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, counts model.RunCounts, reason string) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, counts, &reason)
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, status model.RunStatus, counts model.RunCounts, reason *string) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, counts = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(status), countsJSON, reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id::text, triggered_by, status, window_start, window_end, counts, error, started_at, completed_at FROM sync_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.StartedAfter.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.StartedAfter)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var countsJSON []byte
	var reason *string

	if err := row.Scan(&r.ID, &r.Trigger, &r.Status, &r.Window.Start, &r.Window.End,
		&countsJSON, &reason, &r.StartedAt, &r.CompletedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &r.Counts); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal counts")
		}
	}
	if reason != nil {
		r.Error = *reason
	}
	return &r, nil
}
