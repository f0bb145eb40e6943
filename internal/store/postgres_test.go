package store

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-sync/internal/config"
	"github.com/sells-group/funnel-sync/internal/model"
)

func configStore(driver, url string) config.StoreConfig {
	return config.StoreConfig{Driver: driver, DatabaseURL: url}
}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_UpsertFunnel(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	row := testRow("12", "150", 1500)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "funnel_metrics"`) +
		`.*` + regexp.QuoteMeta(`ON CONFLICT ("start_date", "end_date", "funnel_id") DO UPDATE SET`) +
		`.*` + regexp.QuoteMeta(`"updated_at" = CURRENT_TIMESTAMP`)).
		WithArgs(row.Key.StartDate, row.Key.EndDate, "12",
			"Funnel #12", "111", "150.00",
			int64(1500), int64(750), int64(30),
			2.0, row.LinkCTR, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertFunnel(context.Background(), row))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFunnelValues_SpendRoundedToCents(t *testing.T) {
	row := testRow("12", "10.004", 1500)
	row.AmountSpent = row.AmountSpent.Add(testRow("12", "0.0015", 0).AmountSpent)

	vals := funnelValues(row, func(d time.Time) any { return d })
	assert.Equal(t, "10.01", vals[5])
	assert.Equal(t, "10.0055", row.AmountSpent.String())
}

func TestPostgresStore_UpsertFunnel_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	row := testRow("12", "150", 1500)

	mock.ExpectExec(`INSERT INTO "funnel_metrics"`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(fmt.Errorf("deadlock detected"))

	err := s.UpsertFunnel(context.Background(), row)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert funnel 2024-03-08..2024-03-15/12")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFunnels(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	updated := time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT start_date, end_date, funnel_id .* FROM funnel_metrics WHERE true AND start_date >= \$1 AND funnel_id = \$2 ORDER BY .* LIMIT \$3`).
		WithArgs(date("2024-03-08"), "12", 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"start_date", "end_date", "funnel_id", "funnel_name", "account_id", "amount_spent",
			"impressions", "reach", "ads_link_clicks", "frequency", "link_ctr", "is_current_week", "updated_at",
		}).AddRow(
			date("2024-03-08"), date("2024-03-15"), "12", "Funnel #12", "111", "150.00",
			int64(1500), int64(750), int64(30), 2.0, ptr(2.0), true, updated,
		).AddRow(
			date("2024-03-08"), date("2024-03-15"), "12", "Funnel #12", "222", "0.00",
			int64(0), int64(0), int64(0), 0.0, nil, true, updated,
		))

	rows, err := s.ListFunnels(context.Background(), FunnelFilter{StartDate: date("2024-03-08"), FunnelID: "12"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "150", rows[0].AmountSpent.String())
	require.NotNil(t, rows[0].LinkCTR)
	assert.Nil(t, rows[1].LinkCTR)
	assert.Equal(t, updated, rows[0].UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartAndCompleteRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	w := model.Window{Start: date("2024-03-08"), End: date("2024-03-15")}

	mock.ExpectExec(`INSERT INTO sync_runs`).
		WithArgs(pgxmock.AnyArg(), "cli", "running", w.Start, w.End, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.StartRun(context.Background(), model.TriggerCLI, w)
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)

	mock.ExpectExec(`UPDATE sync_runs SET status = \$1`).
		WithArgs("complete", pgxmock.AnyArg(), (*string)(nil), pgxmock.AnyArg(), run.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompleteRun(context.Background(), run.ID, model.RunCounts{AccountsTotal: 1}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sync_runs SET status = \$1`).
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FailRun(context.Background(), "missing", model.RunCounts{}, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)
	completed := started.Add(time.Minute)
	reason := "no accounts"

	mock.ExpectQuery(`SELECT id::text, triggered_by, status .* FROM sync_runs WHERE true AND status = \$1 ORDER BY started_at DESC LIMIT \$2`).
		WithArgs("failed", 5).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "triggered_by", "status", "window_start", "window_end", "counts", "error", "started_at", "completed_at",
		}).AddRow(
			"run-1", "schedule", "failed", date("2024-03-08"), date("2024-03-15"),
			[]byte(`{"accounts_total":0}`), &reason, started, &completed,
		))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusFailed, Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.TriggerSchedule, runs[0].Trigger)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Equal(t, "no accounts", runs[0].Error)
	require.NotNil(t, runs[0].CompletedAt)
	assert.Equal(t, completed, *runs[0].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	for _, name := range []string{"001_funnel_metrics.sql", "002_sync_runs.sql"} {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(name).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), configStore("mysql", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), configStore("sqlite", t.TempDir()+"/open.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	assert.IsType(t, &SQLiteStore{}, st)
}
