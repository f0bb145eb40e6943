// Package store persists funnel rollups and the sync run log.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-sync/internal/config"
	"github.com/sells-group/funnel-sync/internal/db"
	"github.com/sells-group/funnel-sync/internal/model"
)

// defaultListLimit bounds list queries that do not set a limit.
const defaultListLimit = 100

// FunnelFilter specifies criteria for reading back funnel rows. Zero values
// are unset.
type FunnelFilter struct {
	StartDate time.Time `json:"start_date,omitzero"` // rows whose window starts on or after
	EndDate   time.Time `json:"end_date,omitzero"`   // rows whose window ends on or before
	FunnelID  string    `json:"funnel_id,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// RunFilter specifies criteria for listing sync runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	StartedAfter time.Time       `json:"started_after,omitzero"`
	Limit        int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the funnel sync.
type Store interface {
	// Funnel rollups
	UpsertFunnel(ctx context.Context, row model.FunnelRow) error
	ListFunnels(ctx context.Context, filter FunnelFilter) ([]model.FunnelRow, error)

	// Run log
	StartRun(ctx context.Context, trigger model.Trigger, w model.Window) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error
	FailRun(ctx context.Context, runID string, counts model.RunCounts, reason string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		return NewPostgres(ctx, cfg.DatabaseURL, cfg.MaxConns)
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// funnelColumns are the written columns of funnel_metrics, in value order.
var funnelColumns = []string{
	"start_date", "end_date", "funnel_id",
	"funnel_name", "account_id", "amount_spent",
	"impressions", "reach", "ads_link_clicks",
	"frequency", "link_ctr", "is_current_week",
}

// funnelUpsert replaces every non-key column of an existing row.
var funnelUpsert = db.UpsertConfig{
	Table:        "funnel_metrics",
	Columns:      funnelColumns,
	ConflictKeys: []string{"start_date", "end_date", "funnel_id"},
}

// funnelValues returns the column values of row. date encodes the calendar
// date columns for the target driver.
func funnelValues(row model.FunnelRow, date func(time.Time) any) []any {
	return []any{
		date(row.Key.StartDate), date(row.Key.EndDate), row.Key.FunnelID,
		row.FunnelName, row.AccountID, row.AmountSpent.StringFixed(2),
		row.Impressions, row.Reach, row.AdsLinkClicks,
		row.Frequency, row.LinkCTR, row.IsCurrentWeek,
	}
}

func validateRow(row model.FunnelRow) error {
	if row.Key.FunnelID == "" {
		return eris.New("store: funnel row has no funnel id")
	}
	if row.Key.StartDate.IsZero() || row.Key.EndDate.IsZero() {
		return eris.Errorf("store: funnel row %s has no window", row.Key.FunnelID)
	}
	return nil
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
