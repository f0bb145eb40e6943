package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-sync/internal/model"
	"github.com/sells-group/funnel-sync/internal/store"
)

// Snapshot is a point-in-time view of the sync run log.
type Snapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	AccountsFailed int `json:"accounts_failed"`
	WriteFailures  int `json:"write_failures"`
	FunnelsWritten int `json:"funnels_written"`

	LastRun       *model.Run `json:"last_run,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector summarizes the run log.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new run-log collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of the runs started within the lookback window.
// The last successful run is looked up regardless of the window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		StartedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for i, r := range runs {
		if i == 0 {
			last := r
			snap.LastRun = &last
		}
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		snap.AccountsFailed += r.Counts.AccountsFailed
		snap.WriteFailures += r.Counts.WriteFailures
		snap.FunnelsWritten += r.Counts.FunnelsWritten
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	ok, err := c.runs.ListRuns(ctx, store.RunFilter{Status: model.RunStatusComplete, Limit: 1})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last successful run")
	}
	if len(ok) > 0 {
		at := ok[0].StartedAt
		if ok[0].CompletedAt != nil {
			at = *ok[0].CompletedAt
		}
		snap.LastSuccessAt = &at
	}

	return snap, nil
}
