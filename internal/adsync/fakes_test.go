package adsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/fetcher"
	"github.com/sells-group/funnel-sync/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeSource serves fixed accounts and per-account insights.
type fakeSource struct {
	mu         sync.Mutex
	accounts   []model.Account
	listErr    error
	insights   map[string][]model.CampaignInsight
	fetchErr   map[string]error
	fetched    []string
	beforeList func()
	onFetch    func(acct model.Account)
}

func (f *fakeSource) Accounts(_ context.Context) ([]model.Account, error) {
	if f.beforeList != nil {
		f.beforeList()
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.accounts, nil
}

func (f *fakeSource) Fetch(_ context.Context, acct model.Account, _ model.Window) (*fetcher.Result, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, acct.ID)
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(acct)
	}
	if err := f.fetchErr[acct.ID]; err != nil {
		return &fetcher.Result{}, err
	}
	return &fetcher.Result{Insights: f.insights[acct.ID]}, nil
}

// fakeSink is an in-memory funnel table keyed by FunnelKey plus a run log.
type fakeSink struct {
	mu        sync.Mutex
	rows      map[model.FunnelKey]model.FunnelRow
	writes    int
	failKeys  map[string]bool // funnel ids whose upsert fails
	startErr  error
	runs      map[string]*model.Run
	completed []string
	failed    []string
	reasons   []string
	nextRunID int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		rows:     make(map[model.FunnelKey]model.FunnelRow),
		failKeys: make(map[string]bool),
		runs:     make(map[string]*model.Run),
	}
}

func (s *fakeSink) UpsertFunnel(_ context.Context, row model.FunnelRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKeys[row.Key.FunnelID] {
		return errors.New("write refused")
	}
	s.writes++
	s.rows[row.Key] = row
	return nil
}

func (s *fakeSink) StartRun(_ context.Context, trigger model.Trigger, w model.Window) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.nextRunID++
	run := &model.Run{
		ID:      fmt.Sprintf("run-%d", s.nextRunID),
		Trigger: trigger,
		Status:  model.RunStatusRunning,
		Window:  w,
	}
	s.runs[run.ID] = run
	return run, nil
}

func (s *fakeSink) CompleteRun(_ context.Context, runID string, counts model.RunCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, runID)
	if r := s.runs[runID]; r != nil {
		r.Status = model.RunStatusComplete
		r.Counts = counts
	}
	return nil
}

func (s *fakeSink) FailRun(_ context.Context, runID string, counts model.RunCounts, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, runID)
	s.reasons = append(s.reasons, reason)
	if r := s.runs[runID]; r != nil {
		r.Status = model.RunStatusFailed
		r.Counts = counts
		r.Error = reason
	}
	return nil
}

func insight(id, name string, spend string, impressions, reach, clicks int64) model.CampaignInsight {
	return model.CampaignInsight{
		CampaignID:   id,
		CampaignName: name,
		Spend:        decimal.RequireFromString(spend),
		Impressions:  impressions,
		Reach:        reach,
		Clicks:       clicks,
	}
}

func activeAccount(id string) model.Account {
	return model.Account{ID: id, Name: "Account " + id, Status: model.AccountStatusActive}
}
