// Package adsync runs the funnel sync cycle: enumerate ad accounts, fetch
// campaign insights, aggregate them into funnel rollups and upsert the rows.
package adsync

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/fetcher"
	"github.com/sells-group/funnel-sync/internal/funnel"
	"github.com/sells-group/funnel-sync/internal/model"
)

// ErrNoAccounts is returned when account listing succeeds but yields nothing
// to sync.
var ErrNoAccounts = eris.New("adsync: no ad accounts found")

// Account outcomes.
const (
	AccountProcessed = "processed"
	AccountEmpty     = "empty"
	AccountSkipped   = "skipped"
	AccountFailed    = "failed"
)

// Source provides accounts and per-account insights. *fetcher.Fetcher
// satisfies it.
type Source interface {
	Accounts(ctx context.Context) ([]model.Account, error)
	Fetch(ctx context.Context, acct model.Account, w model.Window) (*fetcher.Result, error)
}

// RunLog records cycle runs. store.Store satisfies it.
type RunLog interface {
	StartRun(ctx context.Context, trigger model.Trigger, w model.Window) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error
	FailRun(ctx context.Context, runID string, counts model.RunCounts, reason string) error
}

// Sink is where a cycle writes: funnel rows and the run log.
type Sink interface {
	FunnelWriter
	RunLog
}

// CampaignObserver receives the campaign-level data of each fetched account
// before it is folded away. Funnel rows are the only thing persisted by the
// engine itself.
type CampaignObserver interface {
	ObserveCampaigns(ctx context.Context, acct model.Account, w model.Window, res *fetcher.Result)
}

// AccountResult is the outcome of one account within a cycle.
type AccountResult struct {
	AccountID     string `json:"account_id" yaml:"account_id"`
	Name          string `json:"name,omitempty" yaml:"name,omitempty"`
	Status        string `json:"status" yaml:"status"`
	Insights      int    `json:"insights" yaml:"insights"`
	Funnels       int    `json:"funnels" yaml:"funnels"`
	WriteFailures int    `json:"write_failures,omitempty" yaml:"write_failures,omitempty"`
	ShapeIssues   int    `json:"shape_issues,omitempty" yaml:"shape_issues,omitempty"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CycleResult is the outcome of one sync cycle.
type CycleResult struct {
	model.Run `yaml:",inline"`
	Accounts  []AccountResult `json:"accounts" yaml:"accounts"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithWindowDays sets how many days back the window starts. Default 7.
func WithWindowDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.windowDays = days
		}
	}
}

// WithLocation sets the timezone that decides "today". Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithCycleTimeout bounds a whole cycle. Zero means no deadline.
func WithCycleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.cycleTimeout = d
	}
}

// WithGuard shares a cycle guard between engines.
func WithGuard(g *CycleGuard) Option {
	return func(e *Engine) {
		if g != nil {
			e.guard = g
		}
	}
}

// WithObserver installs a campaign-level observer.
func WithObserver(o CampaignObserver) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// Engine runs sync cycles. Run is safe to call from several goroutines; the
// guard admits one cycle at a time.
type Engine struct {
	source       Source
	sink         Sink
	writer       *Writer
	guard        *CycleGuard
	observer     CampaignObserver
	windowDays   int
	loc          *time.Location
	cycleTimeout time.Duration
	now          func() time.Time
}

// NewEngine creates an engine reading from source and writing to sink.
func NewEngine(source Source, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		source:     source,
		sink:       sink,
		writer:     NewWriter(sink),
		guard:      NewCycleGuard(),
		windowDays: 7,
		loc:        time.UTC,
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Running reports whether a cycle is in progress.
func (e *Engine) Running() bool { return e.guard.Running() }

// Window returns the window a cycle started now would cover.
func (e *Engine) Window() model.Window {
	return model.TrailingWindow(e.now().In(e.loc), e.windowDays)
}

// Run executes one sync cycle. Accounts are processed sequentially; a failing
// account is logged and counted and the cycle continues. The cycle itself
// fails only when the account list cannot be obtained or is empty, or when
// ctx ends before all accounts are processed. A returned CycleResult is never
// nil unless the error is ErrCycleInProgress.
func (e *Engine) Run(ctx context.Context, trigger model.Trigger) (*CycleResult, error) {
	if !e.guard.TryAcquire() {
		return nil, ErrCycleInProgress
	}
	defer e.guard.Release()

	if e.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cycleTimeout)
		defer cancel()
	}

	w := e.Window()
	log := zap.L().With(
		zap.String("component", "adsync.engine"),
		zap.String("trigger", string(trigger)),
		zap.String("window", w.String()),
	)

	res := &CycleResult{Run: model.Run{
		Trigger:   trigger,
		Status:    model.RunStatusRunning,
		Window:    w,
		StartedAt: e.now().UTC(),
	}}

	if run, err := e.sink.StartRun(ctx, trigger, w); err != nil {
		log.Warn("failed to record run start", zap.Error(err))
	} else {
		res.ID = run.ID
		res.StartedAt = run.StartedAt
		log = log.With(zap.String("run_id", run.ID))
	}

	log.Info("sync cycle starting")

	accounts, err := e.source.Accounts(ctx)
	if err != nil {
		return e.fail(ctx, log, res, eris.Wrap(err, "adsync: list accounts"))
	}
	if len(accounts) == 0 {
		return e.fail(ctx, log, res, ErrNoAccounts)
	}
	res.Counts.AccountsTotal = len(accounts)

	for i, acct := range accounts {
		if err := ctx.Err(); err != nil {
			for _, rest := range accounts[i:] {
				res.Accounts = append(res.Accounts, AccountResult{
					AccountID: rest.ID, Name: rest.Name, Status: AccountFailed, Error: err.Error(),
				})
			}
			res.Counts.AccountsFailed += len(accounts) - i
			return e.fail(ctx, log, res, eris.Wrapf(err, "adsync: cycle interrupted after %d of %d accounts", i, len(accounts)))
		}

		ar := e.syncAccount(ctx, log, acct, w)
		res.Accounts = append(res.Accounts, ar)
		switch ar.Status {
		case AccountSkipped:
			res.Counts.AccountsSkipped++
		case AccountFailed:
			res.Counts.AccountsFailed++
		case AccountEmpty:
			res.Counts.AccountsEmpty++
			res.Counts.AccountsProcessed++
		default:
			res.Counts.AccountsProcessed++
		}
		res.Counts.FunnelsWritten += ar.Funnels
		res.Counts.WriteFailures += ar.WriteFailures
	}

	res.Status = model.RunStatusComplete
	completed := e.now().UTC()
	res.CompletedAt = &completed
	if res.ID != "" {
		if err := e.sink.CompleteRun(context.WithoutCancel(ctx), res.ID, res.Counts); err != nil {
			log.Warn("failed to record run completion", zap.Error(err))
		}
	}

	log.Info("sync cycle complete",
		zap.Int("accounts", res.Counts.AccountsTotal),
		zap.Int("processed", res.Counts.AccountsProcessed),
		zap.Int("skipped", res.Counts.AccountsSkipped),
		zap.Int("failed", res.Counts.AccountsFailed),
		zap.Int("funnels_written", res.Counts.FunnelsWritten),
		zap.Int("write_failures", res.Counts.WriteFailures),
		zap.Duration("elapsed", completed.Sub(res.StartedAt)),
	)
	return res, nil
}

func (e *Engine) fail(ctx context.Context, log *zap.Logger, res *CycleResult, err error) (*CycleResult, error) {
	res.Status = model.RunStatusFailed
	res.Error = err.Error()
	completed := e.now().UTC()
	res.CompletedAt = &completed

	log.Error("sync cycle failed", zap.Error(err))
	if res.ID != "" {
		if logErr := e.sink.FailRun(context.WithoutCancel(ctx), res.ID, res.Counts, err.Error()); logErr != nil {
			log.Warn("failed to record run failure", zap.Error(logErr))
		}
	}
	return res, err
}

// syncAccount fetches, aggregates and writes one account. It never returns an
// error: failures are reported in the result.
func (e *Engine) syncAccount(ctx context.Context, log *zap.Logger, acct model.Account, w model.Window) (ar AccountResult) {
	ar = AccountResult{AccountID: acct.ID, Name: acct.Name}
	log = log.With(zap.String("account_id", acct.ID))

	defer func() {
		if r := recover(); r != nil {
			ar.Status = AccountFailed
			ar.Error = fmt.Sprintf("panic: %v", r)
			log.Error("account sync panicked", zap.Any("panic", r))
		}
	}()

	if !acct.Active() {
		ar.Status = AccountSkipped
		log.Info("skipping inactive account", zap.Int("account_status", acct.Status))
		return ar
	}

	fetched, err := e.source.Fetch(ctx, acct, w)
	if err != nil {
		ar.Status = AccountFailed
		ar.Error = err.Error()
		log.Error("account fetch failed", zap.Error(err))
		return ar
	}
	ar.Insights = len(fetched.Insights)
	ar.ShapeIssues = fetched.ShapeIssues

	if e.observer != nil {
		e.observer.ObserveCampaigns(ctx, acct, w, fetched)
	}

	rows := funnel.Aggregate(acct.ID, w, fetched.Insights)
	if len(rows) == 0 {
		ar.Status = AccountEmpty
		log.Info("no insights for window")
		return ar
	}

	wr := e.writer.Write(ctx, rows)
	ar.Status = AccountProcessed
	ar.Funnels = wr.Written
	ar.WriteFailures = wr.Failed

	log.Info("account synced",
		zap.Int("insights", ar.Insights),
		zap.Int("funnels", len(rows)),
		zap.Int("written", wr.Written),
		zap.Int("write_failures", wr.Failed),
	)
	return ar
}
