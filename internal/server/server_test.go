package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/adsync"
	"github.com/sells-group/funnel-sync/internal/model"
	"github.com/sells-group/funnel-sync/internal/monitoring"
	"github.com/sells-group/funnel-sync/internal/resilience"
	"github.com/sells-group/funnel-sync/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testWindow = model.Window{
	Start: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
}

type fakeSyncer struct {
	res     *adsync.CycleResult
	err     error
	running bool
	calls   []model.Trigger
}

func (f *fakeSyncer) Run(_ context.Context, trigger model.Trigger) (*adsync.CycleResult, error) {
	f.calls = append(f.calls, trigger)
	return f.res, f.err
}

func (f *fakeSyncer) Running() bool        { return f.running }
func (f *fakeSyncer) Window() model.Window { return testWindow }

type fakeAccounts struct {
	accts []model.Account
	err   error
}

func (f *fakeAccounts) Accounts(context.Context) ([]model.Account, error) { return f.accts, f.err }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	var body map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	}
	return rr, body
}

func TestRouter_Health(t *testing.T) {
	h := NewRouter(Deps{Syncer: &fakeSyncer{}, Store: newTestStore(t)})

	rr, body := do(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_HealthStoreDown(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Close())
	h := NewRouter(Deps{Syncer: &fakeSyncer{}, Store: st})

	rr, body := do(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestRouter_Info(t *testing.T) {
	sched, err := adsync.NewScheduler(&fakeSyncer{}, 6, 0, time.UTC)
	require.NoError(t, err)
	h := NewRouter(Deps{Version: "1.2.3", Syncer: &fakeSyncer{running: true}, Scheduler: sched})

	rr, body := do(t, h, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "funnel-sync", body["service"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, true, body["running"])
	schedule, ok := body["schedule"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0 0 6 * * *", schedule["spec"])
	assert.Equal(t, "UTC", schedule["timezone"])
}

func TestRouter_SyncSuccess(t *testing.T) {
	syncer := &fakeSyncer{res: &adsync.CycleResult{Run: model.Run{
		ID:     "run-1",
		Status: model.RunStatusComplete,
		Window: testWindow,
		Counts: model.RunCounts{AccountsTotal: 1, AccountsProcessed: 1, FunnelsWritten: 2},
	}}}
	h := NewRouter(Deps{Syncer: syncer})

	for _, method := range []string{http.MethodPost, http.MethodGet} {
		rr, body := do(t, h, method, "/sync")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "success", body["status"])
		result, ok := body["result"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "run-1", result["id"])
		counts := result["counts"].(map[string]any)
		assert.EqualValues(t, 2, counts["funnels_written"])
	}
	assert.Equal(t, []model.Trigger{model.TriggerHTTP, model.TriggerHTTP}, syncer.calls)
}

// ctxSyncer reports the state of the context its cycle ran under.
type ctxSyncer struct {
	fakeSyncer
	wait   time.Duration
	ctxErr error
}

func (f *ctxSyncer) Run(ctx context.Context, trigger model.Trigger) (*adsync.CycleResult, error) {
	select {
	case <-ctx.Done():
	case <-time.After(f.wait):
	}
	f.ctxErr = ctx.Err()
	return f.fakeSyncer.Run(ctx, trigger)
}

func TestRouter_SyncSurvivesClientDisconnect(t *testing.T) {
	syncer := &ctxSyncer{
		fakeSyncer: fakeSyncer{res: &adsync.CycleResult{Run: model.Run{ID: "run-1", Status: model.RunStatusComplete}}},
		wait:       50 * time.Millisecond,
	}
	h := NewRouter(Deps{Lifetime: context.Background(), Syncer: syncer})

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/sync", nil).WithContext(reqCtx)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.NoError(t, syncer.ctxErr)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []model.Trigger{model.TriggerHTTP}, syncer.calls)
}

func TestRouter_SyncStopsWithLifetime(t *testing.T) {
	syncer := &ctxSyncer{
		fakeSyncer: fakeSyncer{err: context.Canceled},
		wait:       5 * time.Second,
	}
	lifetime, stop := context.WithCancel(context.Background())
	stop()
	h := NewRouter(Deps{Lifetime: lifetime, Syncer: syncer})

	start := time.Now()
	rr, _ := do(t, h, http.MethodPost, "/sync")

	assert.ErrorIs(t, syncer.ctxErr, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestRouter_SyncConflict(t *testing.T) {
	h := NewRouter(Deps{Syncer: &fakeSyncer{err: adsync.ErrCycleInProgress}})

	rr, body := do(t, h, http.MethodPost, "/sync")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "already running")
}

func TestRouter_SyncFailure(t *testing.T) {
	syncer := &fakeSyncer{
		res: &adsync.CycleResult{Run: model.Run{Status: model.RunStatusFailed, Error: "adsync: no ad accounts found"}},
		err: adsync.ErrNoAccounts,
	}
	h := NewRouter(Deps{Syncer: syncer})

	rr, body := do(t, h, http.MethodPost, "/sync")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "no ad accounts found")
}

func TestRouter_Accounts(t *testing.T) {
	h := NewRouter(Deps{Syncer: &fakeSyncer{}, Accounts: &fakeAccounts{accts: []model.Account{
		{ID: "1", Name: "Main", Status: 1},
		{ID: "2", Name: "Old", Status: 2},
	}}})

	rr, body := do(t, h, http.MethodGet, "/accounts")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, body["count"])
}

func TestRouter_AccountsError(t *testing.T) {
	h := NewRouter(Deps{Syncer: &fakeSyncer{}, Accounts: &fakeAccounts{err: errors.New("metaads: status 401")}})

	rr, body := do(t, h, http.MethodGet, "/accounts")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, body["error"], "401")
}

func TestRouter_AccountsNotConfigured(t *testing.T) {
	h := NewRouter(Deps{Syncer: &fakeSyncer{}})

	rr, _ := do(t, h, http.MethodGet, "/accounts")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouter_Funnels(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2"} {
		require.NoError(t, st.UpsertFunnel(ctx, model.FunnelRow{
			Key:         model.FunnelKey{StartDate: testWindow.Start, EndDate: testWindow.End, FunnelID: id},
			FunnelName:  "Funnel #" + id,
			AccountID:   "A",
			AmountSpent: decimal.RequireFromString("12.50"),
		}))
	}
	h := NewRouter(Deps{Syncer: &fakeSyncer{}, Store: st})

	rr, body := do(t, h, http.MethodGet, "/funnels?start_date=2024-03-08&end_date=2024-03-15")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, body["count"])

	rr, body = do(t, h, http.MethodGet, "/funnels?funnel_id=2")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, body["count"])

	rr, body = do(t, h, http.MethodGet, "/funnels?start_date=2024-04-01")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, []any{}, body["funnels"])
}

func TestRouter_FunnelsBadParams(t *testing.T) {
	h := NewRouter(Deps{Syncer: &fakeSyncer{}, Store: newTestStore(t)})

	for _, target := range []string{
		"/funnels?start_date=03/08/2024",
		"/funnels?end_date=yesterday",
		"/funnels?limit=0",
		"/funnels?limit=abc",
	} {
		rr, _ := do(t, h, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestRouter_RunsAndStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run, err := st.StartRun(ctx, model.TriggerHTTP, testWindow)
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, run.ID, model.RunCounts{AccountsTotal: 1, AccountsProcessed: 1}))

	h := NewRouter(Deps{Syncer: &fakeSyncer{}, Store: st, Collector: monitoring.NewCollector(st)})

	rr, body := do(t, h, http.MethodGet, "/runs?limit=5")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, body["count"])

	rr, body = do(t, h, http.MethodGet, "/status?lookback_hours=24")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, body["runs_total"])
	assert.EqualValues(t, 1, body["runs_complete"])
	assert.NotNil(t, body["last_success_at"])

	rr, _ = do(t, h, http.MethodGet, "/status?lookback_hours=-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

type fakeBreaker struct {
	st resilience.BreakerStatus
	ok bool
}

func (f fakeBreaker) BreakerStatus() (resilience.BreakerStatus, bool) { return f.st, f.ok }

func TestRouter_StatusReportsBreaker(t *testing.T) {
	st := newTestStore(t)
	opened := time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)
	h := NewRouter(Deps{
		Syncer:    &fakeSyncer{},
		Store:     st,
		Collector: monitoring.NewCollector(st),
		Breaker: fakeBreaker{ok: true, st: resilience.BreakerStatus{
			State: resilience.CircuitOpen, ConsecutiveFailures: 5, Trips: 1, OpenedAt: &opened,
		}},
	})

	rr, body := do(t, h, http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 0, body["runs_total"])
	breaker, ok := body["ads_api_breaker"].(map[string]any)
	require.True(t, ok, body)
	assert.Equal(t, "open", breaker["state"])
	assert.EqualValues(t, 5, breaker["consecutive_failures"])
	assert.Equal(t, "2024-03-15T06:00:00Z", breaker["opened_at"])

	h = NewRouter(Deps{Syncer: &fakeSyncer{}, Store: st, Collector: monitoring.NewCollector(st), Breaker: fakeBreaker{}})
	_, body = do(t, h, http.MethodGet, "/status")
	assert.NotContains(t, body, "ads_api_breaker")
}

func TestRouter_StatusNotConfigured(t *testing.T) {
	h := NewRouter(Deps{Syncer: &fakeSyncer{}})

	rr, _ := do(t, h, http.MethodGet, "/status")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := NewRouter(Deps{Syncer: &fakeSyncer{}, CORSOrigins: []string{"https://dash.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/funnels", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://dash.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
