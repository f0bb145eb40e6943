// Package server exposes the funnel sync over HTTP: a manual sync trigger,
// an account connectivity check and read-back of stored funnels and runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/adsync"
	"github.com/sells-group/funnel-sync/internal/model"
	"github.com/sells-group/funnel-sync/internal/monitoring"
	"github.com/sells-group/funnel-sync/internal/resilience"
	"github.com/sells-group/funnel-sync/internal/store"
)

// Syncer runs sync cycles. *adsync.Engine satisfies it.
type Syncer interface {
	Run(ctx context.Context, trigger model.Trigger) (*adsync.CycleResult, error)
	Running() bool
	Window() model.Window
}

// AccountLister lists the ad accounts a cycle would visit.
type AccountLister interface {
	Accounts(ctx context.Context) ([]model.Account, error)
}

// BreakerReporter exposes the ads API circuit breaker. *fetcher.Fetcher
// satisfies it.
type BreakerReporter interface {
	BreakerStatus() (resilience.BreakerStatus, bool)
}

// Reader is the read side of the store.
type Reader interface {
	ListFunnels(ctx context.Context, filter store.FunnelFilter) ([]model.FunnelRow, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the router. Scheduler and Collector are
// optional. Lifetime, when set, bounds manually triggered cycles: they outlive
// the request that started them but stop when Lifetime is done.
type Deps struct {
	Lifetime    context.Context
	Version     string
	Syncer      Syncer
	Accounts    AccountLister
	Store       Reader
	Scheduler   *adsync.Scheduler
	Collector   *monitoring.Collector
	Breaker     BreakerReporter
	CORSOrigins []string
}

// statusResponse is the run-log snapshot plus the live breaker state.
type statusResponse struct {
	*monitoring.Snapshot
	Breaker *resilience.BreakerStatus `json:"ads_api_breaker,omitempty"`
}

type handler struct {
	Deps
	log *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	h := &handler{Deps: d, log: zap.L().With(zap.String("component", "server"))}

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", h.info)
	r.Get("/health", h.health)
	r.Get("/status", h.status)
	r.Post("/sync", h.sync)
	r.Get("/sync", h.sync)
	r.Get("/accounts", h.accounts)
	r.Get("/funnels", h.funnels)
	r.Get("/runs", h.runs)

	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}

func (h *handler) info(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"service": "funnel-sync",
		"version": h.Version,
		"window":  h.Syncer.Window(),
		"running": h.Syncer.Running(),
		"endpoints": []string{
			"GET /health", "GET /status", "POST /sync", "GET /accounts", "GET /funnels", "GET /runs",
		},
	}
	if h.Scheduler != nil {
		body["schedule"] = map[string]any{
			"spec":     h.Scheduler.Spec(),
			"timezone": h.Scheduler.Location().String(),
			"next_run": h.Scheduler.NextRun(time.Now()),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if h.Collector == nil {
		writeError(w, http.StatusNotFound, errors.New("run-log monitoring is not configured"))
		return
	}
	hours := 72
	if v := r.URL.Query().Get("lookback_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("lookback_hours must be a positive integer"))
			return
		}
		hours = n
	}
	snap, err := h.Collector.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := statusResponse{Snapshot: snap}
	if h.Breaker != nil {
		if st, ok := h.Breaker.BreakerStatus(); ok {
			resp.Breaker = &st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) sync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.cycleContext(r)
	defer cancel()

	res, err := h.Syncer.Run(ctx, model.TriggerHTTP)
	switch {
	case errors.Is(err, adsync.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		h.log.Error("manual sync failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  err.Error(),
			"result": res,
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": res})
	}
}

// cycleContext detaches a cycle from the client connection. A dropped client
// or proxy timeout must not fail the accounts not yet reached.
func (h *handler) cycleContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	if h.Lifetime == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(h.Lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (h *handler) accounts(w http.ResponseWriter, r *http.Request) {
	if h.Accounts == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("ads API is not configured"))
		return
	}
	accts, err := h.Accounts.Accounts(r.Context())
	if err != nil {
		h.log.Error("list accounts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"count":    len(accts),
		"accounts": accts,
	})
}

func (h *handler) funnels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.FunnelFilter
	var err error

	if v := q.Get("start_date"); v != "" {
		if filter.StartDate, err = model.ParseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("start_date must be YYYY-MM-DD"))
			return
		}
	}
	if v := q.Get("end_date"); v != "" {
		if filter.EndDate, err = model.ParseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("end_date must be YYYY-MM-DD"))
			return
		}
	}
	filter.FunnelID = q.Get("funnel_id")
	if filter.Limit, err = parseLimit(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rows, err := h.Store.ListFunnels(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rows == nil {
		rows = []model.FunnelRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "funnels": rows})
}

func (h *handler) runs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Status: model.RunStatus(q.Get("status"))}
	var err error
	if filter.Limit, err = parseLimit(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	runs, err := h.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(runs), "runs": runs})
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 1000 {
		return 0, errors.New("limit must be an integer between 1 and 1000")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"status": "error", "error": err.Error()})
}
