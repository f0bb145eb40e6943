package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/adsync"
	"github.com/sells-group/funnel-sync/internal/fetcher"
	"github.com/sells-group/funnel-sync/internal/resilience"
	"github.com/sells-group/funnel-sync/internal/store"
	"github.com/sells-group/funnel-sync/pkg/metaads"
)

// initStore opens the configured store and brings its schema up to date.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initClient builds the ads API client from config.
func initClient() metaads.Client {
	return metaads.NewClient(cfg.Meta.AccessToken,
		metaads.WithBaseURL(cfg.Meta.BaseURL),
		metaads.WithPageSize(cfg.Meta.PageSize),
		metaads.WithMaxPages(cfg.Meta.MaxPages),
		metaads.WithTimeout(cfg.Meta.Timeout()),
		metaads.WithRateLimit(cfg.Meta.RequestsPerSec),
	)
}

// initFetcher wraps client with the circuit breaker and account allow-list.
func initFetcher(client metaads.Client) *fetcher.Fetcher {
	bcfg := resilience.FromSyncConfig(cfg.Sync.BreakerFailures, cfg.Sync.BreakerResetSecs)
	bcfg.ShouldTrip = fetcher.ShouldTrip
	bcfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("ads API circuit breaker state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return fetcher.New(client,
		fetcher.WithBreaker(resilience.NewCircuitBreaker(bcfg)),
		fetcher.WithAllowList(cfg.Meta.AccountIDs),
	)
}

// initEngine builds the sync engine over src and st.
func initEngine(src adsync.Source, st store.Store) (*adsync.Engine, error) {
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, err
	}
	return adsync.NewEngine(src, st,
		adsync.WithWindowDays(cfg.Sync.WindowDays),
		adsync.WithLocation(loc),
		adsync.WithCycleTimeout(cfg.Sync.CycleTimeout()),
	), nil
}
