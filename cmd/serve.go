package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/funnel-sync/internal/adsync"
	"github.com/sells-group/funnel-sync/internal/fetcher"
	"github.com/sells-group/funnel-sync/internal/monitoring"
	"github.com/sells-group/funnel-sync/internal/server"
	"github.com/sells-group/funnel-sync/internal/store"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP trigger and run the daily schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		app, err := buildServeApp(ctx, st, initFetcher(initClient()))
		if err != nil {
			return err
		}

		l, err := net.Listen("tcp", fmt.Sprintf(":%d", resolvePort(servePort, cfg.Server.Port)))
		if err != nil {
			return eris.Wrap(err, "server listen")
		}
		return app.run(ctx, l)
	},
}

// serveApp is everything `serve` runs side by side.
type serveApp struct {
	engine    *adsync.Engine
	scheduler *adsync.Scheduler   // nil when the schedule is disabled
	checker   *monitoring.Checker // nil without a webhook
	handler   http.Handler
}

// buildServeApp wires the serve components. Manual cycles stop when ctx is
// done.
func buildServeApp(ctx context.Context, st store.Store, src *fetcher.Fetcher) (*serveApp, error) {
	engine, err := initEngine(src, st)
	if err != nil {
		return nil, err
	}
	app := &serveApp{engine: engine}

	var alerter *monitoring.Alerter
	collector := monitoring.NewCollector(st)
	if cfg.Monitoring.WebhookURL != "" {
		alerter = monitoring.NewAlerter(cfg.Monitoring)
		app.checker = monitoring.NewChecker(collector, alerter, cfg.Monitoring,
			monitoring.WithBreakerSource(src.BreakerStatus))
	}

	if cfg.Schedule.Enabled {
		loc, err := cfg.Schedule.Location()
		if err != nil {
			return nil, err
		}
		opts := []adsync.SchedulerOption{adsync.WithRunOnStart(cfg.Schedule.RunOnStart)}
		if alerter != nil {
			opts = append(opts, adsync.WithAlerter(alerter))
		}
		app.scheduler, err = adsync.NewScheduler(engine, cfg.Schedule.Hour, cfg.Schedule.Minute, loc, opts...)
		if err != nil {
			return nil, err
		}
	}

	app.handler = server.NewRouter(server.Deps{
		Lifetime:    ctx,
		Version:     version,
		Syncer:      engine,
		Accounts:    src,
		Store:       st,
		Scheduler:   app.scheduler,
		Collector:   collector,
		Breaker:     src,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	return app, nil
}

// run serves HTTP on l alongside the scheduler and alert checker until ctx is
// cancelled, then shuts the server down gracefully.
func (a *serveApp) run(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", l.Addr().String()))
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server serve")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
	})

	if a.scheduler != nil {
		g.Go(func() error { return a.scheduler.Run(gctx) })
	}
	if a.checker != nil {
		g.Go(func() error {
			a.checker.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}

// resolvePort returns flagPort if set, otherwise cfgPort.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
