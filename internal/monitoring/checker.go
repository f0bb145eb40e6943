package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/config"
	"github.com/sells-group/funnel-sync/internal/resilience"
)

// BreakerSource reports the ads API circuit breaker. ok is false when no
// breaker is installed.
type BreakerSource func() (st resilience.BreakerStatus, ok bool)

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithBreakerSource adds a breaker-open check to every pass.
func WithBreakerSource(src BreakerSource) CheckerOption {
	return func(c *Checker) {
		c.breaker = src
	}
}

// Checker periodically evaluates run-log health and the API breaker and
// sends the resulting alerts. An alert type that was sent is held back until
// the repeat interval passes, so a stale store pages once per interval and
// not on every tick.
type Checker struct {
	collector   *Collector
	alerter     *Alerter
	breaker     BreakerSource
	interval    time.Duration
	lookback    int
	repeatAfter time.Duration
	now         func() time.Time
	log         *zap.Logger

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker. Unset intervals fall back
// to 15 minutes between passes, a 72h lookback and 6h between repeats.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, opts ...CheckerOption) *Checker {
	c := &Checker{
		collector:   collector,
		alerter:     alerter,
		interval:    time.Duration(cfg.CheckIntervalSecs) * time.Second,
		lookback:    cfg.LookbackHours,
		repeatAfter: time.Duration(cfg.RepeatAfterHours) * time.Hour,
		now:         time.Now,
		log:         zap.L().With(zap.String("component", "monitoring.checker")),
		lastSent:    make(map[AlertType]time.Time),
	}
	if c.interval <= 0 {
		c.interval = 15 * time.Minute
	}
	if c.lookback <= 0 {
		c.lookback = 72
	}
	if c.repeatAfter <= 0 {
		c.repeatAfter = 6 * time.Hour
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run checks on every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("starting alert checker",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
		zap.Duration("repeat_after", c.repeatAfter),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one pass and returns the number of alerts sent. Alerts held back
// by the repeat interval are not counted.
func (c *Checker) Check(ctx context.Context) int {
	var alerts []Alert

	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("failed to collect run log", zap.Error(err))
	} else {
		alerts = append(alerts, c.alerter.EvaluateSnapshot(snap)...)
	}
	if c.breaker != nil {
		if st, ok := c.breaker(); ok {
			alerts = append(alerts, c.alerter.EvaluateBreaker(st)...)
		}
	}

	due := c.due(alerts)
	if len(due) == 0 {
		c.log.Debug("no alerts due", zap.Int("held_back", len(alerts)))
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, due)
	c.log.Info("alert check complete",
		zap.Int("alerts_due", len(due)),
		zap.Int("alerts_sent", sent),
		zap.Int("held_back", len(alerts)-len(due)),
	)
	return len(due)
}

// due filters out alert types sent within the repeat interval and marks the
// rest as sent.
func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := alerts[:0:0]
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.repeatAfter {
			continue
		}
		c.lastSent[a.Type] = now
		out = append(out, a)
	}
	return out
}
