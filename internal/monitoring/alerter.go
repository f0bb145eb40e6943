package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/config"
	"github.com/sells-group/funnel-sync/internal/model"
	"github.com/sells-group/funnel-sync/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCycleFailure   AlertType = "cycle_failure"
	AlertAccountFailure AlertType = "account_failures"
	AlertWriteFailure   AlertType = "write_failures"
	AlertFailureRate    AlertType = "cycle_failure_rate"
	AlertStaleData      AlertType = "stale_data"
	AlertBreakerOpen    AlertType = "ads_api_breaker_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns finished runs and run-log snapshots into alerts and sends
// them via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate checks one finished cycle and returns any alerts.
func (a *Alerter) Evaluate(run model.Run) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	details := map[string]any{
		"run_id":  run.ID,
		"trigger": string(run.Trigger),
		"window":  run.Window.String(),
	}

	if run.Status == model.RunStatusFailed {
		alerts = append(alerts, Alert{
			Type:      AlertCycleFailure,
			Severity:  "high",
			Message:   fmt.Sprintf("Funnel sync cycle for %s failed: %s", run.Window, run.Error),
			Details:   withDetails(details, "error", run.Error),
			Timestamp: now,
		})
	}

	if run.Counts.AccountsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertAccountFailure,
			Severity: "medium",
			Message: fmt.Sprintf("%d of %d ad account(s) failed to sync for %s",
				run.Counts.AccountsFailed, run.Counts.AccountsTotal, run.Window),
			Details: withDetails(details,
				"accounts_failed", run.Counts.AccountsFailed,
				"accounts_total", run.Counts.AccountsTotal),
			Timestamp: now,
		})
	}

	if run.Counts.WriteFailures > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertWriteFailure,
			Severity: "medium",
			Message: fmt.Sprintf("%d funnel row(s) failed to write for %s",
				run.Counts.WriteFailures, run.Window),
			Details:   withDetails(details, "write_failures", run.Counts.WriteFailures),
			Timestamp: now,
		})
	}

	return alerts
}

// EvaluateSnapshot checks the recent run history and returns any alerts.
func (a *Alerter) EvaluateSnapshot(snap *Snapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= 3 && a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Sync cycle failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterHours > 0 {
		limit := time.Duration(a.cfg.StaleAfterHours) * time.Hour
		switch {
		case snap.LastSuccessAt != nil && now.Sub(*snap.LastSuccessAt) > limit:
			alerts = append(alerts, Alert{
				Type:     AlertStaleData,
				Severity: "high",
				Message: fmt.Sprintf("No successful funnel sync since %s (more than %dh ago)",
					snap.LastSuccessAt.Format(time.RFC3339), a.cfg.StaleAfterHours),
				Details: map[string]any{
					"last_success_at":   *snap.LastSuccessAt,
					"stale_after_hours": a.cfg.StaleAfterHours,
				},
				Timestamp: now,
			})
		case snap.LastSuccessAt == nil && snap.RunsTotal > 0:
			alerts = append(alerts, Alert{
				Type:     AlertStaleData,
				Severity: "high",
				Message:  fmt.Sprintf("No successful funnel sync among %d recorded run(s)", snap.RunsTotal),
				Details: map[string]any{
					"runs_total": snap.RunsTotal,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// EvaluateBreaker alerts while the ads API circuit is open.
func (a *Alerter) EvaluateBreaker(st resilience.BreakerStatus) []Alert {
	if st.State != resilience.CircuitOpen {
		return nil
	}
	details := map[string]any{
		"consecutive_failures": st.ConsecutiveFailures,
		"trips":                st.Trips,
	}
	msg := fmt.Sprintf("Ads API circuit breaker is open after %d consecutive failures", st.ConsecutiveFailures)
	if st.OpenedAt != nil {
		details["opened_at"] = *st.OpenedAt
		msg += " (since " + st.OpenedAt.UTC().Format(time.RFC3339) + ")"
	}
	return []Alert{{
		Type:      AlertBreakerOpen,
		Severity:  "high",
		Message:   msg,
		Details:   details,
		Timestamp: a.now().UTC(),
	}}
}

func withDetails(base map[string]any, kv ...any) map[string]any {
	out := make(map[string]any, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
