package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnknownFunnelID is the funnel id for campaigns without a funnel token.
const UnknownFunnelID = "unknown"

// FunnelKey is the uniqueness tuple of a persisted funnel row.
type FunnelKey struct {
	StartDate time.Time `json:"start_date" yaml:"start_date"`
	EndDate   time.Time `json:"end_date" yaml:"end_date"`
	FunnelID  string    `json:"funnel_id" yaml:"funnel_id"`
}

// String renders the key for logs.
func (k FunnelKey) String() string {
	return k.StartDate.Format(DateLayout) + ".." + k.EndDate.Format(DateLayout) + "/" + k.FunnelID
}

// FunnelRow is a finalized per-funnel rollup for one window. It is the
// persisted shape: campaign-level detail is not part of it.
type FunnelRow struct {
	Key           FunnelKey       `json:"key" yaml:"key"`
	FunnelName    string          `json:"funnel_name" yaml:"funnel_name"`
	AccountID     string          `json:"account_id" yaml:"account_id"`
	AmountSpent   decimal.Decimal `json:"amount_spent" yaml:"amount_spent"`
	Impressions   int64           `json:"impressions" yaml:"impressions"`
	Reach         int64           `json:"reach" yaml:"reach"`
	AdsLinkClicks int64           `json:"ads_link_clicks" yaml:"ads_link_clicks"`
	Frequency     float64         `json:"frequency" yaml:"frequency"`
	LinkCTR       *float64        `json:"link_ctr,omitempty" yaml:"link_ctr,omitempty"`
	IsCurrentWeek bool            `json:"is_current_week" yaml:"is_current_week"`
	UpdatedAt     time.Time       `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}
