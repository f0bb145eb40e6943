package model

import "github.com/shopspring/decimal"

// AccountStatusActive is the ads API account_status value for an active account.
const AccountStatusActive = 1

// UnknownCampaignName is used when neither the insight nor the campaign list
// carries a name for a campaign.
const UnknownCampaignName = "Unknown Campaign"

// Account is an ad account returned by the account enumerator.
type Account struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Status int    `json:"status" yaml:"status"`
}

// Active reports whether the account should be synced.
func (a Account) Active() bool { return a.Status == AccountStatusActive }

// Campaign is campaign metadata for one account.
type Campaign struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// CampaignInsight is one campaign's performance over one window. It lives only
// for the duration of a fetch cycle.
type CampaignInsight struct {
	CampaignID   string          `json:"campaign_id"`
	CampaignName string          `json:"campaign_name"`
	Spend        decimal.Decimal `json:"spend"`
	Impressions  int64           `json:"impressions"`
	Reach        int64           `json:"reach"`
	Clicks       int64           `json:"clicks"`
}
