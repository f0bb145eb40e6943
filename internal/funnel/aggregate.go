package funnel

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sells-group/funnel-sync/internal/model"
)

// accumulator is the running sum for one funnel within one account-window.
type accumulator struct {
	funnelID    string
	spend       decimal.Decimal
	impressions int64
	reach       int64
	clicks      int64
}

// Aggregator folds campaign insights of one account-window into per-funnel
// accumulators. It is not safe for concurrent use; one Aggregator serves one
// account-window and is finalized exactly once.
type Aggregator struct {
	window    model.Window
	accountID string
	accs      map[string]*accumulator
	finalized bool
}

// NewAggregator creates an empty aggregator for the given account and window.
func NewAggregator(accountID string, w model.Window) *Aggregator {
	return &Aggregator{
		window:    w,
		accountID: accountID,
		accs:      make(map[string]*accumulator),
	}
}

// Fold classifies an insight by its campaign name and adds its metrics to the
// matching accumulator. Folding after Finalize is a no-op.
func (a *Aggregator) Fold(in model.CampaignInsight) {
	if a.finalized {
		return
	}
	id := Classify(in.CampaignName)
	acc, ok := a.accs[id]
	if !ok {
		acc = &accumulator{funnelID: id}
		a.accs[id] = acc
	}
	acc.spend = acc.spend.Add(in.Spend)
	acc.impressions += in.Impressions
	acc.reach += in.Reach
	acc.clicks += in.Clicks
}

// Len returns the number of funnels seen so far.
func (a *Aggregator) Len() int { return len(a.accs) }

// Finalize computes derived metrics and returns one row per funnel, sorted by
// funnel id. Campaign-level detail is dropped. The second and later calls
// return nil.
func (a *Aggregator) Finalize() []model.FunnelRow {
	if a.finalized {
		return nil
	}
	a.finalized = true
	if len(a.accs) == 0 {
		return nil
	}

	rows := make([]model.FunnelRow, 0, len(a.accs))
	for _, acc := range a.accs {
		rows = append(rows, model.FunnelRow{
			Key: model.FunnelKey{
				StartDate: a.window.Start,
				EndDate:   a.window.End,
				FunnelID:  acc.funnelID,
			},
			FunnelName:    Name(acc.funnelID),
			AccountID:     a.accountID,
			AmountSpent:   acc.spend,
			Impressions:   acc.impressions,
			Reach:         acc.reach,
			AdsLinkClicks: acc.clicks,
			Frequency:     Frequency(acc.impressions, acc.reach),
			LinkCTR:       LinkCTR(acc.clicks, acc.impressions),
			IsCurrentWeek: true,
		})
	}
	a.accs = nil

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Key.FunnelID < rows[j].Key.FunnelID
	})
	return rows
}

// Aggregate folds all insights and finalizes in one step.
func Aggregate(accountID string, w model.Window, insights []model.CampaignInsight) []model.FunnelRow {
	agg := NewAggregator(accountID, w)
	for _, in := range insights {
		agg.Fold(in)
	}
	return agg.Finalize()
}

// Frequency is impressions per reached user, or 0 when reach is 0.
func Frequency(impressions, reach int64) float64 {
	if reach <= 0 {
		return 0
	}
	return float64(impressions) / float64(reach)
}

// LinkCTR is the link click-through rate in percent, or nil when there were no
// impressions.
func LinkCTR(clicks, impressions int64) *float64 {
	if impressions <= 0 {
		return nil
	}
	ctr := float64(clicks) * 100 / float64(impressions)
	return &ctr
}
