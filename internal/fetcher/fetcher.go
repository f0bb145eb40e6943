// Package fetcher turns ads API responses into domain records: it enumerates
// the ad accounts to sync and pulls campaign-level insights for one account
// and window.
package fetcher

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/model"
	"github.com/sells-group/funnel-sync/internal/resilience"
	"github.com/sells-group/funnel-sync/pkg/metaads"
)

// Result is the fetched data of one account-window.
type Result struct {
	Campaigns   []model.Campaign
	Insights    []model.CampaignInsight
	ShapeIssues int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBreaker routes every API call through cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(f *Fetcher) {
		f.breaker = cb
	}
}

// WithAllowList restricts Accounts to the given ids. Ids are compared without
// the act_ prefix. An empty list allows every account.
func WithAllowList(ids []string) Option {
	return func(f *Fetcher) {
		if len(ids) == 0 {
			f.allow = nil
			return
		}
		f.allow = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			f.allow[NormalizeAccountID(id)] = struct{}{}
		}
	}
}

// Fetcher reads accounts and insights from the ads API.
type Fetcher struct {
	client  metaads.Client
	breaker *resilience.CircuitBreaker
	allow   map[string]struct{}
	log     *zap.Logger
}

// New creates a Fetcher over the given client.
func New(client metaads.Client, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: client,
		log:    zap.L().With(zap.String("component", "fetcher")),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// BreakerStatus reports the API circuit breaker, or false when none is
// installed.
func (f *Fetcher) BreakerStatus() (resilience.BreakerStatus, bool) {
	if f.breaker == nil {
		return resilience.BreakerStatus{}, false
	}
	return f.breaker.Status(), true
}

// ShouldTrip reports whether err should count against the API circuit
// breaker. Client errors (4xx) are specific to one account and cancellation is
// ours, so neither trips.
func ShouldTrip(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *metaads.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}

// NormalizeAccountID strips the act_ prefix.
func NormalizeAccountID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "act_")
}

// Accounts lists the ad accounts visible to the token, filtered by the
// allow-list. Inactive accounts are returned; the caller decides to skip them.
func (f *Fetcher) Accounts(ctx context.Context) ([]model.Account, error) {
	raw, err := call(ctx, f.breaker, func(ctx context.Context) ([]metaads.AdAccount, error) {
		return f.client.ListAdAccounts(ctx)
	})
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: list ad accounts")
	}

	accounts := make([]model.Account, 0, len(raw))
	for _, a := range raw {
		id := a.AccountID
		if id == "" {
			id = a.ID
		}
		id = NormalizeAccountID(id)
		if id == "" {
			continue
		}
		if f.allow != nil {
			if _, ok := f.allow[id]; !ok {
				continue
			}
		}
		accounts = append(accounts, model.Account{ID: id, Name: a.Name, Status: a.AccountStatus})
	}
	if f.allow != nil && len(accounts) < len(f.allow) {
		f.log.Warn("some allow-listed accounts are not visible to the token",
			zap.Int("allowed", len(f.allow)),
			zap.Int("visible", len(accounts)),
		)
	}
	return accounts, nil
}

// Fetch retrieves the campaigns and campaign-level insights of one account
// for the window. On any API error it returns an empty result and the error.
func (f *Fetcher) Fetch(ctx context.Context, acct model.Account, w model.Window) (*Result, error) {
	log := f.log.With(zap.String("account_id", acct.ID), zap.String("window", w.String()))

	rawCampaigns, err := call(ctx, f.breaker, func(ctx context.Context) ([]metaads.Campaign, error) {
		return f.client.ListCampaigns(ctx, acct.ID)
	})
	if err != nil {
		return &Result{}, eris.Wrapf(err, "fetcher: list campaigns for %s", acct.ID)
	}

	rawInsights, err := call(ctx, f.breaker, func(ctx context.Context) ([]metaads.Insight, error) {
		return f.client.ListInsights(ctx, acct.ID, metaads.TimeRange{Since: w.Since(), Until: w.Until()})
	})
	if err != nil {
		return &Result{}, eris.Wrapf(err, "fetcher: list insights for %s", acct.ID)
	}

	res := &Result{
		Campaigns: make([]model.Campaign, 0, len(rawCampaigns)),
		Insights:  make([]model.CampaignInsight, 0, len(rawInsights)),
	}
	names := make(map[string]string, len(rawCampaigns))
	for _, c := range rawCampaigns {
		res.Campaigns = append(res.Campaigns, model.Campaign{ID: c.ID, Name: c.Name, Status: c.Status})
		if c.Name != "" {
			names[c.ID] = c.Name
		}
	}

	for _, raw := range rawInsights {
		in, issues := convert(raw, names)
		if issues > 0 {
			log.Warn("insight has malformed metrics, treating them as zero",
				zap.String("campaign_id", raw.CampaignID),
				zap.Int("fields", issues),
			)
		}
		res.ShapeIssues += issues
		res.Insights = append(res.Insights, in)
	}

	log.Debug("fetched account",
		zap.Int("campaigns", len(res.Campaigns)),
		zap.Int("insights", len(res.Insights)),
	)
	return res, nil
}

// convert maps a raw insight to a domain record. Absent fields are zero.
// Present but non-numeric or negative fields are zero and counted as issues.
func convert(raw metaads.Insight, names map[string]string) (model.CampaignInsight, int) {
	issues := 0

	spend, ok := raw.Spend.Decimal()
	if !ok && raw.Spend.Present() {
		issues++
	}
	if spend.IsNegative() {
		spend = decimal.Zero
		issues++
	}

	count := func(n metaads.Number) int64 {
		v, ok := n.Int()
		if !ok && n.Present() {
			issues++
		}
		if v < 0 {
			issues++
			return 0
		}
		return v
	}

	name := strings.TrimSpace(raw.CampaignName)
	if name == "" {
		name = names[raw.CampaignID]
	}
	if name == "" {
		name = model.UnknownCampaignName
	}

	return model.CampaignInsight{
		CampaignID:   raw.CampaignID,
		CampaignName: name,
		Spend:        spend,
		Impressions:  count(raw.Impressions),
		Reach:        count(raw.Reach),
		Clicks:       count(raw.Clicks),
	}, issues
}

func call[T any](ctx context.Context, cb *resilience.CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if cb == nil {
		return fn(ctx)
	}
	return resilience.ExecuteVal(ctx, cb, fn)
}
