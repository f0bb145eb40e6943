// Package metaads is a read-only client for the Meta Marketing (Graph) API
// endpoints used by the funnel sync: ad accounts, campaigns and campaign-level
// insights.
package metaads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL  = "https://graph.facebook.com/v19.0"
	defaultPageSize = 1000
	maxPageSize     = 1000
	defaultMaxPages = 50
)

// Client reads ad accounts, campaigns and insights.
type Client interface {
	ListAdAccounts(ctx context.Context) ([]AdAccount, error)
	ListCampaigns(ctx context.Context, accountID string) ([]Campaign, error)
	ListInsights(ctx context.Context, accountID string, tr TimeRange) ([]Insight, error)
}

// AdAccount is an entry of GET /me/adaccounts.
type AdAccount struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	Name          string `json:"name"`
	AccountStatus int    `json:"account_status"`
}

// Campaign is an entry of GET /{account}/campaigns.
type Campaign struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Insight is a campaign-level entry of GET /{account}/insights.
type Insight struct {
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	Spend        Number `json:"spend"`
	Impressions  Number `json:"impressions"`
	Reach        Number `json:"reach"`
	Clicks       Number `json:"clicks"`
	DateStart    string `json:"date_start"`
	DateStop     string `json:"date_stop"`
}

// TimeRange is the inclusive date range of an insights query, in YYYY-MM-DD form.
type TimeRange struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

// InsightFields is the field list requested for campaign insights.
var InsightFields = []string{"campaign_id", "campaign_name", "spend", "impressions", "reach", "clicks"}

// APIError is an error payload returned by the Graph API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("metaads: api error %d (%s, code %d): %s", e.StatusCode, e.Type, e.Code, e.Message)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithPageSize sets the per-call page size, capped at 1000.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = min(n, maxPageSize)
		}
	}
}

// WithMaxPages bounds how many pages a single list call follows.
func WithMaxPages(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithRateLimit paces outgoing requests. A zero limit disables pacing.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec)))
	}
}

// WithRetries sets how many times a transport error or 5xx response is retried.
func WithRetries(n int, base time.Duration) Option {
	return func(c *httpClient) {
		c.maxRetries = max(0, n)
		if base > 0 {
			c.backoffBase = base
		}
	}
}

type httpClient struct {
	token       string
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
	pageSize    int
	maxPages    int
	maxRetries  int
	backoffBase time.Duration
}

// NewClient creates an ads API client authenticated with the given access token.
func NewClient(accessToken string, opts ...Option) Client {
	c := &httpClient{
		token:   accessToken,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:     rate.NewLimiter(5, 5),
		pageSize:    defaultPageSize,
		maxPages:    defaultMaxPages,
		maxRetries:  2,
		backoffBase: time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) ListAdAccounts(ctx context.Context) ([]AdAccount, error) {
	params := url.Values{}
	params.Set("fields", "id,account_id,name,account_status")
	return getPaged[AdAccount](ctx, c, "/me/adaccounts", params)
}

func (c *httpClient) ListCampaigns(ctx context.Context, accountID string) ([]Campaign, error) {
	params := url.Values{}
	params.Set("fields", "id,name,status")
	return getPaged[Campaign](ctx, c, "/"+ActPath(accountID)+"/campaigns", params)
}

func (c *httpClient) ListInsights(ctx context.Context, accountID string, tr TimeRange) ([]Insight, error) {
	trJSON, err := json.Marshal(tr)
	if err != nil {
		return nil, eris.Wrap(err, "metaads: marshal time range")
	}
	params := url.Values{}
	params.Set("level", "campaign")
	params.Set("fields", strings.Join(InsightFields, ","))
	params.Set("time_range", string(trJSON))
	return getPaged[Insight](ctx, c, "/"+ActPath(accountID)+"/insights", params)
}

// ActPath returns the Graph node id of an ad account, adding the act_ prefix
// when the id is bare.
func ActPath(accountID string) string {
	if strings.HasPrefix(accountID, "act_") {
		return accountID
	}
	return "act_" + accountID
}

type page[T any] struct {
	Data   []T `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// getPaged follows paging.next until exhausted. Exceeding maxPages is an error.
func getPaged[T any](ctx context.Context, c *httpClient, path string, params url.Values) ([]T, error) {
	params.Set("limit", fmt.Sprint(c.pageSize))
	next := c.baseURL + path + "?" + params.Encode()

	var out []T
	for pages := 0; next != ""; pages++ {
		if pages >= c.maxPages {
			return nil, eris.Errorf("metaads: %s exceeded %d pages", path, c.maxPages)
		}
		var p page[T]
		if err := c.getJSON(ctx, next, &p); err != nil {
			return nil, eris.Wrapf(err, "metaads: list %s", path)
		}
		out = append(out, p.Data...)
		next = stripToken(p.Paging.Next)
	}
	return out, nil
}

func (c *httpClient) getJSON(ctx context.Context, rawURL string, dst any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.backoff(ctx, attempt-1)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			var urlErr *url.Error
			if errors.As(err, &urlErr) {
				urlErr.URL = redact(urlErr.URL)
			}
			if ctx.Err() != nil {
				return eris.Wrap(ctx.Err(), "send request")
			}
			lastErr = eris.Wrap(err, "send request")
			zap.L().Warn("metaads: request failed",
				zap.String("path", redact(rawURL)),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = eris.Wrap(err, "read response")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := parseAPIError(resp.StatusCode, body)
			if resp.StatusCode >= 500 {
				lastErr = apiErr
				zap.L().Warn("metaads: server error",
					zap.String("path", redact(rawURL)),
					zap.Int("status", resp.StatusCode),
					zap.Int("attempt", attempt+1),
				)
				continue
			}
			return apiErr
		}

		if err := json.Unmarshal(body, dst); err != nil {
			return eris.Wrap(err, "unmarshal response")
		}
		return nil
	}
	return eris.Wrap(lastErr, "all retries exhausted")
}

func (c *httpClient) backoff(ctx context.Context, attempt int) {
	d := time.Duration(float64(c.backoffBase) * math.Pow(2, float64(attempt)))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	if half := int64(d) / 2; half > 0 {
		d += time.Duration(rand.Int64N(half))
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func parseAPIError(status int, body []byte) *APIError {
	var wrapper struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil {
		wrapper.Error.StatusCode = status
		return wrapper.Error
	}
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &APIError{StatusCode: status, Message: msg}
}

// stripToken drops any access_token the API echoes back in a paging link.
func stripToken(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	if !q.Has("access_token") {
		return rawURL
	}
	q.Del("access_token")
	u.RawQuery = q.Encode()
	return u.String()
}

// redact strips the query string so request URLs can be logged and returned.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}
