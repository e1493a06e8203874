// Package polymarket fetches markets, leaderboards and wallet activity from
// the Polymarket Gamma and Data APIs.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/polytipster/internal/logger"
	"github.com/rewired-gh/polytipster/internal/metrics"
	"github.com/rewired-gh/polytipster/internal/models"
	"github.com/rewired-gh/polytipster/internal/smartmoney"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned for 404 responses. Fetch helpers turn it into an
// empty result.
var ErrNotFound = errors.New("not found")

// ClientConfig holds retry, rate limit and connection pool settings.
type ClientConfig struct {
	MaxRetries          int
	RetryDelayBase      time.Duration
	RequestsPerSecond   float64
	Burst               int
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// Client provides access to the Polymarket APIs.
type Client struct {
	gammaAPIURL    string
	dataAPIURL     string
	httpClient     *http.Client
	timeout        time.Duration
	limiter        *rate.Limiter
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Polymarket client.
func NewClient(gammaAPIURL, dataAPIURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	return &Client{
		gammaAPIURL:    strings.TrimRight(gammaAPIURL, "/"),
		dataAPIURL:     strings.TrimRight(dataAPIURL, "/"),
		httpClient:     &http.Client{Transport: transport},
		timeout:        timeout,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// flexFloat decodes numbers that the APIs send either as JSON numbers or as
// numeric strings. Empty strings and null decode to zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", b, err)
	}
	*f = flexFloat(v)
	return nil
}

// GammaMarket represents a market from the Gamma API.
type GammaMarket struct {
	ID            string    `json:"id"`
	ConditionID   string    `json:"conditionId"`
	Question      string    `json:"question"`
	Slug          string    `json:"slug"`
	Active        bool      `json:"active"`
	Closed        bool      `json:"closed"`
	Outcomes      string    `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	OutcomePrices string    `json:"outcomePrices"` // JSON string: "[\"0.75\", \"0.25\"]"
	Volume        flexFloat `json:"volume"`
	Liquidity     flexFloat `json:"liquidity"`
	EndDate       string    `json:"endDate"`
}

type leaderboardRow struct {
	ProxyWallet string    `json:"proxyWallet"`
	UserName    string    `json:"userName"`
	PnL         flexFloat `json:"pnl"`
	Vol         flexFloat `json:"vol"`
}

type closedPositionRow struct {
	RealizedPnL flexFloat `json:"realizedPnl"`
	TotalBought flexFloat `json:"totalBought"`
	AvgPrice    flexFloat `json:"avgPrice"`
}

// Activity is one trade from the Data API activity feed.
type Activity struct {
	Timestamp    int64     `json:"timestamp"`
	Size         flexFloat `json:"size"`
	Price        flexFloat `json:"price"`
	ConditionID  string    `json:"conditionId"`
	Outcome      string    `json:"outcome"`
	OutcomeIndex int       `json:"outcomeIndex"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
}

// FetchMarkets retrieves active, open markets ordered by 24h volume.
func (c *Client) FetchMarkets(ctx context.Context, limit int) ([]GammaMarket, error) {
	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")

	var markets []GammaMarket
	if err := c.get(ctx, "markets", c.gammaAPIURL+"/markets?"+q.Encode(), &markets); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	return markets, nil
}

// FetchLeaderboard retrieves one leaderboard page ordered by PnL.
func (c *Client) FetchLeaderboard(ctx context.Context, category, period string, limit int) ([]smartmoney.LeaderboardEntry, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("timePeriod", period)
	q.Set("orderBy", "PNL")
	q.Set("limit", strconv.Itoa(limit))

	var rows []leaderboardRow
	if err := c.get(ctx, "leaderboard", c.dataAPIURL+"/v1/leaderboard?"+q.Encode(), &rows); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch %s/%s leaderboard: %w", category, period, err)
	}

	entries := make([]smartmoney.LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		if r.ProxyWallet == "" {
			continue
		}
		entries = append(entries, smartmoney.LeaderboardEntry{
			Address:  r.ProxyWallet,
			Username: r.UserName,
			Period:   period,
			PnL:      float64(r.PnL),
			Volume:   float64(r.Vol),
		})
	}
	return entries, nil
}

// FetchClosedPositions retrieves a wallet's closed positions, largest
// realized PnL first.
func (c *Client) FetchClosedPositions(ctx context.Context, user string, limit int) ([]smartmoney.ClosedPosition, error) {
	q := url.Values{}
	q.Set("user", user)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sortBy", "REALIZEDPNL")
	q.Set("sortDirection", "DESC")

	var rows []closedPositionRow
	if err := c.get(ctx, "closed-positions", c.dataAPIURL+"/closed-positions?"+q.Encode(), &rows); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch closed positions for %s: %w", user, err)
	}

	positions := make([]smartmoney.ClosedPosition, len(rows))
	for i, r := range rows {
		positions[i] = smartmoney.ClosedPosition{
			RealizedPnL: float64(r.RealizedPnL),
			TotalBought: float64(r.TotalBought),
			AvgPrice:    float64(r.AvgPrice),
		}
	}
	return positions, nil
}

// FetchActivity retrieves a wallet's buy trades since start (unix seconds),
// newest first.
func (c *Client) FetchActivity(ctx context.Context, user string, start int64, limit int) ([]Activity, error) {
	q := url.Values{}
	q.Set("user", user)
	q.Set("type", "TRADE")
	q.Set("side", "BUY")
	q.Set("start", strconv.FormatInt(start, 10))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sortBy", "TIMESTAMP")
	q.Set("sortDirection", "DESC")

	var acts []Activity
	if err := c.get(ctx, "activity", c.dataAPIURL+"/activity?"+q.Encode(), &acts); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch activity for %s: %w", user, err)
	}
	return acts, nil
}

// ToSnapshot converts a Gamma market into a snapshot. The market id is the
// condition id, falling back to the Gamma id.
func ToSnapshot(m GammaMarket) (models.MarketSnapshot, error) {
	id := m.ConditionID
	if id == "" {
		id = m.ID
	}

	yes, err := parseYesPrice(m.Outcomes, m.OutcomePrices)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("%w: market %s: %v", models.ErrInvalid, id, err)
	}

	s := models.MarketSnapshot{
		MarketID:       id,
		Question:       m.Question,
		Slug:           m.Slug,
		YesProbability: yes,
		VolumeUSD:      float64(m.Volume),
		LiquidityUSD:   float64(m.Liquidity),
	}
	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			s.EndDate = t
		}
	}
	return s, s.Validate()
}

// parseYesPrice extracts the Yes price. Without an outcomes list the first
// price is taken.
func parseYesPrice(outcomesJSON, pricesJSON string) (float64, error) {
	var prices []string
	if err := json.Unmarshal([]byte(pricesJSON), &prices); err != nil {
		return 0, fmt.Errorf("failed to parse outcome prices: %w", err)
	}
	if len(prices) == 0 {
		return 0, errors.New("no outcome prices")
	}

	idx := 0
	var outcomes []string
	if outcomesJSON != "" && json.Unmarshal([]byte(outcomesJSON), &outcomes) == nil {
		for i, o := range outcomes {
			if strings.EqualFold(o, "Yes") {
				idx = i
				break
			}
		}
	}
	if idx >= len(prices) {
		return 0, fmt.Errorf("no price for outcome %d", idx)
	}

	p, err := strconv.ParseFloat(prices[idx], 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price %q: %w", prices[idx], err)
	}
	return p, nil
}

// get performs a GET with rate limiting and bounded retry. Server errors and
// transport failures back off linearly, 429 backs off exponentially.
func (c *Client) get(ctx context.Context, endpoint, urlStr string, out any) error {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		status, err := c.do(ctx, urlStr, out)
		metrics.APIRequests.WithLabelValues(endpoint, statusLabel(status)).Inc()

		var backoff time.Duration
		switch {
		case err == nil:
			return nil
		case status == http.StatusNotFound:
			return ErrNotFound
		case status == http.StatusTooManyRequests:
			backoff = c.retryDelayBase * time.Duration(math.Pow(2, float64(attempt)))
			logger.Warn("Rate limited by %s, backing off %v", endpoint, backoff)
		case status == 0 || status >= 500:
			backoff = c.retryDelayBase * time.Duration(attempt+1)
			logger.Debug("Request to %s failed (attempt %d/%d): %v", endpoint, attempt+1, c.maxRetries, err)
		default:
			return err
		}
		lastErr = err

		if attempt == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// do performs one request. status is 0 when no response was received.
func (c *Client) do(ctx context.Context, urlStr string, out any) (int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
