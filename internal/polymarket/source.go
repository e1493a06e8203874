package polymarket

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/polytipster/internal/logger"
	"github.com/rewired-gh/polytipster/internal/models"
	"github.com/rewired-gh/polytipster/internal/smartmoney"
)

// WalletStore checkpoints the tracked wallet list.
type WalletStore interface {
	SaveWallets(wallets []models.SmartWallet) error
	LoadWallets() ([]models.SmartWallet, error)
}

// SourceConfig controls what a Source fetches each poll.
type SourceConfig struct {
	MarketLimit          int
	ScannerEnabled       bool
	SmartMoneyEnabled    bool
	Categories           []string
	LeaderboardLimit     int
	ClosedPositionsLimit int
	RefreshInterval      time.Duration
	ActivityLookback     time.Duration
	ActivityLimit        int
	Criteria             smartmoney.Criteria
	TradeFilter          TradeFilter
}

// TradeFilter pre-screens wallet trades before they reach the convergence
// detector. A zero field disables its check. Market probability and
// liquidity come from the same poll's snapshots when the market is present;
// otherwise the trade price stands in for probability and liquidity is not
// checked.
type TradeFilter struct {
	MaxProbability      float64
	LongshotProbability float64
	LongshotMinUSD      float64
	MinMarketLiquidity  float64
}

func (f TradeFilter) enabled() bool {
	return f.MaxProbability > 0 || f.LongshotProbability > 0 || f.MinMarketLiquidity > 0
}

// allows reports whether a trade passes the filter.
func (f TradeFilter) allows(ev models.WalletTradeEvent, markets map[string]models.MarketSnapshot) bool {
	prob := ev.Price
	if m, ok := markets[ev.MarketID]; ok {
		prob = m.YesProbability
		if ev.Side == models.SideNo {
			prob = 1 - prob
		}
		if f.MinMarketLiquidity > 0 && m.LiquidityUSD < f.MinMarketLiquidity {
			return false
		}
	}
	if f.MaxProbability > 0 && prob > f.MaxProbability {
		return false
	}
	if f.LongshotProbability > 0 && prob < f.LongshotProbability && ev.SizeUSD < f.LongshotMinUSD {
		return false
	}
	return true
}

// Source assembles polls from the Polymarket APIs and owns the tracked
// wallet list. It is driven by a single scheduler goroutine.
type Source struct {
	client      *Client
	store       WalletStore
	config      SourceConfig
	wallets     []models.SmartWallet
	lastRefresh time.Time
}

// NewSource creates a source. store may be nil.
func NewSource(client *Client, store WalletStore, config SourceConfig) *Source {
	if config.ClosedPositionsLimit <= 0 {
		config.ClosedPositionsLimit = 50
	}
	if config.ActivityLimit <= 0 {
		config.ActivityLimit = 30
	}
	if config.LeaderboardLimit <= 0 {
		config.LeaderboardLimit = 50
	}
	return &Source{client: client, store: store, config: config}
}

// LoadWallets restores the wallet checkpoint. The next refresh is scheduled
// relative to the newest restored wallet.
func (s *Source) LoadWallets() error {
	if s.store == nil {
		return nil
	}
	wallets, err := s.store.LoadWallets()
	if err != nil {
		return fmt.Errorf("failed to load wallets: %w", err)
	}
	s.wallets = wallets
	for _, w := range wallets {
		if w.UpdatedAt.After(s.lastRefresh) {
			s.lastRefresh = w.UpdatedAt
		}
	}
	if len(wallets) > 0 {
		logger.Info("Restored %d tracked wallets", len(wallets))
	}
	return nil
}

// Wallets returns a copy of the tracked wallet list.
func (s *Source) Wallets() []models.SmartWallet {
	return append([]models.SmartWallet(nil), s.wallets...)
}

// Fetch produces one poll. A market fetch failure fails the poll; wallet
// refresh and per-wallet activity failures are logged and skipped.
func (s *Source) Fetch(ctx context.Context, now time.Time) (*models.Poll, error) {
	poll := &models.Poll{FetchedAt: now}

	if s.config.ScannerEnabled {
		markets, err := s.client.FetchMarkets(ctx, s.config.MarketLimit)
		if err != nil {
			return nil, &models.FetchError{Source: "gamma markets", Err: err}
		}
		for _, m := range markets {
			if m.Closed || !m.Active {
				continue
			}
			snap, err := ToSnapshot(m)
			if err != nil {
				poll.SkippedMarkets++
				logger.Debug("Skipping market: %v", err)
				continue
			}
			poll.Markets = append(poll.Markets, snap)
		}
	}

	if !s.config.SmartMoneyEnabled {
		return poll, nil
	}

	if len(s.wallets) == 0 || now.Sub(s.lastRefresh) >= s.config.RefreshInterval {
		fresh, err := s.RefreshWallets(ctx, now)
		s.lastRefresh = now
		switch {
		case err != nil:
			logger.Warn("Wallet refresh failed, keeping %d wallets: %v", len(s.wallets), err)
		case len(fresh) == 0:
			logger.Warn("No wallets qualified, keeping previous %d", len(s.wallets))
		default:
			smartmoney.CarryOver(fresh, s.wallets)
			s.wallets = fresh
			poll.WalletsRefreshed = true
			logger.Info("Now tracking %d wallets", len(fresh))
		}
	}

	var markets map[string]models.MarketSnapshot
	if s.config.TradeFilter.enabled() {
		markets = make(map[string]models.MarketSnapshot, len(poll.Markets))
		for _, m := range poll.Markets {
			markets[m.MarketID] = m
		}
	}

	// Cursors are committed only once the whole poll succeeds.
	log := logger.WithComponent("polymarket")
	start := now.Add(-s.config.ActivityLookback).Unix()
	cursors := make(map[string]int64, len(s.wallets))
	filtered := 0
	for _, w := range s.wallets {
		if err := ctx.Err(); err != nil {
			return nil, &models.FetchError{Source: "wallet activity", Err: err}
		}
		acts, err := s.client.FetchActivity(ctx, w.Address, start, s.config.ActivityLimit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &models.FetchError{Source: "wallet activity", Err: ctx.Err()}
			}
			log.WithField("wallet", models.ShortAddress(w.Address)).Warnf("Skipping wallet activity: %v", err)
			continue
		}

		maxTS := w.LastSeenTradeTS
		for _, a := range acts {
			if a.Timestamp <= w.LastSeenTradeTS {
				continue
			}
			if a.Timestamp > maxTS {
				maxTS = a.Timestamp
			}
			ev, ok := tradeEvent(w, a)
			if !ok {
				poll.SkippedTrades++
				continue
			}
			if markets != nil && !s.config.TradeFilter.allows(ev, markets) {
				filtered++
				continue
			}
			poll.Trades = append(poll.Trades, ev)
		}
		if maxTS > w.LastSeenTradeTS {
			cursors[w.Address] = maxTS
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &models.FetchError{Source: "wallet activity", Err: err}
	}
	for i := range s.wallets {
		if ts, ok := cursors[s.wallets[i].Address]; ok {
			s.wallets[i].LastSeenTradeTS = ts
		}
	}
	if filtered > 0 {
		log.Debugf("Trade pre-filter dropped %d of %d new trades", filtered, filtered+len(poll.Trades))
	}

	sort.SliceStable(poll.Trades, func(i, j int) bool {
		return poll.Trades[i].Timestamp.Before(poll.Trades[j].Timestamp)
	})

	if s.store != nil {
		if err := s.store.SaveWallets(s.wallets); err != nil {
			logger.Warn("Failed to checkpoint wallets: %v", err)
		}
	}

	poll.Wallets = s.Wallets()
	return poll, nil
}

// tradeEvent converts an activity row into a trade event carrying the
// wallet's stats.
func tradeEvent(w models.SmartWallet, a Activity) (models.WalletTradeEvent, bool) {
	price := float64(a.Price)
	if a.ConditionID == "" || price <= 0 {
		return models.WalletTradeEvent{}, false
	}

	pnl := w.PnLAll
	winRate := w.WinRate
	ev := models.WalletTradeEvent{
		WalletAddress:    w.Address,
		WalletName:       w.DisplayName(),
		MarketID:         a.ConditionID,
		MarketQuestion:   a.Title,
		MarketSlug:       a.Slug,
		Side:             side(a),
		SizeUSD:          float64(a.Size) * price,
		Price:            price,
		Timestamp:        time.Unix(a.Timestamp, 0).UTC(),
		WalletPnLAllTime: &pnl,
		WalletWinRate:    &winRate,
	}
	if err := ev.Validate(); err != nil {
		logger.Debug("Skipping trade: %v", err)
		return models.WalletTradeEvent{}, false
	}
	return ev, true
}

func side(a Activity) string {
	switch strings.ToLower(a.Outcome) {
	case "yes":
		return models.SideYes
	case "no":
		return models.SideNo
	}
	if a.OutcomeIndex == 1 {
		return models.SideNo
	}
	return models.SideYes
}

// RefreshWallets runs the leaderboard scan and track record validation.
// Leaderboard pages and wallets that fail to load are skipped.
func (s *Source) RefreshWallets(ctx context.Context, now time.Time) ([]models.SmartWallet, error) {
	logger.Info("Refreshing smart wallets from %d leaderboard categories", len(s.config.Categories))

	var entries []smartmoney.LeaderboardEntry
	var lastErr error
	for _, category := range s.config.Categories {
		for _, period := range smartmoney.Periods {
			page, err := s.client.FetchLeaderboard(ctx, category, period, s.config.LeaderboardLimit)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				lastErr = err
				logger.Warn("Leaderboard %s/%s unavailable: %v", category, period, err)
				continue
			}
			entries = append(entries, page...)
		}
	}
	if len(entries) == 0 && lastErr != nil {
		return nil, lastErr
	}

	candidates := smartmoney.Aggregate(entries)
	var profiled []smartmoney.Candidate
	for _, c := range candidates {
		if smartmoney.PassesProfile(c, s.config.Criteria) {
			profiled = append(profiled, c)
		}
	}
	logger.Info("Leaderboard: %d wallets, %d pass profit and consistency checks", len(candidates), len(profiled))

	var wallets []models.SmartWallet
	for _, c := range profiled {
		positions, err := s.client.FetchClosedPositions(ctx, c.Address, s.config.ClosedPositionsLimit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("Skipping track record for %s: %v", models.ShortAddress(c.Address), err)
			continue
		}
		tr := smartmoney.ScoreTrackRecord(positions)
		if w, ok := smartmoney.Qualify(c, tr, s.config.Criteria, now); ok {
			logger.Debug("Qualified %s: WR=%.0f%% ROI=%.1f%% tier=%s", w.DisplayName(), w.WinRate*100, w.ROIPercent, w.Tier)
			wallets = append(wallets, w)
		}
	}

	sort.SliceStable(wallets, func(i, j int) bool { return wallets[i].PnLAll > wallets[j].PnLAll })
	logger.Info("Track records: %d wallets qualified", len(wallets))
	return wallets, nil
}
