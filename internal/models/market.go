// Package models defines the core domain entities: market snapshots, wallet
// trades, tracked wallets and the signals produced from them.
package models

import (
	"fmt"
	"math"
	"time"
)

// MarketSnapshot is one open market as observed in a single poll.
// MarketID is the condition id so trades and snapshots join on the same key.
type MarketSnapshot struct {
	MarketID       string    `json:"market_id"`
	Question       string    `json:"question"`
	Slug           string    `json:"slug,omitempty"`
	YesProbability float64   `json:"yes_probability"`
	VolumeUSD      float64   `json:"volume_usd"`
	LiquidityUSD   float64   `json:"liquidity_usd"`
	EndDate        time.Time `json:"end_date"`
}

// Validate checks snapshot field constraints.
func (m *MarketSnapshot) Validate() error {
	if m.MarketID == "" {
		return fmt.Errorf("%w: market id must not be empty", ErrInvalid)
	}
	if math.IsNaN(m.YesProbability) || m.YesProbability < 0.0 || m.YesProbability > 1.0 {
		return fmt.Errorf("%w: market %s: yes probability %v outside [0, 1]", ErrInvalid, m.MarketID, m.YesProbability)
	}
	if math.IsNaN(m.VolumeUSD) || m.VolumeUSD < 0 {
		return fmt.Errorf("%w: market %s: volume must not be negative", ErrInvalid, m.MarketID)
	}
	if math.IsNaN(m.LiquidityUSD) || m.LiquidityUSD < 0 {
		return fmt.Errorf("%w: market %s: liquidity must not be negative", ErrInvalid, m.MarketID)
	}
	return nil
}

// MarketSignal is a market that passed the probability/volume/liquidity filter.
type MarketSignal struct {
	MarketID     string
	Question     string
	Slug         string
	Probability  float64
	VolumeUSD    float64
	LiquidityUSD float64
	EndDate      time.Time
	ROIPercent   float64
	Bet          BetSuggestion
}

// BetSuggestion is a fractional-Kelly position size for a bankroll.
type BetSuggestion struct {
	SuggestedUSD float64
	Percentage   float64
	EdgePercent  float64
}

// Poll is everything the data source produced for one cycle.
type Poll struct {
	Markets          []MarketSnapshot
	Trades           []WalletTradeEvent
	Wallets          []SmartWallet
	WalletsRefreshed bool
	FetchedAt        time.Time
	SkippedMarkets   int
	SkippedTrades    int
}
