package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Trade sides. A BUY of the second outcome is recorded as SideNo.
const (
	SideYes = "yes"
	SideNo  = "no"
)

// WalletTradeEvent is a single observed trade by a tracked wallet.
// Nil wallet stats mean the wallet's track record is unknown.
type WalletTradeEvent struct {
	WalletAddress    string
	WalletName       string
	MarketID         string
	MarketQuestion   string
	MarketSlug       string
	Side             string
	SizeUSD          float64
	Price            float64
	Timestamp        time.Time
	WalletPnLAllTime *float64
	WalletWinRate    *float64
}

// Validate checks trade field constraints. Missing wallet stats are not a
// validation failure; the convergence quality bar handles them.
func (e *WalletTradeEvent) Validate() error {
	if e.WalletAddress == "" {
		return fmt.Errorf("%w: wallet address must not be empty", ErrInvalid)
	}
	if e.MarketID == "" {
		return fmt.Errorf("%w: market id must not be empty", ErrInvalid)
	}
	if e.Side != SideYes && e.Side != SideNo {
		return fmt.Errorf("%w: side %q must be yes or no", ErrInvalid, e.Side)
	}
	if math.IsNaN(e.SizeUSD) || e.SizeUSD < 0 {
		return fmt.Errorf("%w: trade size must not be negative", ErrInvalid)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp must be set", ErrInvalid)
	}
	if e.WalletWinRate != nil && (*e.WalletWinRate < 0 || *e.WalletWinRate > 1) {
		return fmt.Errorf("%w: win rate %v outside [0, 1]", ErrInvalid, *e.WalletWinRate)
	}
	return nil
}

// ConvergenceSignal reports several distinct qualifying wallets entering the
// same market within the convergence window.
type ConvergenceSignal struct {
	MarketID       string
	MarketQuestion string
	MarketSlug     string
	Wallets        []string
	WalletCount    int
	FirstSeen      time.Time
	LastSeen       time.Time
	TotalSizeUSD   float64
}

// Span is the time between the earliest and latest contributing trade.
func (s ConvergenceSignal) Span() time.Duration {
	return s.LastSeen.Sub(s.FirstSeen)
}

// Wallet tiers assigned from closed-position track records.
const (
	TierElite  = "A"
	TierStrong = "B"
	TierWatch  = "C"
)

// SmartWallet is a leaderboard wallet that passed the qualification layers.
type SmartWallet struct {
	Address           string    `json:"address"`
	Username          string    `json:"username"`
	PnLAll            float64   `json:"pnl_all"`
	VolumeAll         float64   `json:"volume_all"`
	PnLMonth          float64   `json:"pnl_month"`
	PnLWeek           float64   `json:"pnl_week"`
	PnLDay            float64   `json:"pnl_day"`
	ProfitableWindows int       `json:"profitable_windows"`
	WinRate           float64   `json:"win_rate"`
	ROIPercent        float64   `json:"roi_percent"`
	ClosedPositions   int       `json:"closed_positions"`
	Tier              string    `json:"tier"`
	LastSeenTradeTS   int64     `json:"last_seen_trade_ts"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DisplayName returns the username, or a shortened address when it is unset.
func (w *SmartWallet) DisplayName() string {
	if strings.TrimSpace(w.Username) != "" {
		return w.Username
	}
	return ShortAddress(w.Address)
}

// ShortAddress renders 0x1234abcd...ef90 style addresses as 0x1234…ef90.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
