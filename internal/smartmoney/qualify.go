// Package smartmoney qualifies leaderboard wallets as smart money.
//
// Qualification runs in three layers: hard profit and volume floors over the
// all-time leaderboard, consistency across leaderboard periods, and a win
// rate and ROI check over the wallet's closed positions. Wallets that pass
// all three are tiered by track record.
package smartmoney

import (
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/polytipster/internal/models"
)

// Leaderboard periods.
const (
	PeriodDay   = "DAY"
	PeriodWeek  = "WEEK"
	PeriodMonth = "MONTH"
	PeriodAll   = "ALL"
)

// Periods lists every leaderboard period scanned.
var Periods = []string{PeriodDay, PeriodWeek, PeriodMonth, PeriodAll}

// LeaderboardEntry is one row of a leaderboard page.
type LeaderboardEntry struct {
	Address  string
	Username string
	Period   string
	PnL      float64
	Volume   float64
}

// ClosedPosition is one resolved position of a wallet.
type ClosedPosition struct {
	RealizedPnL float64
	TotalBought float64
	AvgPrice    float64
}

// Criteria holds the qualification thresholds.
type Criteria struct {
	MinPnLAllTime        float64
	MinVolumeAllTime     float64
	MinProfitableWindows int
	MinClosedPositions   int
	MinWinRate           float64
	MinROIPercent        float64
}

// Candidate aggregates a wallet's best leaderboard figures across categories.
type Candidate struct {
	Address   string
	Username  string
	PnLAll    float64
	VolumeAll float64
	PnLMonth  float64
	PnLWeek   float64
	PnLDay    float64
}

// ProfitableWindows counts periods with positive PnL.
func (c Candidate) ProfitableWindows() int {
	n := 0
	for _, pnl := range []float64{c.PnLDay, c.PnLWeek, c.PnLMonth, c.PnLAll} {
		if pnl > 0 {
			n++
		}
	}
	return n
}

// Aggregate merges leaderboard rows per wallet, keeping the highest PnL seen
// for each period. Candidates are returned ordered by address.
func Aggregate(entries []LeaderboardEntry) []Candidate {
	byAddr := make(map[string]*Candidate)
	for _, e := range entries {
		if e.Address == "" {
			continue
		}
		c, ok := byAddr[e.Address]
		if !ok {
			c = &Candidate{Address: e.Address, Username: e.Username}
			byAddr[e.Address] = c
		}
		if c.Username == "" {
			c.Username = e.Username
		}
		switch e.Period {
		case PeriodAll:
			c.PnLAll = math.Max(c.PnLAll, e.PnL)
			c.VolumeAll = math.Max(c.VolumeAll, e.Volume)
		case PeriodMonth:
			c.PnLMonth = math.Max(c.PnLMonth, e.PnL)
		case PeriodWeek:
			c.PnLWeek = math.Max(c.PnLWeek, e.PnL)
		case PeriodDay:
			c.PnLDay = math.Max(c.PnLDay, e.PnL)
		}
	}

	out := make([]Candidate, 0, len(byAddr))
	for _, c := range byAddr {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// PassesProfile applies the profit, volume and consistency layers.
func PassesProfile(c Candidate, cr Criteria) bool {
	if c.PnLAll < cr.MinPnLAllTime || c.VolumeAll < cr.MinVolumeAllTime {
		return false
	}
	return c.ProfitableWindows() >= cr.MinProfitableWindows
}

// TrackRecord summarises closed positions.
type TrackRecord struct {
	Positions  int
	Wins       int
	WinRate    float64
	ROIPercent float64
}

// ScoreTrackRecord computes win rate and ROI over closed positions. Positions
// whose reconstructed stake is under one dollar are ignored.
func ScoreTrackRecord(positions []ClosedPosition) TrackRecord {
	var tr TrackRecord
	var pnl, invested float64
	for _, p := range positions {
		initial := math.Abs(p.TotalBought * p.AvgPrice)
		if initial < 1 {
			continue
		}
		tr.Positions++
		pnl += p.RealizedPnL
		invested += initial
		if p.RealizedPnL > 0 {
			tr.Wins++
		}
	}
	if tr.Positions > 0 {
		tr.WinRate = round(float64(tr.Wins)/float64(tr.Positions), 3)
	}
	if invested > 0 {
		tr.ROIPercent = round(pnl/invested*100, 1)
	}
	return tr
}

// Tier grades a qualified wallet.
func Tier(winRate, roiPercent float64) string {
	switch {
	case winRate >= 0.65 && roiPercent >= 50:
		return models.TierElite
	case winRate >= 0.58 && roiPercent >= 25:
		return models.TierStrong
	default:
		return models.TierWatch
	}
}

// Qualify applies the track record layer and builds the tracked wallet.
func Qualify(c Candidate, tr TrackRecord, cr Criteria, now time.Time) (models.SmartWallet, bool) {
	if tr.Positions < cr.MinClosedPositions {
		return models.SmartWallet{}, false
	}
	if tr.WinRate < cr.MinWinRate || tr.ROIPercent < cr.MinROIPercent {
		return models.SmartWallet{}, false
	}
	return models.SmartWallet{
		Address:           c.Address,
		Username:          c.Username,
		PnLAll:            c.PnLAll,
		VolumeAll:         c.VolumeAll,
		PnLMonth:          c.PnLMonth,
		PnLWeek:           c.PnLWeek,
		PnLDay:            c.PnLDay,
		ProfitableWindows: c.ProfitableWindows(),
		WinRate:           tr.WinRate,
		ROIPercent:        tr.ROIPercent,
		ClosedPositions:   tr.Positions,
		Tier:              Tier(tr.WinRate, tr.ROIPercent),
		UpdatedAt:         now,
	}, true
}

// CarryOver copies last-seen trade marks from the previous list into the
// fresh one so already-seen trades are not replayed after a refresh.
func CarryOver(fresh, previous []models.SmartWallet) {
	seen := make(map[string]int64, len(previous))
	for _, w := range previous {
		seen[w.Address] = w.LastSeenTradeTS
	}
	for i := range fresh {
		if ts, ok := seen[fresh[i].Address]; ok && ts > fresh[i].LastSeenTradeTS {
			fresh[i].LastSeenTradeTS = ts
		}
	}
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
