package monitor

import (
	"sort"

	"github.com/rewired-gh/polytipster/internal/logger"
	"github.com/rewired-gh/polytipster/internal/models"
)

// FilterConfig holds the market scanner thresholds. All bounds are inclusive.
type FilterConfig struct {
	MinProbability float64
	MaxProbability float64
	MinVolume      float64
	MinLiquidity   float64
}

// EvaluateMarket reports whether a snapshot passes the probability, volume and
// liquidity filter. A malformed snapshot returns an error wrapping
// models.ErrInvalid and never qualifies.
func EvaluateMarket(s models.MarketSnapshot, cfg FilterConfig) (models.MarketSignal, bool, error) {
	if err := s.Validate(); err != nil {
		return models.MarketSignal{}, false, err
	}

	p := s.YesProbability
	if p < cfg.MinProbability || p > cfg.MaxProbability {
		return models.MarketSignal{}, false, nil
	}
	if s.VolumeUSD < cfg.MinVolume || s.LiquidityUSD < cfg.MinLiquidity {
		return models.MarketSignal{}, false, nil
	}

	var roi float64
	if p > 0 {
		roi = (1/p - 1) * 100
	}

	return models.MarketSignal{
		MarketID:     s.MarketID,
		Question:     s.Question,
		Slug:         s.Slug,
		Probability:  p,
		VolumeUSD:    s.VolumeUSD,
		LiquidityUSD: s.LiquidityUSD,
		EndDate:      s.EndDate,
		ROIPercent:   roi,
	}, true, nil
}

// ScanMarkets evaluates every snapshot and returns the qualifying signals
// ranked by probability then volume, both descending. Malformed snapshots are
// skipped and counted.
func ScanMarkets(snapshots []models.MarketSnapshot, cfg FilterConfig) ([]models.MarketSignal, int) {
	var signals []models.MarketSignal
	skipped := 0

	for _, s := range snapshots {
		sig, ok, err := EvaluateMarket(s, cfg)
		if err != nil {
			skipped++
			logger.Debug("Skipping malformed market: %v", err)
			continue
		}
		if ok {
			signals = append(signals, sig)
		}
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Probability != signals[j].Probability {
			return signals[i].Probability > signals[j].Probability
		}
		return signals[i].VolumeUSD > signals[j].VolumeUSD
	})

	return signals, skipped
}
