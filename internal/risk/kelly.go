// Package risk sizes suggested positions with a fractional Kelly criterion.
package risk

import (
	"math"

	"github.com/rewired-gh/polytipster/internal/models"
)

// Manager sizes bets against a fixed bankroll.
type Manager struct {
	Bankroll    float64
	Fraction    float64
	MaxFraction float64
}

// NewManager creates a manager. Non-positive fractions fall back to a quarter
// Kelly capped at 10% of bankroll.
func NewManager(bankroll, fraction, maxFraction float64) *Manager {
	if fraction <= 0 {
		fraction = 0.25
	}
	if maxFraction <= 0 {
		maxFraction = 0.10
	}
	return &Manager{Bankroll: bankroll, Fraction: fraction, MaxFraction: maxFraction}
}

// Size returns the suggested stake for buying at price with an estimated win
// probability prob, both in [0, 1]. Prices outside (0, 1) size to zero.
func (m *Manager) Size(price, prob float64) models.BetSuggestion {
	if price <= 0 || price >= 1 || math.IsNaN(price) || math.IsNaN(prob) {
		return models.BetSuggestion{}
	}
	p := math.Min(math.Max(prob, 0), 1)
	q := 1 - p

	// net odds on a binary share bought at price
	b := (1 - price) / price
	full := (b*p - q) / b

	f := math.Min(math.Max(0, full*m.Fraction), m.MaxFraction)

	return models.BetSuggestion{
		SuggestedUSD: round(m.Bankroll*f, 2),
		Percentage:   round(f*100, 2),
		EdgePercent:  round((p-price)*100, 2),
	}
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
