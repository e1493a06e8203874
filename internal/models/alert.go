package models

import (
	"errors"
	"time"
)

// Alert kinds recorded in the audit log.
const (
	KindMarket      = "market"
	KindConvergence = "convergence"
	KindWatchlist   = "watchlist"
)

// SentAlert is an audit-log row for one dispatched message.
type SentAlert struct {
	ID        string
	SignalKey string
	Kind      string
	MarketID  string
	Message   string
	SentAt    time.Time
	Delivered bool
}

// Validate checks alert field constraints.
func (a *SentAlert) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.SignalKey == "" {
		return errors.New("signal key must not be empty")
	}
	switch a.Kind {
	case KindMarket, KindConvergence, KindWatchlist:
	default:
		return errors.New("alert kind must be market, convergence or watchlist")
	}
	if a.SentAt.IsZero() {
		return errors.New("sent at must be set")
	}
	return nil
}
