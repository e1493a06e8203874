package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestMarketSnapshotValidate(t *testing.T) {
	tests := []struct {
		name    string
		market  MarketSnapshot
		wantErr bool
	}{
		{
			name: "valid market",
			market: MarketSnapshot{
				MarketID:       "0xabc",
				Question:       "Will X happen?",
				YesProbability: 0.75,
				VolumeUSD:      20000,
				LiquidityUSD:   8000,
			},
			wantErr: false,
		},
		{
			name:    "empty ID",
			market:  MarketSnapshot{YesProbability: 0.5},
			wantErr: true,
		},
		{
			name:    "probability above one",
			market:  MarketSnapshot{MarketID: "m", YesProbability: 1.5},
			wantErr: true,
		},
		{
			name:    "probability NaN",
			market:  MarketSnapshot{MarketID: "m", YesProbability: math.NaN()},
			wantErr: true,
		},
		{
			name:    "negative liquidity",
			market:  MarketSnapshot{MarketID: "m", YesProbability: 0.5, LiquidityUSD: -1},
			wantErr: true,
		},
		{
			name:    "boundary probabilities are valid",
			market:  MarketSnapshot{MarketID: "m", YesProbability: 1.0},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.market.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("MarketSnapshot.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("expected error to wrap ErrInvalid, got %v", err)
			}
		})
	}
}

func TestWalletTradeEventValidate(t *testing.T) {
	badRate := 1.2
	base := WalletTradeEvent{
		WalletAddress: "0xwallet",
		MarketID:      "0xmarket",
		Side:          SideYes,
		SizeUSD:       500,
		Timestamp:     time.Now(),
	}

	tests := []struct {
		name    string
		mutate  func(e *WalletTradeEvent)
		wantErr bool
	}{
		{"valid", func(e *WalletTradeEvent) {}, false},
		{"missing stats is still valid", func(e *WalletTradeEvent) { e.WalletPnLAllTime = nil }, false},
		{"empty wallet", func(e *WalletTradeEvent) { e.WalletAddress = "" }, true},
		{"unknown side", func(e *WalletTradeEvent) { e.Side = "BUY" }, true},
		{"negative size", func(e *WalletTradeEvent) { e.SizeUSD = -5 }, true},
		{"zero timestamp", func(e *WalletTradeEvent) { e.Timestamp = time.Time{} }, true},
		{"win rate out of range", func(e *WalletTradeEvent) { e.WalletWinRate = &badRate }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base
			tt.mutate(&ev)
			err := ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("WalletTradeEvent.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSentAlertValidate(t *testing.T) {
	ok := SentAlert{ID: "id", SignalKey: "filter:m", Kind: KindMarket, SentAt: time.Now()}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid alert, got %v", err)
	}
	bad := ok
	bad.Kind = "other"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestShortAddress(t *testing.T) {
	if got := ShortAddress("0x1234567890abcdef"); got != "0x1234…cdef" {
		t.Errorf("ShortAddress = %q", got)
	}
	if got := ShortAddress("0xshort"); got != "0xshort" {
		t.Errorf("ShortAddress(short) = %q", got)
	}
	w := SmartWallet{Address: "0x1234567890abcdef"}
	if w.DisplayName() != "0x1234…cdef" {
		t.Errorf("DisplayName fallback = %q", w.DisplayName())
	}
}

func TestErrorsUnwrap(t *testing.T) {
	root := errors.New("boom")
	var fe error = &FetchError{Source: "gamma", Err: root}
	if !errors.Is(fe, root) {
		t.Error("FetchError should unwrap to root cause")
	}
	var target *FetchError
	if !errors.As(fe, &target) || target.Source != "gamma" {
		t.Error("errors.As should find FetchError")
	}
	de := &DispatchError{SignalKey: "filter:m", Err: root}
	if !errors.Is(de, root) {
		t.Error("DispatchError should unwrap to root cause")
	}
}
