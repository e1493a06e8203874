package monitor

import (
	"sort"
	"time"

	"github.com/rewired-gh/polytipster/internal/logger"
	"github.com/rewired-gh/polytipster/internal/models"
)

// ConvergenceConfig holds the per-wallet quality bar and window parameters.
type ConvergenceConfig struct {
	MinPnLAllTime   float64
	MinWinRate      float64
	MinTradeSizeUSD float64
	Window          time.Duration
	WalletThreshold int
}

type windowEntry struct {
	wallet  string
	ts      time.Time
	sizeUSD float64
}

// marketWindow holds entries for one market ordered by timestamp; equal
// timestamps keep insertion order.
type marketWindow struct {
	question string
	slug     string
	entries  []windowEntry
}

func (w *marketWindow) insert(e windowEntry) {
	for _, existing := range w.entries {
		if existing.wallet == e.wallet && existing.ts.Equal(e.ts) {
			return
		}
	}
	i := sort.Search(len(w.entries), func(i int) bool {
		return w.entries[i].ts.After(e.ts)
	})
	w.entries = append(w.entries, windowEntry{})
	copy(w.entries[i+1:], w.entries[i:])
	w.entries[i] = e
}

// purge drops entries strictly older than cutoff.
func (w *marketWindow) purge(cutoff time.Time) {
	i := sort.Search(len(w.entries), func(i int) bool {
		return !w.entries[i].ts.Before(cutoff)
	})
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}

// distinctWallets returns wallets in order of first appearance.
func (w *marketWindow) distinctWallets() []string {
	seen := make(map[string]bool, len(w.entries))
	var wallets []string
	for _, e := range w.entries {
		if !seen[e.wallet] {
			seen[e.wallet] = true
			wallets = append(wallets, e.wallet)
		}
	}
	return wallets
}

// ConvergenceDetector groups qualifying wallet trades by market inside a
// rolling window and signals when enough distinct wallets are present.
// It is not safe for concurrent use; the scheduler is its only caller.
type ConvergenceDetector struct {
	config  ConvergenceConfig
	windows map[string]*marketWindow
}

func NewConvergenceDetector(config ConvergenceConfig) *ConvergenceDetector {
	if config.WalletThreshold < 2 {
		config.WalletThreshold = 2
	}
	return &ConvergenceDetector{
		config:  config,
		windows: make(map[string]*marketWindow),
	}
}

// Qualifies applies the per-wallet quality bar. Missing wallet stats
// disqualify the event.
func (d *ConvergenceDetector) Qualifies(ev models.WalletTradeEvent) bool {
	if ev.WalletPnLAllTime == nil || ev.WalletWinRate == nil {
		return false
	}
	return *ev.WalletPnLAllTime >= d.config.MinPnLAllTime &&
		*ev.WalletWinRate >= d.config.MinWinRate &&
		ev.SizeUSD >= d.config.MinTradeSizeUSD
}

// Ingest records a trade in its market's window if it is valid and passes
// the quality bar.
func (d *ConvergenceDetector) Ingest(ev models.WalletTradeEvent) bool {
	if err := ev.Validate(); err != nil {
		logger.Debug("Skipping malformed trade: %v", err)
		return false
	}
	if !d.Qualifies(ev) {
		return false
	}

	w, ok := d.windows[ev.MarketID]
	if !ok {
		w = &marketWindow{}
		d.windows[ev.MarketID] = w
	}
	if ev.MarketQuestion != "" {
		w.question = ev.MarketQuestion
	}
	if ev.MarketSlug != "" {
		w.slug = ev.MarketSlug
	}
	w.insert(windowEntry{wallet: ev.WalletAddress, ts: ev.Timestamp, sizeUSD: ev.SizeUSD})
	return true
}

// Evaluate purges the market's window relative to now and returns a signal
// when the distinct wallet count reaches the threshold.
func (d *ConvergenceDetector) Evaluate(marketID string, now time.Time) (models.ConvergenceSignal, bool) {
	w, ok := d.windows[marketID]
	if !ok {
		return models.ConvergenceSignal{}, false
	}

	w.purge(now.Add(-d.config.Window))
	if len(w.entries) == 0 {
		delete(d.windows, marketID)
		return models.ConvergenceSignal{}, false
	}

	wallets := w.distinctWallets()
	if len(wallets) < d.config.WalletThreshold {
		return models.ConvergenceSignal{}, false
	}

	var total float64
	for _, e := range w.entries {
		total += e.sizeUSD
	}

	return models.ConvergenceSignal{
		MarketID:       marketID,
		MarketQuestion: w.question,
		MarketSlug:     w.slug,
		Wallets:        wallets,
		WalletCount:    len(wallets),
		FirstSeen:      w.entries[0].ts,
		LastSeen:       w.entries[len(w.entries)-1].ts,
		TotalSizeUSD:   total,
	}, true
}

// Process ingests a cycle's trades, then evaluates every live window.
// Signals are ordered by market id.
func (d *ConvergenceDetector) Process(events []models.WalletTradeEvent, now time.Time) []models.ConvergenceSignal {
	accepted := 0
	for _, ev := range events {
		if d.Ingest(ev) {
			accepted++
		}
	}

	ids := make([]string, 0, len(d.windows))
	for id := range d.windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var signals []models.ConvergenceSignal
	for _, id := range ids {
		if sig, ok := d.Evaluate(id, now); ok {
			signals = append(signals, sig)
		}
	}

	logger.Debug("Convergence: %d/%d trades qualified, %d live windows, %d signals",
		accepted, len(events), len(d.windows), len(signals))

	return signals
}

// Windows returns the number of markets with live entries.
func (d *ConvergenceDetector) Windows() int {
	return len(d.windows)
}
