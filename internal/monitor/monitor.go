// Package monitor turns polled market data and smart-wallet trades into
// deduplicated alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/polytipster/internal/logger"
	"github.com/rewired-gh/polytipster/internal/metrics"
	"github.com/rewired-gh/polytipster/internal/models"
	"github.com/rewired-gh/polytipster/internal/risk"
)

// ErrCycleInProgress is returned when RunCycle is called while another cycle
// is still running.
var ErrCycleInProgress = errors.New("monitoring cycle already in progress")

// DataSource produces one poll of markets and smart-wallet trades.
type DataSource interface {
	Fetch(ctx context.Context, now time.Time) (*models.Poll, error)
}

// Dispatcher delivers a formatted message to a destination.
type Dispatcher interface {
	Dispatch(ctx context.Context, destination, text string) error
}

// AlertLog records dispatched alerts. It is write-only from the monitor's
// point of view; the cooldown gate never reads it.
type AlertLog interface {
	AddAlert(alert *models.SentAlert) error
}

// AlertRotator is implemented by alert logs that can drop old rows.
type AlertRotator interface {
	RotateAlerts(before time.Time) (int64, error)
}

// Formatter renders alerts into message text.
type Formatter interface {
	MarketSignals(signals []models.MarketSignal, now time.Time) string
	Convergence(sig models.ConvergenceSignal, window time.Duration) string
	Watchlist(wallets []models.SmartWallet) string
	CycleError(err error) string
	Recovery(failures int) string
}

// LogDispatcher writes alerts to the log instead of delivering them. Used
// when Telegram is disabled.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, destination, text string) error {
	logger.Info("Alert for %q (delivery disabled):\n%s", destination, text)
	return nil
}

// Config holds monitor configuration.
type Config struct {
	Filter              FilterConfig
	Convergence         ConvergenceConfig
	Cooldown            time.Duration
	RetentionMultiplier int
	MarketsPerPost      int
	Destination         string
	ScannerEnabled      bool
	SmartMoneyEnabled   bool
	EdgeEstimate        float64
	AlertRetention      time.Duration
}

// Status is a point-in-time snapshot of the monitor for health reporting.
type Status struct {
	StartedAt         time.Time     `json:"started_at"`
	LastCycleAt       time.Time     `json:"last_cycle_at"`
	LastCycleDuration time.Duration `json:"last_cycle_duration_ns"`
	LastError         string        `json:"last_error,omitempty"`
	Cycles            int           `json:"cycles"`
	FailedCycles      int           `json:"failed_cycles"`
	AlertsSent        int           `json:"alerts_sent"`
	TrackedWallets    int           `json:"tracked_wallets"`
	LiveWindows       int           `json:"live_windows"`
	GateRecords       int           `json:"gate_records"`
	ScannerEnabled    bool          `json:"scanner_enabled"`
	SmartMoneyEnabled bool          `json:"smart_money_enabled"`
}

// Monitor runs monitoring cycles. Detector and gate state are only touched
// from RunCycle, which refuses to run concurrently with itself.
type Monitor struct {
	source     DataSource
	dispatcher Dispatcher
	alerts     AlertLog
	formatter  Formatter
	sizer      *risk.Manager
	config     Config

	detector *ConvergenceDetector
	gate     *Gate
	now      func() time.Time

	inFlight atomic.Bool

	mu     sync.Mutex
	status Status
}

// New creates a monitor. alerts and sizer may be nil.
func New(source DataSource, dispatcher Dispatcher, alerts AlertLog, formatter Formatter, sizer *risk.Manager, config Config) *Monitor {
	if config.MarketsPerPost <= 0 {
		config.MarketsPerPost = 5
	}
	if config.RetentionMultiplier < 1 {
		config.RetentionMultiplier = 1
	}
	if dispatcher == nil {
		dispatcher = LogDispatcher{}
	}

	m := &Monitor{
		source:     source,
		dispatcher: dispatcher,
		alerts:     alerts,
		formatter:  formatter,
		sizer:      sizer,
		config:     config,
		detector:   NewConvergenceDetector(config.Convergence),
		gate:       NewGate(config.Cooldown, config.Cooldown*time.Duration(config.RetentionMultiplier)),
		now:        time.Now,
	}
	m.status = Status{
		StartedAt:         m.now(),
		ScannerEnabled:    config.ScannerEnabled,
		SmartMoneyEnabled: config.SmartMoneyEnabled,
	}
	return m
}

// SetClock replaces the time source. Only for tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
	m.mu.Lock()
	m.status.StartedAt = now()
	m.mu.Unlock()
}

// Status returns a copy of the current status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// StatusText renders the status as plain text for chat commands.
func (m *Monitor) StatusText() string {
	s := m.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "Up since %s\n", s.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Cycles: %d (%d failed)\n", s.Cycles, s.FailedCycles)
	if !s.LastCycleAt.IsZero() {
		fmt.Fprintf(&b, "Last cycle: %s (%v)\n", s.LastCycleAt.UTC().Format(time.RFC3339), s.LastCycleDuration.Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "Alerts sent: %d\n", s.AlertsSent)
	fmt.Fprintf(&b, "Tracked wallets: %d, live windows: %d", s.TrackedWallets, s.LiveWindows)
	if s.LastError != "" {
		fmt.Fprintf(&b, "\nLast error: %s", s.LastError)
	}
	return b.String()
}

// RunCycle performs one monitoring iteration: fetch, evaluate, gate,
// dispatch. A fetch failure aborts the iteration with a *models.FetchError.
// Delivery failures are logged and do not fail the cycle.
func (m *Monitor) RunCycle(ctx context.Context) error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer m.inFlight.Store(false)

	start := m.now()
	logger.Info("Starting monitoring cycle")

	sent, wallets, err := m.runCycle(ctx, start)
	duration := m.now().Sub(start)
	metrics.CycleDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.status.Cycles++
	m.status.LastCycleAt = start
	m.status.LastCycleDuration = duration
	m.status.AlertsSent += sent
	m.status.LiveWindows = m.detector.Windows()
	m.status.GateRecords = m.gate.Len()
	if wallets >= 0 {
		m.status.TrackedWallets = wallets
	}
	if err != nil {
		m.status.FailedCycles++
		m.status.LastError = err.Error()
	} else {
		m.status.LastError = ""
	}
	m.mu.Unlock()

	metrics.LiveWindows.Set(float64(m.detector.Windows()))
	metrics.GateRecords.Set(float64(m.gate.Len()))
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	logger.Info("Monitoring cycle completed in %v (%d alerts sent)", duration, sent)
	return nil
}

// runCycle returns the number of delivered alerts and the tracked wallet
// count, or -1 when smart money tracking is off or the fetch failed.
func (m *Monitor) runCycle(ctx context.Context, now time.Time) (int, int, error) {
	poll, err := m.source.Fetch(ctx, now)
	if err != nil {
		var fetchErr *models.FetchError
		if !errors.As(err, &fetchErr) {
			err = &models.FetchError{Source: "poll", Err: err}
		}
		return 0, -1, err
	}
	if poll == nil {
		poll = &models.Poll{}
	}
	logger.Info("Fetched %d markets and %d wallet trades", len(poll.Markets), len(poll.Trades))
	if poll.SkippedMarkets > 0 {
		metrics.SkippedRecords.WithLabelValues("market").Add(float64(poll.SkippedMarkets))
	}
	if poll.SkippedTrades > 0 {
		metrics.SkippedRecords.WithLabelValues("trade").Add(float64(poll.SkippedTrades))
	}

	var marketSignals []models.MarketSignal
	if m.config.ScannerEnabled {
		var skipped int
		marketSignals, skipped = ScanMarkets(poll.Markets, m.config.Filter)
		if skipped > 0 {
			metrics.SkippedRecords.WithLabelValues("market").Add(float64(skipped))
		}
		logger.Debug("Scanner: %d of %d markets pass the filter", len(marketSignals), len(poll.Markets))
	}

	var convergence []models.ConvergenceSignal
	if m.config.SmartMoneyEnabled {
		convergence = m.detector.Process(poll.Trades, now)
	}

	if evicted := m.gate.Evict(now); evicted > 0 {
		logger.Debug("Evicted %d expired alert records", evicted)
	}

	sent := 0
	if m.dispatchMarkets(ctx, marketSignals, now) {
		sent++
	}
	for _, sig := range convergence {
		if m.dispatchConvergence(ctx, sig, now) {
			sent++
		}
	}

	wallets := -1
	if m.config.SmartMoneyEnabled {
		wallets = len(poll.Wallets)
		metrics.TrackedWallets.Set(float64(wallets))
	}
	if poll.WalletsRefreshed && len(poll.Wallets) > 0 {
		text := m.formatter.Watchlist(poll.Wallets)
		if m.deliver(ctx, models.KindWatchlist, "watchlist:"+now.UTC().Format(time.RFC3339), "", text, now) {
			sent++
		}
	}

	return sent, wallets, nil
}

// dispatchMarkets gates ranked market signals, caps them at MarketsPerPost
// and sends them as one message.
func (m *Monitor) dispatchMarkets(ctx context.Context, signals []models.MarketSignal, now time.Time) bool {
	var batch []models.MarketSignal
	for _, sig := range signals {
		if len(batch) == m.config.MarketsPerPost {
			break
		}
		key := FilterKey(sig.MarketID)
		if !m.gate.ShouldAlert(key, now) {
			metrics.SuppressedTotal.WithLabelValues(models.KindMarket).Inc()
			continue
		}
		m.gate.Record(key, now)
		if m.sizer != nil {
			prob := math.Min(sig.Probability+m.config.EdgeEstimate, 0.99)
			sig.Bet = m.sizer.Size(sig.Probability, prob)
		}
		batch = append(batch, sig)
	}
	if len(batch) == 0 {
		return false
	}

	text := m.formatter.MarketSignals(batch, now)
	keys := make([]string, len(batch))
	ids := make([]string, len(batch))
	for i, sig := range batch {
		keys[i] = FilterKey(sig.MarketID)
		ids[i] = sig.MarketID
	}
	return m.deliver(ctx, models.KindMarket, strings.Join(keys, ","), strings.Join(ids, ","), text, now)
}

func (m *Monitor) dispatchConvergence(ctx context.Context, sig models.ConvergenceSignal, now time.Time) bool {
	key := ConvergenceKey(sig.MarketID)
	if !m.gate.ShouldAlert(key, now) {
		metrics.SuppressedTotal.WithLabelValues(models.KindConvergence).Inc()
		return false
	}
	m.gate.Record(key, now)
	logger.Info("Convergence on %s: %d wallets", sig.MarketID, sig.WalletCount)
	return m.deliver(ctx, models.KindConvergence, key, sig.MarketID, m.formatter.Convergence(sig, m.config.Convergence.Window), now)
}

// deliver sends text and writes the audit row. The signal key stays
// recorded in the gate whether or not delivery succeeds.
func (m *Monitor) deliver(ctx context.Context, kind, key, marketID, text string, now time.Time) bool {
	delivered := true
	if err := m.dispatcher.Dispatch(ctx, m.config.Destination, text); err != nil {
		delivered = false
		logger.WithFields(logger.Fields{"signal_key": key, "kind": kind}).
			Errorf("Alert delivery failed: %v", &models.DispatchError{SignalKey: key, Err: err})
		metrics.AlertsTotal.WithLabelValues(kind, "failed").Inc()
	} else {
		metrics.AlertsTotal.WithLabelValues(kind, "delivered").Inc()
	}

	if m.alerts != nil {
		alert := &models.SentAlert{
			ID:        uuid.NewString(),
			SignalKey: key,
			Kind:      kind,
			MarketID:  marketID,
			Message:   text,
			SentAt:    now,
			Delivered: delivered,
		}
		if err := m.alerts.AddAlert(alert); err != nil {
			logger.WithFields(logger.Fields{"signal_key": key, "alert_id": alert.ID}).
				Warnf("Failed to record alert: %v", err)
		}
	}
	return delivered
}

// Run performs an initial cycle and then one per interval until ctx is
// cancelled. The first failure of a streak and the first success after it
// are announced through the dispatcher.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if errors.Is(err, ErrCycleInProgress) {
			logger.Warn("Skipping tick: %v", err)
			return
		}
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed: %v", err)
			if consecutiveFailures == 1 {
				if sendErr := m.dispatcher.Dispatch(ctx, m.config.Destination, m.formatter.CycleError(err)); sendErr != nil {
					logger.Warn("Failed to send error notification: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 {
			if sendErr := m.dispatcher.Dispatch(ctx, m.config.Destination, m.formatter.Recovery(consecutiveFailures)); sendErr != nil {
				logger.Warn("Failed to send recovery notification: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	logger.Debug("Running initial monitoring cycle")
	handleCycleResult(m.RunCycle(ctx))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Monitor stopped")
			return
		case <-ticker.C:
			logger.Debug("Starting scheduled monitoring cycle")
			handleCycleResult(m.RunCycle(ctx))
			m.rotateAlerts()
		}
	}
}

func (m *Monitor) rotateAlerts() {
	rotator, ok := m.alerts.(AlertRotator)
	if !ok || m.config.AlertRetention <= 0 {
		return
	}
	removed, err := rotator.RotateAlerts(m.now().Add(-m.config.AlertRetention))
	if err != nil {
		logger.Warn("Failed to rotate alert log: %v", err)
		return
	}
	if removed > 0 {
		logger.Debug("Rotated %d old alerts", removed)
	}
}
