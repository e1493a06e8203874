package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/polytipster/internal/models"
	"github.com/rewired-gh/polytipster/internal/risk"
)

type fakeSource struct {
	polls []*models.Poll
	err   error
	calls int
	block chan struct{}
}

func (f *fakeSource) Fetch(ctx context.Context, now time.Time) (*models.Poll, error) {
	if f.block != nil {
		<-f.block
	}
	defer func() { f.calls++ }()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls < len(f.polls) {
		return f.polls[f.calls], nil
	}
	return &models.Poll{}, nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return f.err
}

func (f *fakeDispatcher) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

type fakeAlertLog struct {
	alerts []*models.SentAlert
}

func (f *fakeAlertLog) AddAlert(a *models.SentAlert) error {
	if err := a.Validate(); err != nil {
		return err
	}
	f.alerts = append(f.alerts, a)
	return nil
}

// plainFormatter renders alerts as short plain strings that tests can match.
type plainFormatter struct{}

func (plainFormatter) MarketSignals(signals []models.MarketSignal, _ time.Time) string {
	ids := make([]string, len(signals))
	for i, s := range signals {
		ids[i] = s.MarketID
	}
	return "markets:" + strings.Join(ids, ",")
}

func (plainFormatter) Convergence(sig models.ConvergenceSignal, _ time.Duration) string {
	return fmt.Sprintf("convergence:%s:%s", sig.MarketID, strings.Join(sig.Wallets, ","))
}

func (plainFormatter) Watchlist(wallets []models.SmartWallet) string {
	return fmt.Sprintf("watchlist:%d", len(wallets))
}

func (plainFormatter) CycleError(err error) string { return "error:" + err.Error() }

func (plainFormatter) Recovery(failures int) string { return fmt.Sprintf("recovered:%d", failures) }

func testConfig() Config {
	return Config{
		Filter: defaultFilter,
		Convergence: ConvergenceConfig{
			MinPnLAllTime:   5000,
			MinWinRate:      0.54,
			MinTradeSizeUSD: 200,
			Window:          60 * time.Minute,
			WalletThreshold: 2,
		},
		Cooldown:            120 * time.Minute,
		RetentionMultiplier: 4,
		MarketsPerPost:      2,
		Destination:         "chat",
		ScannerEnabled:      true,
		SmartMoneyEnabled:   true,
		EdgeEstimate:        0.02,
	}
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestMonitor(src DataSource, disp Dispatcher, log AlertLog, clk *clock) *Monitor {
	m := New(src, disp, log, plainFormatter{}, risk.NewManager(1000, 0.25, 0.10), testConfig())
	m.SetClock(clk.Now)
	return m
}

func TestRunCycle_ConvergenceScenarioD(t *testing.T) {
	clk := &clock{now: minute(50)}
	src := &fakeSource{polls: []*models.Poll{
		{Trades: []models.WalletTradeEvent{
			trade("w1", "M", minute(0)),
			trade("w2", "M", minute(20)),
			trade("w3", "M", minute(50)),
		}},
		{},
	}}
	disp := &fakeDispatcher{}
	m := newTestMonitor(src, disp, nil, clk)

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	msgs := disp.sent()
	if len(msgs) != 1 || msgs[0] != "convergence:M:w1,w2,w3" {
		t.Fatalf("messages after minute 50 = %v", msgs)
	}

	clk.now = minute(70)
	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if got := len(disp.sent()); got != 1 {
		t.Errorf("got %d messages after minute 70, want no duplicate dispatch", got)
	}
}

func TestRunCycle_MarketBatchCapAndCooldown(t *testing.T) {
	clk := &clock{now: minute(0)}
	markets := []models.MarketSnapshot{
		snapshot("a", 0.90, 20000, 8000),
		snapshot("b", 0.80, 20000, 8000),
		snapshot("c", 0.70, 20000, 8000),
	}
	src := &fakeSource{polls: []*models.Poll{{Markets: markets}, {Markets: markets}, {Markets: markets}}}
	disp := &fakeDispatcher{}
	log := &fakeAlertLog{}
	m := newTestMonitor(src, disp, log, clk)

	for i, at := range []int{0, 10, 130} {
		clk.now = minute(at)
		if err := m.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	want := []string{"markets:a,b", "markets:c", "markets:a,b"}
	got := disp.sent()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if len(log.alerts) != 3 {
		t.Fatalf("audit rows = %d, want 3", len(log.alerts))
	}
	if log.alerts[0].SignalKey != "filter:a,filter:b" || log.alerts[0].Kind != models.KindMarket {
		t.Errorf("first audit row = %+v", log.alerts[0])
	}
}

func TestRunCycle_FetchFailureAborts(t *testing.T) {
	clk := &clock{now: minute(0)}
	src := &fakeSource{err: errors.New("connection refused")}
	disp := &fakeDispatcher{}
	m := newTestMonitor(src, disp, nil, clk)

	err := m.RunCycle(context.Background())
	var fetchErr *models.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("err = %v, want *models.FetchError", err)
	}
	if len(disp.sent()) != 0 {
		t.Error("nothing must be dispatched after a fetch failure")
	}
	status := m.Status()
	if status.FailedCycles != 1 || status.LastError == "" {
		t.Errorf("status = %+v", status)
	}
}

func TestRunCycle_DispatchFailureKeepsKeyRecorded(t *testing.T) {
	clk := &clock{now: minute(0)}
	markets := []models.MarketSnapshot{snapshot("a", 0.90, 20000, 8000)}
	src := &fakeSource{polls: []*models.Poll{{Markets: markets}, {Markets: markets}}}
	disp := &fakeDispatcher{err: errors.New("telegram down")}
	log := &fakeAlertLog{}
	m := newTestMonitor(src, disp, log, clk)

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("delivery failure must not fail the cycle: %v", err)
	}
	if len(log.alerts) != 1 || log.alerts[0].Delivered {
		t.Fatalf("audit rows = %+v, want one undelivered row", log.alerts)
	}

	clk.now = minute(5)
	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(disp.sent()); got != 1 {
		t.Errorf("dispatch attempts = %d, want 1 while the key is cooling down", got)
	}
}

func TestRunCycle_SameMarketBothRules(t *testing.T) {
	clk := &clock{now: minute(10)}
	src := &fakeSource{polls: []*models.Poll{{
		Markets: []models.MarketSnapshot{snapshot("M", 0.80, 20000, 8000)},
		Trades: []models.WalletTradeEvent{
			trade("w1", "M", minute(0)),
			trade("w2", "M", minute(10)),
		},
	}}}
	disp := &fakeDispatcher{}
	m := newTestMonitor(src, disp, nil, clk)

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"markets:M", "convergence:M:w1,w2"}
	if got := disp.sent(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
}

func TestRunCycle_DisabledRules(t *testing.T) {
	clk := &clock{now: minute(10)}
	src := &fakeSource{polls: []*models.Poll{{
		Markets: []models.MarketSnapshot{snapshot("M", 0.80, 20000, 8000)},
		Trades: []models.WalletTradeEvent{
			trade("w1", "M", minute(0)),
			trade("w2", "M", minute(10)),
		},
	}}}
	disp := &fakeDispatcher{}
	cfg := testConfig()
	cfg.ScannerEnabled = false
	cfg.SmartMoneyEnabled = false
	m := New(src, disp, nil, plainFormatter{}, nil, cfg)
	m.SetClock(clk.Now)

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := disp.sent(); len(got) != 0 {
		t.Errorf("messages = %v, want none", got)
	}
}

func TestRunCycle_WatchlistOnRefresh(t *testing.T) {
	clk := &clock{now: minute(0)}
	src := &fakeSource{polls: []*models.Poll{{
		WalletsRefreshed: true,
		Wallets:          []models.SmartWallet{{Address: "0xabc", Tier: models.TierElite}},
	}}}
	disp := &fakeDispatcher{}
	log := &fakeAlertLog{}
	m := newTestMonitor(src, disp, log, clk)

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := disp.sent(); len(got) != 1 || got[0] != "watchlist:1" {
		t.Errorf("messages = %v", got)
	}
	if m.Status().TrackedWallets != 1 {
		t.Errorf("TrackedWallets = %d, want 1", m.Status().TrackedWallets)
	}
	if len(log.alerts) != 1 || log.alerts[0].Kind != models.KindWatchlist {
		t.Errorf("audit rows = %+v", log.alerts)
	}
}

func TestRunCycle_TrackedWalletsWithoutRefresh(t *testing.T) {
	clk := &clock{now: minute(0)}
	restored := []models.SmartWallet{{Address: "0xa"}, {Address: "0xb"}, {Address: "0xc"}}
	src := &fakeSource{polls: []*models.Poll{
		{Wallets: restored},
		{Wallets: restored[:2]},
	}}
	disp := &fakeDispatcher{}
	m := newTestMonitor(src, disp, nil, clk)

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := m.Status().TrackedWallets; got != 3 {
		t.Errorf("TrackedWallets = %d, want 3 from restored checkpoint", got)
	}
	if got := disp.sent(); len(got) != 0 {
		t.Errorf("watchlist must only post on refresh, got %v", got)
	}

	clk.now = minute(1)
	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := m.Status().TrackedWallets; got != 2 {
		t.Errorf("TrackedWallets = %d, want 2", got)
	}
}

func TestRunCycle_KellySizing(t *testing.T) {
	clk := &clock{now: minute(0)}
	src := &fakeSource{polls: []*models.Poll{{
		Markets: []models.MarketSnapshot{snapshot("a", 0.80, 20000, 8000)},
	}}}
	var captured []models.MarketSignal
	f := capturingFormatter{capture: &captured}
	m := New(src, &fakeDispatcher{}, nil, f, risk.NewManager(1000, 0.25, 0.10), testConfig())
	m.SetClock(clk.Now)

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(captured) != 1 {
		t.Fatalf("captured %d signals, want 1", len(captured))
	}
	if captured[0].Bet.SuggestedUSD <= 0 {
		t.Errorf("expected a positive bet suggestion, got %+v", captured[0].Bet)
	}
}

type capturingFormatter struct {
	plainFormatter
	capture *[]models.MarketSignal
}

func (c capturingFormatter) MarketSignals(signals []models.MarketSignal, now time.Time) string {
	*c.capture = append(*c.capture, signals...)
	return c.plainFormatter.MarketSignals(signals, now)
}

func TestRunCycle_RefusesOverlap(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	m := New(src, &fakeDispatcher{}, nil, plainFormatter{}, nil, testConfig())

	done := make(chan error, 1)
	go func() { done <- m.RunCycle(context.Background()) }()

	// Wait until the first cycle holds the in-flight flag.
	deadline := time.Now().Add(2 * time.Second)
	for !m.inFlight.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := m.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("err = %v, want ErrCycleInProgress", err)
	}
	close(src.block)
	if err := <-done; err != nil {
		t.Errorf("first cycle: %v", err)
	}
}

func TestRun_ErrorAndRecoveryNotices(t *testing.T) {
	src := &flakySource{failures: 2}
	disp := &fakeDispatcher{}
	m := New(src, disp, nil, plainFormatter{}, nil, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := disp.sent()
		if len(msgs) >= 2 {
			if !strings.HasPrefix(msgs[0], "error:") {
				t.Errorf("first notice = %q, want an error notice", msgs[0])
			}
			if msgs[1] != "recovered:2" {
				t.Errorf("second notice = %q, want recovered:2", msgs[1])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("notices = %v", msgs)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

type flakySource struct {
	mu       sync.Mutex
	failures int
}

func (f *flakySource) Fetch(context.Context, time.Time) (*models.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("gamma unavailable")
	}
	return &models.Poll{}, nil
}
