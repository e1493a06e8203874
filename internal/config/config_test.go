package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Polymarket: PolymarketConfig{
			GammaAPIURL:       "https://example.com",
			DataAPIURL:        "https://data.example.com",
			MarketLimit:       100,
			Timeout:           20 * time.Second,
			RequestsPerSecond: 3,
		},
		Scanner: ScannerConfig{
			Enabled:        true,
			MinProbability: 0.65,
			MaxProbability: 0.92,
			MinVolume:      10000,
			MinLiquidity:   5000,
			MarketsPerPost: 5,
		},
		SmartMoney: SmartMoneyConfig{
			Enabled:                    true,
			LeaderboardCategories:      []string{"OVERALL"},
			LeaderboardLimit:           50,
			LeaderboardRefreshHours:    6,
			ActivityLookbackSeconds:    300,
			MinWinRate:                 0.54,
			MinTradeSizeUSD:            200,
			ConvergenceWindowMinutes:   60,
			ConvergenceWalletThreshold: 2,
		},
		Alerts:    AlertsConfig{AlertCooldownMinutes: 120, RetentionMultiplier: 4},
		Scheduler: SchedulerConfig{PollIntervalSeconds: 60},
		Risk:      RiskConfig{Bankroll: 1000, KellyFraction: 0.25, MaxFraction: 0.1},
		Telegram:  TelegramConfig{Enabled: false},
		Storage:   StorageConfig{MaxAlerts: 100, AlertRetention: 24 * time.Hour},
		Server:    ServerConfig{Enabled: true, Addr: ":10000"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestLoadAndValidate(t *testing.T) {
	content := `
scanner:
  min_probability: 0.70
  max_probability: 0.90
  min_volume: 20000
  min_liquidity: 6000

smart_money:
  min_pnl_all_time: 10000
  min_win_rate: 0.6
  min_trade_size_usd: 500
  convergence_window_minutes: 45
  convergence_wallet_threshold: 3
  leaderboard_categories:
    - OVERALL
    - POLITICS

alerts:
  alert_cooldown_minutes: 90

scheduler:
  poll_interval_seconds: 30

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  db_path: "./data/test.db"

logging:
  level: "info"
  format: "json"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scanner.MinProbability != 0.70 {
		t.Errorf("Unexpected min probability: %f", cfg.Scanner.MinProbability)
	}
	if cfg.SmartMoney.ConvergenceWalletThreshold != 3 {
		t.Errorf("Unexpected convergence threshold: %d", cfg.SmartMoney.ConvergenceWalletThreshold)
	}
	if cfg.ConvergenceWindow() != 45*time.Minute {
		t.Errorf("Unexpected convergence window: %v", cfg.ConvergenceWindow())
	}
	if cfg.AlertCooldown() != 90*time.Minute {
		t.Errorf("Unexpected cooldown: %v", cfg.AlertCooldown())
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Errorf("Unexpected poll interval: %v", cfg.PollInterval())
	}
	if len(cfg.SmartMoney.LeaderboardCategories) != 2 {
		t.Errorf("Expected 2 categories, got %d", len(cfg.SmartMoney.LeaderboardCategories))
	}
	// defaults survive partial files
	if cfg.Scanner.MarketsPerPost != 5 {
		t.Errorf("Expected default markets_per_post 5, got %d", cfg.Scanner.MarketsPerPost)
	}
	if cfg.Storage.AlertRetention != 168*time.Hour {
		t.Errorf("Expected default retention, got %v", cfg.Storage.AlertRetention)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scanner.MinProbability != 0.65 || cfg.Scanner.MaxProbability != 0.92 {
		t.Errorf("unexpected default probability band: %f-%f", cfg.Scanner.MinProbability, cfg.Scanner.MaxProbability)
	}
	if cfg.SmartMoney.ConvergenceWalletThreshold != 2 {
		t.Errorf("expected default convergence threshold 2, got %d", cfg.SmartMoney.ConvergenceWalletThreshold)
	}
	if cfg.Alerts.AlertCooldownMinutes != 120 {
		t.Errorf("expected default cooldown 120, got %d", cfg.Alerts.AlertCooldownMinutes)
	}
	if cfg.Telegram.Timeout != 10*time.Second {
		t.Errorf("expected default telegram timeout 10s, got %v", cfg.Telegram.Timeout)
	}
	if cfg.SmartMoney.TradeMaxProbability != 0 || cfg.SmartMoney.TradeMinMarketLiquidity != 0 {
		t.Error("trade pre-filter must be disabled by default")
	}
}

func TestLoadEnvAliases(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("USER_BANKROLL", "2500")
	t.Setenv("POLY_TIPSTER_SCANNER_MIN_VOLUME", "42000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.BotToken != "from-env" {
		t.Errorf("bot token alias not applied: %q", cfg.Telegram.BotToken)
	}
	if cfg.Telegram.ChatID != "-100123" {
		t.Errorf("chat id alias not applied: %q", cfg.Telegram.ChatID)
	}
	if cfg.Risk.Bankroll != 2500 {
		t.Errorf("bankroll alias not applied: %f", cfg.Risk.Bankroll)
	}
	if cfg.Scanner.MinVolume != 42000 {
		t.Errorf("prefixed env override not applied: %f", cfg.Scanner.MinVolume)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing telegram token when enabled", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = "1" }, true},
		{"inverted probability band", func(c *Config) { c.Scanner.MinProbability = 0.95 }, true},
		{"probability above one", func(c *Config) { c.Scanner.MaxProbability = 1.5 }, true},
		{"negative liquidity floor", func(c *Config) { c.Scanner.MinLiquidity = -1 }, true},
		{"convergence threshold below two", func(c *Config) { c.SmartMoney.ConvergenceWalletThreshold = 1 }, true},
		{"zero convergence window", func(c *Config) { c.SmartMoney.ConvergenceWindowMinutes = 0 }, true},
		{"win rate out of range", func(c *Config) { c.SmartMoney.MinWinRate = 1.2 }, true},
		{"zero cooldown", func(c *Config) { c.Alerts.AlertCooldownMinutes = 0 }, true},
		{"poll interval too short", func(c *Config) { c.Scheduler.PollIntervalSeconds = 5 }, true},
		{"no leaderboard categories", func(c *Config) { c.SmartMoney.LeaderboardCategories = nil }, true},
		{"categories not needed when smart money disabled", func(c *Config) {
			c.SmartMoney.Enabled = false
			c.SmartMoney.LeaderboardCategories = nil
		}, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"telegram without timeout", func(c *Config) {
			c.Telegram = TelegramConfig{Enabled: true, BotToken: "t", ChatID: "1"}
		}, true},
		{"telegram with timeout", func(c *Config) {
			c.Telegram = TelegramConfig{Enabled: true, BotToken: "t", ChatID: "1", Timeout: 10 * time.Second}
		}, false},
		{"trade probability cap above one", func(c *Config) { c.SmartMoney.TradeMaxProbability = 1.5 }, true},
		{"longshot above cap", func(c *Config) {
			c.SmartMoney.TradeMaxProbability = 0.9
			c.SmartMoney.TradeLongshotProbability = 0.95
		}, true},
		{"trade pre-filter from the original bot", func(c *Config) {
			c.SmartMoney.TradeMaxProbability = 0.92
			c.SmartMoney.TradeLongshotProbability = 0.05
			c.SmartMoney.TradeLongshotMinUSD = 1000
			c.SmartMoney.TradeMinMarketLiquidity = 8000
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
