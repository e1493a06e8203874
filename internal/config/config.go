package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	SmartMoney SmartMoneyConfig `mapstructure:"smart_money"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	GammaAPIURL         string        `mapstructure:"gamma_api_url"`
	DataAPIURL          string        `mapstructure:"data_api_url"`
	EventURLBase        string        `mapstructure:"event_url_base"`
	MarketLimit         int           `mapstructure:"market_limit"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
	Burst               int           `mapstructure:"burst"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
}

// ScannerConfig holds the market filter thresholds
type ScannerConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MinProbability float64 `mapstructure:"min_probability"`
	MaxProbability float64 `mapstructure:"max_probability"`
	MinVolume      float64 `mapstructure:"min_volume"`
	MinLiquidity   float64 `mapstructure:"min_liquidity"`
	MarketsPerPost int     `mapstructure:"markets_per_post"`
}

// SmartMoneyConfig holds wallet qualification and convergence thresholds
type SmartMoneyConfig struct {
	Enabled                    bool     `mapstructure:"enabled"`
	LeaderboardCategories      []string `mapstructure:"leaderboard_categories"`
	LeaderboardLimit           int      `mapstructure:"leaderboard_limit"`
	LeaderboardRefreshHours    int      `mapstructure:"leaderboard_refresh_hours"`
	ActivityLookbackSeconds    int      `mapstructure:"activity_lookback_seconds"`
	MinPnLAllTime              float64  `mapstructure:"min_pnl_all_time"`
	MinVolumeAllTime           float64  `mapstructure:"min_volume_all_time"`
	MinProfitableWindows       int      `mapstructure:"min_profitable_windows"`
	MinClosedPositions         int      `mapstructure:"min_closed_positions"`
	MinWinRate                 float64  `mapstructure:"min_win_rate"`
	MinROIPercent              float64  `mapstructure:"min_roi_percent"`
	MinTradeSizeUSD            float64  `mapstructure:"min_trade_size_usd"`
	ConvergenceWindowMinutes   int      `mapstructure:"convergence_window_minutes"`
	ConvergenceWalletThreshold int      `mapstructure:"convergence_wallet_threshold"`

	// Per-trade pre-filter applied before convergence. Zero disables a check.
	TradeMaxProbability      float64 `mapstructure:"trade_max_probability"`
	TradeLongshotProbability float64 `mapstructure:"trade_longshot_probability"`
	TradeLongshotMinUSD      float64 `mapstructure:"trade_longshot_min_usd"`
	TradeMinMarketLiquidity  float64 `mapstructure:"trade_min_market_liquidity"`
}

// AlertsConfig holds dedup gate configuration
type AlertsConfig struct {
	AlertCooldownMinutes int `mapstructure:"alert_cooldown_minutes"`
	RetentionMultiplier  int `mapstructure:"retention_multiplier"`
}

// SchedulerConfig holds polling loop configuration
type SchedulerConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// RiskConfig holds position sizing configuration
type RiskConfig struct {
	Bankroll      float64 `mapstructure:"bankroll"`
	KellyFraction float64 `mapstructure:"kelly_fraction"`
	MaxFraction   float64 `mapstructure:"max_fraction"`
	EdgeEstimate  float64 `mapstructure:"edge_estimate"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds audit log persistence configuration
type StorageConfig struct {
	DBPath         string        `mapstructure:"db_path"`
	MaxAlerts      int           `mapstructure:"max_alerts"`
	AlertRetention time.Duration `mapstructure:"alert_retention"`
}

// ServerConfig holds the health/status endpoint configuration
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads configuration from file, .env and environment variables.
// A missing config file is not an error; defaults and environment apply.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("POLY_TIPSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindAliases(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindAliases maps the conventional deployment variable names onto config keys.
func bindAliases(v *viper.Viper) {
	_ = v.BindEnv("telegram.bot_token", "POLY_TIPSTER_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chat_id", "POLY_TIPSTER_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")
	_ = v.BindEnv("risk.bankroll", "POLY_TIPSTER_RISK_BANKROLL", "USER_BANKROLL")
	_ = v.BindEnv("logging.level", "POLY_TIPSTER_LOGGING_LEVEL", "LOG_LEVEL")
	if port := os.Getenv("PORT"); port != "" {
		v.SetDefault("server.addr", ":"+port)
	}
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Polymarket defaults
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.data_api_url", "https://data-api.polymarket.com")
	v.SetDefault("polymarket.event_url_base", "https://polymarket.com/event/")
	v.SetDefault("polymarket.market_limit", 100)
	v.SetDefault("polymarket.timeout", "20s")
	v.SetDefault("polymarket.max_retries", 3)
	v.SetDefault("polymarket.retry_delay_base", "1s")
	v.SetDefault("polymarket.requests_per_second", 3.0)
	v.SetDefault("polymarket.burst", 1)
	v.SetDefault("polymarket.max_idle_conns", 20)
	v.SetDefault("polymarket.max_idle_conns_per_host", 10)
	v.SetDefault("polymarket.idle_conn_timeout", "90s")

	// Scanner defaults
	v.SetDefault("scanner.enabled", true)
	v.SetDefault("scanner.min_probability", 0.65)
	v.SetDefault("scanner.max_probability", 0.92)
	v.SetDefault("scanner.min_volume", 10000.0)
	v.SetDefault("scanner.min_liquidity", 5000.0)
	v.SetDefault("scanner.markets_per_post", 5)

	// Smart money defaults
	v.SetDefault("smart_money.enabled", true)
	v.SetDefault("smart_money.leaderboard_categories", []string{"OVERALL", "POLITICS", "SPORTS", "CRYPTO", "ECONOMICS"})
	v.SetDefault("smart_money.leaderboard_limit", 50)
	v.SetDefault("smart_money.leaderboard_refresh_hours", 6)
	v.SetDefault("smart_money.activity_lookback_seconds", 300)
	v.SetDefault("smart_money.min_pnl_all_time", 5000.0)
	v.SetDefault("smart_money.min_volume_all_time", 50000.0)
	v.SetDefault("smart_money.min_profitable_windows", 2)
	v.SetDefault("smart_money.min_closed_positions", 8)
	v.SetDefault("smart_money.min_win_rate", 0.54)
	v.SetDefault("smart_money.min_roi_percent", 8.0)
	v.SetDefault("smart_money.min_trade_size_usd", 200.0)
	v.SetDefault("smart_money.convergence_window_minutes", 60)
	v.SetDefault("smart_money.convergence_wallet_threshold", 2)
	v.SetDefault("smart_money.trade_max_probability", 0.0)
	v.SetDefault("smart_money.trade_longshot_probability", 0.0)
	v.SetDefault("smart_money.trade_longshot_min_usd", 0.0)
	v.SetDefault("smart_money.trade_min_market_liquidity", 0.0)

	// Alert gate defaults
	v.SetDefault("alerts.alert_cooldown_minutes", 120)
	v.SetDefault("alerts.retention_multiplier", 4)

	// Scheduler defaults
	v.SetDefault("scheduler.poll_interval_seconds", 60)

	// Risk defaults
	v.SetDefault("risk.bankroll", 1000.0)
	v.SetDefault("risk.kelly_fraction", 0.25)
	v.SetDefault("risk.max_fraction", 0.10)
	v.SetDefault("risk.edge_estimate", 0.02)

	// Telegram defaults
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/polytipster.db")
	v.SetDefault("storage.max_alerts", 5000)
	v.SetDefault("storage.alert_retention", "168h")

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":10000")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Polymarket config
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.SmartMoney.Enabled && c.Polymarket.DataAPIURL == "" {
		return fmt.Errorf("polymarket.data_api_url is required when smart_money is enabled")
	}
	if c.Polymarket.MarketLimit < 1 || c.Polymarket.MarketLimit > 1000 {
		return fmt.Errorf("polymarket.market_limit must be between 1 and 1000")
	}
	if c.Polymarket.Timeout <= 0 {
		return fmt.Errorf("polymarket.timeout must be positive")
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		return fmt.Errorf("polymarket.requests_per_second must be positive")
	}

	// Validate Scanner config
	if c.Scanner.MinProbability < 0.0 || c.Scanner.MinProbability > 1.0 {
		return fmt.Errorf("scanner.min_probability must be between 0.0 and 1.0")
	}
	if c.Scanner.MaxProbability < 0.0 || c.Scanner.MaxProbability > 1.0 {
		return fmt.Errorf("scanner.max_probability must be between 0.0 and 1.0")
	}
	if c.Scanner.MinProbability > c.Scanner.MaxProbability {
		return fmt.Errorf("scanner.min_probability must not exceed scanner.max_probability")
	}
	if c.Scanner.MinVolume < 0 {
		return fmt.Errorf("scanner.min_volume must not be negative")
	}
	if c.Scanner.MinLiquidity < 0 {
		return fmt.Errorf("scanner.min_liquidity must not be negative")
	}
	if c.Scanner.MarketsPerPost < 1 {
		return fmt.Errorf("scanner.markets_per_post must be at least 1")
	}

	// Validate Smart money config
	if c.SmartMoney.MinWinRate < 0.0 || c.SmartMoney.MinWinRate > 1.0 {
		return fmt.Errorf("smart_money.min_win_rate must be between 0.0 and 1.0")
	}
	if c.SmartMoney.MinTradeSizeUSD < 0 {
		return fmt.Errorf("smart_money.min_trade_size_usd must not be negative")
	}
	if c.SmartMoney.ConvergenceWindowMinutes < 1 {
		return fmt.Errorf("smart_money.convergence_window_minutes must be at least 1")
	}
	if c.SmartMoney.ConvergenceWalletThreshold < 2 {
		return fmt.Errorf("smart_money.convergence_wallet_threshold must be at least 2")
	}
	if c.SmartMoney.TradeMaxProbability < 0.0 || c.SmartMoney.TradeMaxProbability > 1.0 {
		return fmt.Errorf("smart_money.trade_max_probability must be between 0.0 and 1.0")
	}
	if c.SmartMoney.TradeLongshotProbability < 0.0 || c.SmartMoney.TradeLongshotProbability > 1.0 {
		return fmt.Errorf("smart_money.trade_longshot_probability must be between 0.0 and 1.0")
	}
	if c.SmartMoney.TradeMaxProbability > 0 && c.SmartMoney.TradeLongshotProbability >= c.SmartMoney.TradeMaxProbability {
		return fmt.Errorf("smart_money.trade_longshot_probability must be below trade_max_probability")
	}
	if c.SmartMoney.TradeLongshotMinUSD < 0 || c.SmartMoney.TradeMinMarketLiquidity < 0 {
		return fmt.Errorf("smart_money trade pre-filter amounts must not be negative")
	}
	if c.SmartMoney.Enabled {
		if len(c.SmartMoney.LeaderboardCategories) == 0 {
			return fmt.Errorf("smart_money.leaderboard_categories must contain at least one category")
		}
		if c.SmartMoney.LeaderboardLimit < 1 {
			return fmt.Errorf("smart_money.leaderboard_limit must be at least 1")
		}
		if c.SmartMoney.LeaderboardRefreshHours < 1 {
			return fmt.Errorf("smart_money.leaderboard_refresh_hours must be at least 1")
		}
		if c.SmartMoney.ActivityLookbackSeconds < 1 {
			return fmt.Errorf("smart_money.activity_lookback_seconds must be at least 1")
		}
	}

	// Validate Alerts config
	if c.Alerts.AlertCooldownMinutes < 1 {
		return fmt.Errorf("alerts.alert_cooldown_minutes must be at least 1")
	}
	if c.Alerts.RetentionMultiplier < 1 {
		return fmt.Errorf("alerts.retention_multiplier must be at least 1")
	}

	// Validate Scheduler config
	if c.Scheduler.PollIntervalSeconds < 10 {
		return fmt.Errorf("scheduler.poll_interval_seconds must be at least 10")
	}

	// Validate Risk config
	if c.Risk.Bankroll < 0 {
		return fmt.Errorf("risk.bankroll must not be negative")
	}
	if c.Risk.KellyFraction <= 0 || c.Risk.KellyFraction > 1 {
		return fmt.Errorf("risk.kelly_fraction must be in (0, 1]")
	}
	if c.Risk.MaxFraction <= 0 || c.Risk.MaxFraction > 1 {
		return fmt.Errorf("risk.max_fraction must be in (0, 1]")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.Timeout <= 0 {
			return fmt.Errorf("telegram.timeout must be positive")
		}
	}

	// Validate Storage config
	if c.Storage.MaxAlerts < 1 {
		return fmt.Errorf("storage.max_alerts must be at least 1")
	}
	if c.Storage.AlertRetention < time.Hour {
		return fmt.Errorf("storage.alert_retention must be at least 1 hour")
	}

	// Validate Server config
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when server is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// PollInterval returns the scheduler interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second
}

// AlertCooldown returns the dedup cooldown as a duration
func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.Alerts.AlertCooldownMinutes) * time.Minute
}

// ConvergenceWindow returns the convergence window as a duration
func (c *Config) ConvergenceWindow() time.Duration {
	return time.Duration(c.SmartMoney.ConvergenceWindowMinutes) * time.Minute
}

// LeaderboardRefresh returns the wallet refresh interval as a duration
func (c *Config) LeaderboardRefresh() time.Duration {
	return time.Duration(c.SmartMoney.LeaderboardRefreshHours) * time.Hour
}

// ActivityLookback returns the trade activity lookback as a duration
func (c *Config) ActivityLookback() time.Duration {
	return time.Duration(c.SmartMoney.ActivityLookbackSeconds) * time.Second
}
