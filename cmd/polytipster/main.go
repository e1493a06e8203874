package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rewired-gh/polytipster/internal/config"
	"github.com/rewired-gh/polytipster/internal/logger"
	"github.com/rewired-gh/polytipster/internal/monitor"
	"github.com/rewired-gh/polytipster/internal/polymarket"
	"github.com/rewired-gh/polytipster/internal/risk"
	"github.com/rewired-gh/polytipster/internal/server"
	"github.com/rewired-gh/polytipster/internal/smartmoney"
	"github.com/rewired-gh/polytipster/internal/storage"
	"github.com/rewired-gh/polytipster/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxAlerts, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	polyClient := polymarket.NewClient(
		cfg.Polymarket.GammaAPIURL,
		cfg.Polymarket.DataAPIURL,
		cfg.Polymarket.Timeout,
		polymarket.ClientConfig{
			MaxRetries:          cfg.Polymarket.MaxRetries,
			RetryDelayBase:      cfg.Polymarket.RetryDelayBase,
			RequestsPerSecond:   cfg.Polymarket.RequestsPerSecond,
			Burst:               cfg.Polymarket.Burst,
			MaxIdleConns:        cfg.Polymarket.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Polymarket.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.Polymarket.IdleConnTimeout,
		},
	)

	source := polymarket.NewSource(polyClient, store, polymarket.SourceConfig{
		MarketLimit:       cfg.Polymarket.MarketLimit,
		ScannerEnabled:    cfg.Scanner.Enabled,
		SmartMoneyEnabled: cfg.SmartMoney.Enabled,
		Categories:        cfg.SmartMoney.LeaderboardCategories,
		LeaderboardLimit:  cfg.SmartMoney.LeaderboardLimit,
		RefreshInterval:   cfg.LeaderboardRefresh(),
		ActivityLookback:  cfg.ActivityLookback(),
		Criteria: smartmoney.Criteria{
			MinPnLAllTime:        cfg.SmartMoney.MinPnLAllTime,
			MinVolumeAllTime:     cfg.SmartMoney.MinVolumeAllTime,
			MinProfitableWindows: cfg.SmartMoney.MinProfitableWindows,
			MinClosedPositions:   cfg.SmartMoney.MinClosedPositions,
			MinWinRate:           cfg.SmartMoney.MinWinRate,
			MinROIPercent:        cfg.SmartMoney.MinROIPercent,
		},
		TradeFilter: polymarket.TradeFilter{
			MaxProbability:      cfg.SmartMoney.TradeMaxProbability,
			LongshotProbability: cfg.SmartMoney.TradeLongshotProbability,
			LongshotMinUSD:      cfg.SmartMoney.TradeLongshotMinUSD,
			MinMarketLiquidity:  cfg.SmartMoney.TradeMinMarketLiquidity,
		},
	})
	if err := source.LoadWallets(); err != nil {
		logger.Warn("Starting without wallet checkpoint: %v", err)
	}

	var dispatcher monitor.Dispatcher = monitor.LogDispatcher{}
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, telegram.ClientConfig{
			MaxRetries:     cfg.Telegram.MaxRetries,
			RetryDelayBase: cfg.Telegram.RetryDelayBase,
			Timeout:        cfg.Telegram.Timeout,
		})
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		dispatcher = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	formatter := telegram.Formatter{
		EventURLBase:   cfg.Polymarket.EventURLBase,
		MinProbability: cfg.Scanner.MinProbability,
		MaxProbability: cfg.Scanner.MaxProbability,
		MinVolume:      cfg.Scanner.MinVolume,
		MinLiquidity:   cfg.Scanner.MinLiquidity,
	}

	mon := monitor.New(source, dispatcher, store, formatter,
		risk.NewManager(cfg.Risk.Bankroll, cfg.Risk.KellyFraction, cfg.Risk.MaxFraction),
		monitor.Config{
			Filter: monitor.FilterConfig{
				MinProbability: cfg.Scanner.MinProbability,
				MaxProbability: cfg.Scanner.MaxProbability,
				MinVolume:      cfg.Scanner.MinVolume,
				MinLiquidity:   cfg.Scanner.MinLiquidity,
			},
			Convergence: monitor.ConvergenceConfig{
				MinPnLAllTime:   cfg.SmartMoney.MinPnLAllTime,
				MinWinRate:      cfg.SmartMoney.MinWinRate,
				MinTradeSizeUSD: cfg.SmartMoney.MinTradeSizeUSD,
				Window:          cfg.ConvergenceWindow(),
				WalletThreshold: cfg.SmartMoney.ConvergenceWalletThreshold,
			},
			Cooldown:            cfg.AlertCooldown(),
			RetentionMultiplier: cfg.Alerts.RetentionMultiplier,
			MarketsPerPost:      cfg.Scanner.MarketsPerPost,
			Destination:         cfg.Telegram.ChatID,
			ScannerEnabled:      cfg.Scanner.Enabled,
			SmartMoneyEnabled:   cfg.SmartMoney.Enabled,
			EdgeEstimate:        cfg.Risk.EdgeEstimate,
			AlertRetention:      cfg.Storage.AlertRetention,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, mon.StatusText)
	}

	var wg sync.WaitGroup
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Addr, mon.Status, store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				logger.Error("HTTP server stopped: %v", err)
			}
		}()
	}

	if err := dispatcher.Dispatch(ctx, cfg.Telegram.ChatID, formatter.Startup(cfg.Scanner.Enabled, cfg.SmartMoney.Enabled, time.Now())); err != nil {
		logger.Warn("Failed to send startup notification: %v", err)
	}

	logger.Info("Starting monitoring service (interval: %v, cooldown: %v, convergence window: %v, wallet threshold: %d)",
		cfg.PollInterval(),
		cfg.AlertCooldown(),
		cfg.ConvergenceWindow(),
		cfg.SmartMoney.ConvergenceWalletThreshold,
	)

	mon.Run(ctx, cfg.PollInterval())
	wg.Wait()
	logger.Info("Service stopped")
}
