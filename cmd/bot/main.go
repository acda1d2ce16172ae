package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/stock_auto_trader/internal/infrastructure/broker"
	"github.com/vitos/stock_auto_trader/internal/infrastructure/logger"
	"github.com/vitos/stock_auto_trader/internal/infrastructure/storage"
	"github.com/vitos/stock_auto_trader/internal/infrastructure/stream"
	"github.com/vitos/stock_auto_trader/internal/usecase"
	"github.com/vitos/stock_auto_trader/internal/web"
)

type Config struct {
	Credentials struct {
		AppKey    string `yaml:"app_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"credentials"`
	Endpoints struct {
		BaseURL  string `yaml:"base_url"`
		TokenURL string `yaml:"token_url"`
		WSURL    string `yaml:"ws_url"`
	} `yaml:"endpoints"`
	Strategy struct {
		Symbols            []string `yaml:"symbols"`
		OversoldRSI        float64  `yaml:"oversold_rsi"`
		FirstTarget        float64  `yaml:"first_target"`
		SecondTarget       float64  `yaml:"second_target"`
		MaxOrderbookLevels int      `yaml:"max_orderbook_levels"`
		InterCallDelayMs   int      `yaml:"inter_call_delay_ms"`
		MarketTimezone     string   `yaml:"market_timezone"`
	} `yaml:"strategy"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Journal
	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath = "trader.db"
	}
	journal, err := storage.NewSQLiteJournal(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer journal.Close()

	// 4. Credential lease over the venue token endpoint
	provider := broker.NewCredentialProvider(cfg.Endpoints.TokenURL, cfg.Credentials.AppKey, cfg.Credentials.SecretKey)
	lease := usecase.NewCredentialLease(provider, log)

	// 5. Broker REST client and realtime stream
	client := broker.NewKiwoomClient(cfg.Endpoints.BaseURL, lease)
	streamClient := stream.NewClient(cfg.Endpoints.WSURL, lease, log)
	if cfg.Strategy.MaxOrderbookLevels > 0 {
		streamClient.MaxLevels = cfg.Strategy.MaxOrderbookLevels
	}

	// 6. Session services
	ledger := usecase.NewPositionLedger(cfg.Strategy.FirstTarget, cfg.Strategy.SecondTarget, log)
	executor := usecase.NewOrderExecutor(client, client, ledger, log)
	if cfg.Strategy.MaxOrderbookLevels > 0 {
		executor.MaxLevels = cfg.Strategy.MaxOrderbookLevels
	}

	location := time.Local
	if cfg.Strategy.MarketTimezone != "" {
		if loc, err := time.LoadLocation(cfg.Strategy.MarketTimezone); err == nil {
			location = loc
		} else {
			log.Warn("Unknown market timezone, using local", zap.String("tz", cfg.Strategy.MarketTimezone))
		}
	}
	strategy := usecase.NewStrategyService(usecase.StrategyConfig{
		Symbols:           cfg.Strategy.Symbols,
		OversoldThreshold: cfg.Strategy.OversoldRSI,
		InterCallDelay:    time.Duration(cfg.Strategy.InterCallDelayMs) * time.Millisecond,
		Location:          location,
	}, client, executor, ledger, log)

	trader := usecase.NewTraderService(cfg.Strategy.Symbols, lease, streamClient, strategy, executor, ledger, journal, log)

	// 7. Start session
	trader.Start()

	// 8. Web surface
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, trader, client, journal, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	trader.Stop()
	server.Shutdown(context.Background())
}
