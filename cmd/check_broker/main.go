package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vitos/stock_auto_trader/internal/infrastructure/broker"
	"github.com/vitos/stock_auto_trader/internal/infrastructure/logger"
	"github.com/vitos/stock_auto_trader/internal/usecase"
)

// Smoke tool: issues a token and prints candles and the orderbook for one
// symbol. Usage: check_broker [symbol]
func main() {
	symbol := "005930"
	if len(os.Args) > 1 {
		symbol = os.Args[1]
	}

	f, err := os.Open("config/config.yaml")
	if err != nil {
		fmt.Printf("open config: %v\n", err)
		os.Exit(1)
	}
	var cfg struct {
		Credentials struct {
			AppKey    string `yaml:"app_key"`
			SecretKey string `yaml:"secret_key"`
		} `yaml:"credentials"`
		Endpoints struct {
			BaseURL  string `yaml:"base_url"`
			TokenURL string `yaml:"token_url"`
		} `yaml:"endpoints"`
	}
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		f.Close()
		fmt.Printf("decode config: %v\n", err)
		os.Exit(1)
	}
	f.Close()

	log, err := logger.NewLogger("debug")
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	provider := broker.NewCredentialProvider(cfg.Endpoints.TokenURL, cfg.Credentials.AppKey, cfg.Credentials.SecretKey)
	lease := usecase.NewCredentialLease(provider, log)
	client := broker.NewKiwoomClient(cfg.Endpoints.BaseURL, lease)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	daily, err := client.GetDailyCandles(ctx, symbol, 5)
	if err != nil {
		fmt.Printf("daily candles: %v\n", err)
	} else {
		fmt.Printf("daily candles for %s:\n", symbol)
		for _, c := range daily {
			fmt.Printf("  %s close=%d volume=%d\n", time.Unix(c.Time, 0).Format("2006-01-02"), c.Close, c.Volume)
		}
	}

	book, err := client.GetOrderBook(ctx, symbol)
	if err != nil {
		fmt.Printf("orderbook: %v\n", err)
	} else {
		fmt.Printf("orderbook for %s:\n", symbol)
		for i := range book.Bids {
			fmt.Printf("  bid %d@%d / ask %d@%d\n",
				book.Bids[i].Size, book.Bids[i].Price, book.Asks[i].Size, book.Asks[i].Price)
		}
	}

	holdings, err := client.GetHoldings(ctx)
	if err != nil {
		fmt.Printf("holdings: %v\n", err)
		return
	}
	fmt.Println("holdings:")
	for _, h := range holdings {
		fmt.Printf("  %s (%s) qty=%d avg=%d current=%d pnl=%d\n",
			h.Symbol, h.Name, h.Quantity, h.AvgPrice, h.CurrentPrice, h.EvalProfit)
	}
}
