package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/stock_auto_trader/internal/domain"
)

// EntryGateway triggers an entry sequence for a symbol whose signal fired.
type EntryGateway interface {
	EnterPosition(ctx context.Context, symbol string) error
}

type StrategyConfig struct {
	Symbols           []string
	OversoldThreshold float64
	RSIPeriod         int
	DailyBars         int
	MinuteBars        int
	InterCallDelay    time.Duration
	Location          *time.Location
}

// StrategyService runs the periodic entry loop: inside market hours it
// fetches history per tracked symbol, applies the trend filter and the
// oversold signal, and delegates qualifying symbols to the gateway. It is
// independent of the realtime stream.
type StrategyService struct {
	cfg     StrategyConfig
	market  domain.MarketData
	gateway EntryGateway
	ledger  *PositionLedger
	log     *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}

	timeNow func() time.Time
}

func NewStrategyService(cfg StrategyConfig, market domain.MarketData, gateway EntryGateway, ledger *PositionLedger, log *zap.Logger) *StrategyService {
	if cfg.RSIPeriod == 0 {
		cfg.RSIPeriod = rsiPeriod
	}
	if cfg.DailyBars == 0 {
		cfg.DailyBars = 30
	}
	if cfg.MinuteBars == 0 {
		cfg.MinuteBars = 50
	}
	if cfg.InterCallDelay == 0 {
		cfg.InterCallDelay = 100 * time.Millisecond
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &StrategyService{
		cfg:     cfg,
		market:  market,
		gateway: gateway,
		ledger:  ledger,
		log:     log,
		timeNow: time.Now,
	}
}

func (s *StrategyService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Info("strategy already running")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	go s.run(stop)
	s.log.Info("strategy started", zap.Strings("symbols", s.cfg.Symbols))
}

func (s *StrategyService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	s.log.Info("strategy stopped")
}

func (s *StrategyService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *StrategyService) run(stop chan struct{}) {
	for {
		now := s.timeNow().In(s.cfg.Location)
		if !inTradingWindow(now) {
			if !sleepOrStop(stop, 30*time.Second) {
				return
			}
			continue
		}

		s.runPass(stop)

		// Align the next pass to the top of the minute.
		wait := time.Duration(60-s.timeNow().Second()) * time.Second
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		if !sleepOrStop(stop, wait) {
			return
		}
	}
}

func (s *StrategyService) runPass(stop chan struct{}) {
	for _, symbol := range s.cfg.Symbols {
		select {
		case <-stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.EvaluateSymbol(ctx, symbol); err != nil {
			// DataUnavailable and rejections skip the symbol, never the pass.
			s.log.Warn("symbol evaluation failed", zap.String("symbol", symbol), zap.Error(err))
		}
		cancel()

		if !sleepOrStop(stop, s.cfg.InterCallDelay) {
			return
		}
	}
}

// EvaluateSymbol runs one iteration of the entry decision for a symbol.
func (s *StrategyService) EvaluateSymbol(ctx context.Context, symbol string) error {
	daily, err := s.market.GetDailyCandles(ctx, symbol, s.cfg.DailyBars)
	if err != nil {
		return err
	}
	if !DailyUptrend(daily) {
		return nil
	}

	minute, err := s.market.GetMinuteCandles(ctx, symbol, s.cfg.MinuteBars)
	if err != nil {
		return err
	}
	closes := make([]int64, len(minute))
	for i, c := range minute {
		closes[i] = c.Close
	}

	rsi, ok := RSI(closes, s.cfg.RSIPeriod)
	if !ok || rsi > s.cfg.OversoldThreshold {
		return nil
	}

	if !s.ledger.TryBeginEntry(symbol) {
		return nil
	}
	s.log.Info("oversold signal", zap.String("symbol", symbol), zap.Float64("rsi", rsi))
	return s.gateway.EnterPosition(ctx, symbol)
}

// inTradingWindow is true between 09:00 and 15:25 market time.
func inTradingWindow(now time.Time) bool {
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= 9*60 && minutes < 15*60+25
}

func sleepOrStop(stop chan struct{}, d time.Duration) bool {
	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}
