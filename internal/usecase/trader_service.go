package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/stock_auto_trader/internal/domain"
	"github.com/vitos/stock_auto_trader/internal/infrastructure/stream"
)

// streamEvent is one message handed off from the stream goroutine. fill is
// nil for trade ticks.
type streamEvent struct {
	fill   *domain.Fill
	symbol string
	price  int64
}

// TraderService supervises the trading session: the credential lease's
// refresh task, the realtime stream, the strategy loop, and a consumer
// goroutine that routes stream events into the ledger and the gateway.
// Stream callbacks only enqueue; all accounting happens off the stream's
// execution context.
type TraderService struct {
	symbols  []string
	lease    *CredentialLease
	stream   *stream.Client
	strategy *StrategyService
	executor *OrderExecutor
	ledger   *PositionLedger
	journal  domain.TradeJournal
	log      *zap.Logger

	events chan streamEvent

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

func NewTraderService(
	symbols []string,
	lease *CredentialLease,
	streamClient *stream.Client,
	strategy *StrategyService,
	executor *OrderExecutor,
	ledger *PositionLedger,
	journal domain.TradeJournal,
	log *zap.Logger,
) *TraderService {
	t := &TraderService{
		symbols:  append([]string(nil), symbols...),
		lease:    lease,
		stream:   streamClient,
		strategy: strategy,
		executor: executor,
		ledger:   ledger,
		journal:  journal,
		log:      log,
		events:   make(chan streamEvent, 256),
	}

	streamClient.OnTick(func(symbol string, price int64) {
		t.enqueue(streamEvent{symbol: symbol, price: price})
	})
	streamClient.OnFill(func(fill domain.Fill) {
		t.enqueue(streamEvent{fill: &fill})
	})
	streamClient.OnStateChange(func(s stream.State) {
		t.log.Info("stream state changed", zap.Stringer("state", s))
	})

	return t
}

func (t *TraderService) enqueue(ev streamEvent) {
	select {
	case t.events <- ev:
	default:
		// Dropping is preferable to blocking the stream's receive loop.
		t.log.Warn("stream event dropped, consumer behind", zap.String("symbol", ev.symbol))
	}
}

// Start brings the whole session up. Idempotent.
func (t *TraderService) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.log.Info("trader already running")
		return
	}
	t.running = true
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	// The lease outlives trader stop/start cycles; Start is idempotent.
	t.lease.Start()

	go t.consume(stop)
	t.stream.Start(t.symbols)
	t.strategy.Start()
	t.log.Info("trader started", zap.Strings("symbols", t.symbols))
}

// Stop halts strategy and stream. The credential lease keeps refreshing for
// the life of the process so a restart has a warm token.
func (t *TraderService) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stop)
	t.mu.Unlock()

	t.strategy.Stop()
	t.stream.Stop()
	t.log.Info("trader stopped")
}

func (t *TraderService) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *TraderService) StartStream() { t.stream.Start(t.symbols) }
func (t *TraderService) StopStream()  { t.stream.Stop() }

func (t *TraderService) StartStrategy() { t.strategy.Start() }
func (t *TraderService) StopStrategy()  { t.strategy.Stop() }

func (t *TraderService) StreamState() stream.State { return t.stream.State() }

func (t *TraderService) Positions() []domain.PositionSnapshot { return t.ledger.Snapshots() }

// PositionUpdates exposes the ledger's fire-and-forget observer channel for
// external consumers such as a UI.
func (t *TraderService) PositionUpdates() <-chan domain.PositionUpdate { return t.ledger.Updates() }

func (t *TraderService) consume(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev := <-t.events:
			if ev.fill != nil {
				t.handleFill(*ev.fill)
			} else {
				t.executor.HandleTick(ev.symbol, ev.price)
			}
		}
	}
}

func (t *TraderService) handleFill(fill domain.Fill) {
	result := t.ledger.RecordFill(fill)
	if !result.Applied {
		t.log.Debug("duplicate fill ignored",
			zap.String("order_id", fill.OrderID), zap.Int64("quantity", fill.Quantity))
		return
	}

	t.log.Info("fill recorded",
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.Int64("quantity", fill.Quantity),
		zap.Int64("price", fill.Price),
		zap.Int64("position_qty", result.Snapshot.Quantity),
		zap.Int64("position_avg", result.Snapshot.AvgPrice))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.journal.SaveFill(ctx, &fill); err != nil {
		t.log.Warn("journal fill write failed", zap.Error(err))
	}
	msg := fmt.Sprintf("%s %s filled qty=%d price=%d", fill.Symbol, fill.Side, fill.Quantity, fill.Price)
	if err := t.journal.SaveSessionLog(ctx, msg); err != nil {
		t.log.Warn("session log write failed", zap.Error(err))
	}

	if result.CycleClosed {
		history := &domain.PositionHistory{
			Symbol:    fill.Symbol,
			Quantity:  result.ClosedQuantity,
			AvgPrice:  result.ClosedAvg,
			ExitPrice: fill.Price,
			ClosedAt:  time.Now(),
		}
		if err := t.journal.SavePositionHistory(ctx, history); err != nil {
			t.log.Warn("position history write failed", zap.Error(err))
		}
	}
}
