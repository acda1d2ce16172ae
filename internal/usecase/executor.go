package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/stock_auto_trader/internal/domain"
)

// OrderExecutor submits entry ladders and exit orders and reconciles the
// bookkeeping into the position ledger. Fill outcomes arrive later through
// the stream's execution channel.
type OrderExecutor struct {
	market domain.MarketData
	broker domain.Broker
	ledger *PositionLedger
	log    *zap.Logger

	MaxLevels  int
	OrderDelay time.Duration
}

func NewOrderExecutor(market domain.MarketData, broker domain.Broker, ledger *PositionLedger, log *zap.Logger) *OrderExecutor {
	return &OrderExecutor{
		market:     market,
		broker:     broker,
		ledger:     ledger,
		log:        log,
		MaxLevels:  5,
		OrderDelay: 100 * time.Millisecond,
	}
}

// EnterPosition submits one unit-quantity limit buy at each of the top bid
// levels. Individual rung failures are logged and skipped; the entry mark is
// released when nothing could be submitted at all. Callers must have claimed
// the entry via TryBeginEntry.
func (e *OrderExecutor) EnterPosition(ctx context.Context, symbol string) error {
	book, err := e.market.GetOrderBook(ctx, symbol)
	if err != nil {
		e.ledger.AbortEntry(symbol)
		return err
	}

	var orderIDs []string
	levels := book.Bids
	if len(levels) > e.MaxLevels {
		levels = levels[:e.MaxLevels]
	}
ladder:
	for _, level := range levels {
		if level.Price <= 0 {
			continue
		}
		orderID, err := e.broker.PlaceLimitOrder(ctx, symbol, domain.SideBuy, 1, level.Price)
		if err != nil {
			e.log.Warn("ladder rung rejected",
				zap.String("symbol", symbol), zap.Int64("price", level.Price), zap.Error(err))
			continue
		}
		orderIDs = append(orderIDs, orderID)

		select {
		case <-ctx.Done():
			break ladder
		case <-time.After(e.OrderDelay):
		}
	}

	if len(orderIDs) == 0 {
		e.ledger.AbortEntry(symbol)
		return fmt.Errorf("entry ladder for %s: no orders accepted", symbol)
	}

	e.ledger.FinishEntry(symbol, orderIDs)
	e.log.Info("entry ladder submitted",
		zap.String("symbol", symbol), zap.Strings("orders", orderIDs))
	return nil
}

// Exit submits a market sell for qty. The position is only mutated when the
// fill notification comes back.
func (e *OrderExecutor) Exit(ctx context.Context, symbol string, qty int64) error {
	orderID, err := e.broker.PlaceMarketOrder(ctx, symbol, domain.SideSell, qty)
	if err != nil {
		e.log.Error("exit order rejected",
			zap.String("symbol", symbol), zap.Int64("qty", qty), zap.Error(err))
		return err
	}
	e.log.Info("exit order submitted",
		zap.String("symbol", symbol), zap.Int64("qty", qty), zap.String("order_id", orderID))
	return nil
}

// HandleTick evaluates exit targets for a trade tick. The matching flag is
// set before submission so a burst of ticks cannot double-submit; flags only
// reset once the position is flat again. The sell itself runs off the
// caller's goroutine so slow broker calls never stall event handling.
func (e *OrderExecutor) HandleTick(symbol string, price int64) {
	decision := e.ledger.EvaluateExit(symbol, price)
	switch decision.Action {
	case ExitHalf:
		e.ledger.MarkFirstExit(symbol)
	case ExitRemainder:
		e.ledger.MarkSecondExit(symbol)
	default:
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		e.Exit(ctx, symbol, decision.Quantity)
	}()
}
