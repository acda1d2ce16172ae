package usecase

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vitos/stock_auto_trader/internal/domain"
)

type ExitAction int

const (
	ExitNone ExitAction = iota
	ExitHalf
	ExitRemainder
)

type ExitDecision struct {
	Action   ExitAction
	Quantity int64
}

// position is the per-symbol state. All fields are guarded by the ledger
// mutex and mutated only through RecordFill and the entry/exit marks.
type position struct {
	qty            int64
	cycleQty       int64 // total quantity bought during the current cycle
	avgPrice       int64
	firstExitDone  bool
	secondExitDone bool
	entryPending   bool
	openOrders     map[string]struct{}
	appliedFills   map[string]int64 // order id -> cumulative quantity applied
}

// FillResult reports what a fill notification changed.
type FillResult struct {
	Applied        bool
	Snapshot       domain.PositionSnapshot
	CycleClosed    bool  // quantity returned to zero on this fill
	ClosedAvg      int64 // average cost of the closed cycle
	ClosedQuantity int64 // total quantity the closed cycle held
}

// PositionLedger is the single source of truth for held quantities and
// outstanding orders. It is mutated from the stream consumer, the scheduler
// and the gateway; one mutex serializes every read-modify-write.
type PositionLedger struct {
	firstTarget  float64
	secondTarget float64

	mu        sync.Mutex
	positions map[string]*position

	updates chan domain.PositionUpdate
	log     *zap.Logger
}

func NewPositionLedger(firstTarget, secondTarget float64, log *zap.Logger) *PositionLedger {
	return &PositionLedger{
		firstTarget:  firstTarget,
		secondTarget: secondTarget,
		positions:    make(map[string]*position),
		updates:      make(chan domain.PositionUpdate, 64),
		log:          log,
	}
}

// Updates delivers position-changed events. The channel is buffered and
// sends never block the ledger; a slow consumer loses events, not fills.
func (l *PositionLedger) Updates() <-chan domain.PositionUpdate {
	return l.updates
}

// get lazily creates the entry for a tracked symbol. Caller holds l.mu.
func (l *PositionLedger) get(symbol string) *position {
	pos, ok := l.positions[symbol]
	if !ok {
		pos = &position{
			openOrders:   make(map[string]struct{}),
			appliedFills: make(map[string]int64),
		}
		l.positions[symbol] = pos
	}
	return pos
}

// RecordFill applies an execution report. Quantity is the cumulative filled
// quantity for the order; only positive deltas against what was already
// applied take effect, so duplicate or replayed notifications are no-ops.
func (l *PositionLedger) RecordFill(fill domain.Fill) FillResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.get(fill.Symbol)

	applied := pos.appliedFills[fill.OrderID]
	delta := fill.Quantity - applied
	if delta <= 0 {
		return FillResult{Snapshot: l.snapshotLocked(fill.Symbol, pos)}
	}
	pos.appliedFills[fill.OrderID] = fill.Quantity

	result := FillResult{Applied: true}

	switch fill.Side {
	case domain.SideBuy:
		newQty := pos.qty + delta
		if pos.qty == 0 {
			pos.avgPrice = fill.Price
		} else {
			pos.avgPrice = (pos.avgPrice*pos.qty + fill.Price*delta) / newQty
		}
		pos.qty = newQty
		pos.cycleQty += delta
		delete(pos.openOrders, fill.OrderID)

	case domain.SideSell:
		newQty := pos.qty - delta
		if newQty < 0 {
			newQty = 0
		}
		pos.qty = newQty
		if newQty == 0 {
			result.CycleClosed = true
			result.ClosedAvg = pos.avgPrice
			result.ClosedQuantity = pos.cycleQty
			pos.cycleQty = 0
			pos.avgPrice = 0
			pos.firstExitDone = false
			pos.secondExitDone = false
			pos.entryPending = false
			pos.openOrders = make(map[string]struct{})
		}

	default:
		l.log.Warn("fill with unknown side dropped",
			zap.String("order_id", fill.OrderID), zap.String("side", string(fill.Side)))
		return FillResult{Snapshot: l.snapshotLocked(fill.Symbol, pos)}
	}

	result.Snapshot = l.snapshotLocked(fill.Symbol, pos)

	select {
	case l.updates <- domain.PositionUpdate{Symbol: fill.Symbol, Quantity: pos.qty, AvgPrice: pos.avgPrice}:
	default:
		l.log.Debug("position update dropped, observer behind", zap.String("symbol", fill.Symbol))
	}
	return result
}

// TryBeginEntry reports whether a new entry sequence may start and, when it
// may, marks the symbol so concurrent attempts are refused until the entry
// is finished or aborted.
func (l *PositionLedger) TryBeginEntry(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.get(symbol)
	if pos.qty > 0 || len(pos.openOrders) > 0 || pos.entryPending {
		return false
	}
	pos.entryPending = true
	return true
}

// FinishEntry records the broker-assigned order ids of a submitted ladder
// and clears the entry mark.
func (l *PositionLedger) FinishEntry(symbol string, orderIDs []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.get(symbol)
	for _, id := range orderIDs {
		pos.openOrders[id] = struct{}{}
	}
	pos.entryPending = false
}

// AbortEntry clears the entry mark after a failed submission attempt.
func (l *PositionLedger) AbortEntry(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.get(symbol).entryPending = false
}

// EvaluateExit decides whether the last trade price triggers a partial or
// remaining exit. It does not mutate state; callers mark the flag they act
// on before submitting.
func (l *PositionLedger) EvaluateExit(symbol string, lastPrice int64) ExitDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok || pos.qty <= 0 || pos.avgPrice <= 0 {
		return ExitDecision{Action: ExitNone}
	}

	if !pos.firstExitDone {
		target := int64(float64(pos.avgPrice) * (1 + l.firstTarget))
		if lastPrice >= target {
			qty := pos.qty / 2
			if pos.qty == 1 {
				qty = 1
			}
			return ExitDecision{Action: ExitHalf, Quantity: qty}
		}
		return ExitDecision{Action: ExitNone}
	}

	if !pos.secondExitDone {
		target := int64(float64(pos.avgPrice) * (1 + l.secondTarget))
		if lastPrice >= target {
			return ExitDecision{Action: ExitRemainder, Quantity: pos.qty}
		}
	}
	return ExitDecision{Action: ExitNone}
}

// MarkFirstExit sets the first-target flag. Flags are monotonic within a
// holding cycle and reset only when the position goes flat.
func (l *PositionLedger) MarkFirstExit(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[symbol]; ok {
		pos.firstExitDone = true
	}
}

func (l *PositionLedger) MarkSecondExit(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[symbol]; ok {
		pos.secondExitDone = true
	}
}

func (l *PositionLedger) Snapshot(symbol string) (domain.PositionSnapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return domain.PositionSnapshot{}, false
	}
	return l.snapshotLocked(symbol, pos), true
}

func (l *PositionLedger) Snapshots() []domain.PositionSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshots := make([]domain.PositionSnapshot, 0, len(l.positions))
	for symbol, pos := range l.positions {
		snapshots = append(snapshots, l.snapshotLocked(symbol, pos))
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Symbol < snapshots[j].Symbol })
	return snapshots
}

func (l *PositionLedger) snapshotLocked(symbol string, pos *position) domain.PositionSnapshot {
	orders := make([]string, 0, len(pos.openOrders))
	for id := range pos.openOrders {
		orders = append(orders, id)
	}
	sort.Strings(orders)
	return domain.PositionSnapshot{
		Symbol:         symbol,
		Quantity:       pos.qty,
		AvgPrice:       pos.avgPrice,
		FirstExitDone:  pos.firstExitDone,
		SecondExitDone: pos.secondExitDone,
		OpenOrders:     orders,
	}
}
