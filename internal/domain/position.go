package domain

import "time"

// Fill is an execution report for an order. Quantity is the cumulative
// filled quantity the venue reports for the order, not a fragment.
type Fill struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  int64     `json:"quantity"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// PositionSnapshot is a read-only copy of one symbol's position state.
type PositionSnapshot struct {
	Symbol         string   `json:"symbol"`
	Quantity       int64    `json:"quantity"`
	AvgPrice       int64    `json:"avg_price"`
	FirstExitDone  bool     `json:"first_exit_done"`
	SecondExitDone bool     `json:"second_exit_done"`
	OpenOrders     []string `json:"open_orders"`
}

// PositionUpdate is emitted to observers whenever a fill changes a position.
type PositionUpdate struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
	AvgPrice int64  `json:"avg_price"`
}

// PositionHistory represents a completed holding cycle (quantity back to 0).
type PositionHistory struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Quantity  int64     `json:"quantity"`
	AvgPrice  int64     `json:"avg_price"`
	ExitPrice int64     `json:"exit_price"`
	ClosedAt  time.Time `json:"closed_at"`
}
