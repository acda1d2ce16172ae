package domain

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Candle is one OHLCV bar. Prices are integer KRW as quoted by the venue.
type Candle struct {
	Time   int64 `json:"time"`
	Open   int64 `json:"open"`
	High   int64 `json:"high"`
	Low    int64 `json:"low"`
	Close  int64 `json:"close"`
	Volume int64 `json:"volume"`
}

type OrderBookLevel struct {
	Price int64 `json:"price"`
	Size  int64 `json:"size"`
}

// OrderBook holds up to the venue's five levels per side, best first.
type OrderBook struct {
	Symbol string           `json:"symbol"`
	Bids   []OrderBookLevel `json:"bids"`
	Asks   []OrderBookLevel `json:"asks"`
}

// Holding is one row of the account holdings inquiry.
type Holding struct {
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	AvgPrice     int64  `json:"avg_price"`
	CurrentPrice int64  `json:"current_price"`
	EvalProfit   int64  `json:"eval_profit"`
}
