package types

import "time"

// Candle is one bar of a fixed period. Indicator functions state whether
// they expect newest-first or oldest-first ordering.
type Candle struct {
	Ts     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Quote is the live snapshot for one symbol. It is mutated in place as
// streaming updates arrive; ChangeAbs/ChangePct are always recomputed
// against PrevClose, never against the previous tick.
type Quote struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	ChangeAbs float64 `json:"change_abs"`
	ChangePct float64 `json:"change_pct"`
	Volume    float64 `json:"volume"`
	OpenPrice float64 `json:"open_price"`
	HighPrice float64 `json:"high_price"`
	PrevClose float64 `json:"prev_close"`
}

// SetPrice updates the live price and rebases change fields on PrevClose.
func (q *Quote) SetPrice(price float64) {
	q.Price = price
	if price > q.HighPrice {
		q.HighPrice = price
	}
	if q.PrevClose > 0 {
		q.ChangeAbs = price - q.PrevClose
		q.ChangePct = q.ChangeAbs / q.PrevClose * 100.0
	}
}

// WatchedSymbol is a symbol under strategy evaluation. StartPrice and
// DetectedChangePct are fixed at detection time and serve as the baseline
// for relative-move strategies.
type WatchedSymbol struct {
	Code              string
	Quote             *Quote
	StartPrice        float64
	DetectedChangePct float64
	DetectedAt        time.Time
}

type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

type OrderStatus string

const (
	OrderSubmitted       OrderStatus = "SUBMITTED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// Order is one ledger record. ID is the broker-assigned order number once
// known; LocalID is assigned at submission time and used for deduplication
// before ID exists. RealizedPnL is nil while undefined, never defaulted
// to zero.
type Order struct {
	ID             string      `json:"id"`
	LocalID        string      `json:"local_id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Qty            int         `json:"qty"`
	Price          float64     `json:"price"`
	Market         bool        `json:"market"`
	Status         OrderStatus `json:"status"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	UnfilledQty    int         `json:"unfilled_qty"`
	AvgFillPrice   float64     `json:"avg_fill_price"`
	CancelledAt    *time.Time  `json:"cancelled_at,omitempty"`
	RealizedPnL    *float64    `json:"realized_pnl,omitempty"`
	LinkedBuyPrice *float64    `json:"linked_buy_price,omitempty"`
}

// FilledQty is the quantity filled so far.
func (o *Order) FilledQty() int { return o.Qty - o.UnfilledQty }

// Position is an open holding. PeakPnLPct is monotonically non-decreasing
// while the position is open; it is the trailing-stop reference and is
// only discarded with the position itself.
type Position struct {
	Symbol           string  `json:"symbol"`
	Qty              int     `json:"qty"`
	AvgCost          float64 `json:"avg_cost"`
	CurrentPrice     float64 `json:"current_price"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	PeakPnLPct       float64 `json:"peak_pnl_pct"`
}

// FillEvent is a decoded field-coded push message from the fill feed.
type FillEvent struct {
	OrderID      string
	Symbol       string
	Side         OrderSide
	OrderQty     int
	FilledQty    int
	UnfilledQty  int
	AvgFillPrice float64
	At           time.Time
}

// Tick is a decoded streaming price update for a subscribed symbol.
type Tick struct {
	Symbol string
	Price  float64
	Volume float64
	At     time.Time
}

// Holding is one row of the broker balance snapshot.
type Holding struct {
	Symbol       string
	Name         string
	Qty          int
	AvgBuyPrice  float64
	CurrentPrice float64
}

// BrokerOrder is one row of the broker order-history snapshot.
type BrokerOrder struct {
	OrderID     string
	Symbol      string
	Side        OrderSide
	Qty         int
	UnfilledQty int
	Price       float64
	At          time.Time
}

// ScreenResult is one row returned by the condition-search screener.
type ScreenResult struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	ChangeRate float64 `json:"change_rate"`
	Volume     float64 `json:"volume"`
	OpenPrice  float64 `json:"open_price"`
	HighPrice  float64 `json:"high_price"`
}

type OrderRequest struct {
	Symbol string
	Side   OrderSide
	Qty    int
	Price  float64
	Market bool
}

type OrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
