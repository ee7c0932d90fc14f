package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/logger"
	"github.com/cap0y/kiumauto-sub000/internal/types"

	"github.com/google/uuid"
)

const (
	// DefaultOrderTimeout cancels orders locally when unfilled this long,
	// regardless of broker-side outcome.
	DefaultOrderTimeout = 30 * time.Second
	// DefaultPurgeAfter removes cancelled orders from the ledger.
	DefaultPurgeAfter = 20 * time.Second

	// submissionBucket is the timestamp granularity used to deduplicate
	// orders that do not yet carry a broker id.
	submissionBucket = 5 * time.Second
)

// SellFilledFunc is notified whenever a sell order transitions into
// Filled. pnl is nil while the buy link is unresolved; the ledger re-fires
// on later reconciliations until it books.
type SellFilledFunc func(symbol string, pnl *float64, at time.Time)

// Ledger is the single owner of Order and Position records. Every mutation
// is appended to an event log and reduced into the current view under one
// mutex, so concurrent push and snapshot reconciliation serialize and
// cannot lose updates.
type Ledger struct {
	mu         sync.Mutex
	events     []Event
	orders     map[string]*types.Order // by LocalID
	byBrokerID map[string]string       // broker order id -> LocalID
	positions  map[string]*types.Position
	booked     map[string]bool // LocalID -> realized P&L already accumulated

	orderTimeout time.Duration
	purgeAfter   time.Duration

	onSellFilled SellFilledFunc
}

func New() *Ledger {
	return &Ledger{
		orders:       make(map[string]*types.Order),
		byBrokerID:   make(map[string]string),
		positions:    make(map[string]*types.Position),
		booked:       make(map[string]bool),
		orderTimeout: DefaultOrderTimeout,
		purgeAfter:   DefaultPurgeAfter,
	}
}

// OnSellFilled registers the realized-P&L hook. Must be set before events
// flow.
func (l *Ledger) OnSellFilled(fn SellFilledFunc) { l.onSellFilled = fn }

func (l *Ledger) append(ev Event) {
	l.events = append(l.events, ev)
	if len(l.events) > maxEvents {
		l.events = l.events[len(l.events)-maxEvents:]
	}
}

// RecordSubmission enters a locally submitted order into the ledger and
// returns it. Duplicate submissions (same broker id, or same symbol /
// qty / price / side within one submission bucket) return the existing
// record instead of creating a second one.
func (l *Ledger) RecordSubmission(req types.OrderRequest, brokerID string, at time.Time) *types.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	if brokerID != "" {
		if localID, ok := l.byBrokerID[brokerID]; ok {
			return l.orders[localID]
		}
	}
	for _, o := range l.orders {
		if o.Status.Terminal() {
			continue
		}
		if o.Symbol == req.Symbol && o.Side == req.Side && o.Qty == req.Qty &&
			o.Price == req.Price && sameBucket(o.SubmittedAt, at) {
			if brokerID != "" && o.ID == "" {
				o.ID = brokerID
				l.byBrokerID[brokerID] = o.LocalID
			}
			return o
		}
	}

	o := &types.Order{
		ID:          brokerID,
		LocalID:     uuid.NewString(),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Qty:         req.Qty,
		Price:       req.Price,
		Market:      req.Market,
		Status:      types.OrderSubmitted,
		SubmittedAt: at,
		UnfilledQty: req.Qty,
	}
	// Resolve the buy link for sells up front, while the position still
	// reflects the entry cost.
	if req.Side == types.Sell {
		if p := l.positions[req.Symbol]; p != nil && p.AvgCost > 0 {
			cost := p.AvgCost
			o.LinkedBuyPrice = &cost
		}
	}
	l.orders[o.LocalID] = o
	if brokerID != "" {
		l.byBrokerID[brokerID] = o.LocalID
	}
	l.append(Event{Kind: EventSubmitted, At: at, LocalID: o.LocalID, Symbol: o.Symbol})
	return o
}

func sameBucket(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= submissionBucket
}

// ApplyFill reduces one push fill message into the ledger. Re-applying the
// same unfilled-quantity value is a no-op: no double-counted fills, no
// re-fired side effects.
func (l *Ledger) ApplyFill(ctx context.Context, ev types.FillEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o := l.findOrder(ev)
	if o == nil {
		logger.Debug(ctx, "Fill for unknown order, deferring to snapshot",
			"order_id", ev.OrderID, "symbol", ev.Symbol)
		return
	}
	if ev.OrderID != "" && o.ID == "" {
		o.ID = ev.OrderID
		l.byBrokerID[ev.OrderID] = o.LocalID
	}
	if ev.OrderQty > 0 && ev.OrderQty != o.Qty {
		iv := &types.InvariantViolation{
			OrderID: orderKey(o),
			Detail:  fmt.Sprintf("push reports qty %d, ledger has %d", ev.OrderQty, o.Qty),
		}
		logger.ErrorWithErr(ctx, "Reconciliation invariant violated", iv, "symbol", o.Symbol)
		return
	}
	if o.Status == types.OrderCancelled {
		// Locally timed out; the snapshot pass owns any late broker truth.
		return
	}
	// Unfilled quantity only ever decreases; an equal or larger value is a
	// duplicate or out-of-order message.
	if ev.UnfilledQty >= o.UnfilledQty {
		return
	}

	newlyFilled := o.UnfilledQty - ev.UnfilledQty
	o.UnfilledQty = ev.UnfilledQty
	if ev.AvgFillPrice > 0 {
		o.AvgFillPrice = ev.AvgFillPrice
	}
	l.reduceFill(o, newlyFilled, ev.At)
	l.append(Event{Kind: EventFill, At: ev.At, LocalID: o.LocalID, Symbol: o.Symbol,
		Note: fmt.Sprintf("filled %d, unfilled %d", newlyFilled, o.UnfilledQty)})
}

// reduceFill applies a newly filled quantity to order status and position,
// and books realized P&L when a sell completes. Caller holds the lock.
func (l *Ledger) reduceFill(o *types.Order, newlyFilled int, at time.Time) {
	if o.UnfilledQty == 0 {
		o.Status = types.OrderFilled
	} else {
		o.Status = types.OrderPartiallyFilled
	}

	fillPrice := o.AvgFillPrice
	if fillPrice <= 0 {
		fillPrice = o.Price
	}

	switch o.Side {
	case types.Buy:
		l.addToPosition(o.Symbol, newlyFilled, fillPrice)
	case types.Sell:
		// Resolve the buy link before the sell is marked filled; leave
		// realized P&L undefined rather than defaulting to zero.
		if o.LinkedBuyPrice == nil {
			if p := l.positions[o.Symbol]; p != nil && p.AvgCost > 0 {
				cost := p.AvgCost
				o.LinkedBuyPrice = &cost
			}
		}
		l.reducePosition(o.Symbol, newlyFilled)
		if o.Status == types.OrderFilled {
			if o.LinkedBuyPrice != nil && o.AvgFillPrice > 0 {
				pnl := (o.AvgFillPrice - *o.LinkedBuyPrice) * float64(o.FilledQty())
				o.RealizedPnL = &pnl
			}
			l.maybeBookSell(o, at)
		}
	}
}

// maybeBookSell fires the sell-filled hook exactly once per order with a
// defined P&L; undefined P&L is reported every pass until it resolves.
// Caller holds the lock.
func (l *Ledger) maybeBookSell(o *types.Order, at time.Time) {
	if l.onSellFilled == nil || l.booked[o.LocalID] {
		return
	}
	if o.RealizedPnL != nil {
		l.booked[o.LocalID] = true
	}
	l.onSellFilled(o.Symbol, o.RealizedPnL, at)
}

// findOrder locates the ledger record for a fill: broker order id first,
// then the composite (symbol, qty, side, submission bucket) key. Caller
// holds the lock.
func (l *Ledger) findOrder(ev types.FillEvent) *types.Order {
	if ev.OrderID != "" {
		if localID, ok := l.byBrokerID[ev.OrderID]; ok {
			return l.orders[localID]
		}
	}
	for _, o := range l.orders {
		if o.ID != "" {
			continue // identified orders only match by broker id
		}
		if o.Symbol == ev.Symbol && o.Side == ev.Side &&
			(ev.OrderQty == 0 || ev.OrderQty == o.Qty) &&
			!o.Status.Terminal() {
			return o
		}
	}
	return nil
}

// ApplySnapshot reduces an authoritative broker snapshot (order history +
// holdings) into the ledger. Holdings corroborate local orders with
// filled = min(holdingQty, orderQty); holdings nothing local accounts for
// synthesize retroactive filled orders so the ledger always reflects
// reality, e.g. after a restart that lost the submission record.
func (l *Ledger) ApplySnapshot(ctx context.Context, holdings []types.Holding, brokerOrders []types.BrokerOrder, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.append(Event{Kind: EventSnapshot, At: at,
		Note: fmt.Sprintf("%d holdings, %d broker orders", len(holdings), len(brokerOrders))})

	// Merge broker order history first: attach ids, adopt authoritative
	// unfilled quantities.
	for _, bo := range brokerOrders {
		o := l.matchBrokerOrder(bo)
		if o == nil {
			continue
		}
		if o.ID == "" {
			o.ID = bo.OrderID
			l.byBrokerID[bo.OrderID] = o.LocalID
		}
		if bo.Qty != o.Qty {
			iv := &types.InvariantViolation{
				OrderID: bo.OrderID,
				Detail:  fmt.Sprintf("snapshot reports qty %d, ledger has %d", bo.Qty, o.Qty),
			}
			logger.ErrorWithErr(ctx, "Reconciliation invariant violated", iv, "symbol", o.Symbol)
			continue
		}
		if o.Status == types.OrderCancelled {
			continue
		}
		if bo.UnfilledQty < o.UnfilledQty {
			newlyFilled := o.UnfilledQty - bo.UnfilledQty
			o.UnfilledQty = bo.UnfilledQty
			if o.AvgFillPrice <= 0 {
				o.AvgFillPrice = bo.Price
			}
			l.reduceFill(o, newlyFilled, at)
		}
	}

	// Holdings pass: corroborate buys and synthesize what the submission
	// record cannot explain.
	held := make(map[string]types.Holding, len(holdings))
	for _, h := range holdings {
		held[h.Symbol] = h

		for _, o := range l.orders {
			if o.Symbol != h.Symbol || o.Side != types.Buy || o.Status.Terminal() {
				continue
			}
			filled := min(h.Qty, o.Qty)
			already := o.FilledQty()
			if filled > already {
				newlyFilled := filled - already
				o.UnfilledQty = o.Qty - filled
				if o.AvgFillPrice <= 0 {
					o.AvgFillPrice = h.AvgBuyPrice
				}
				l.reduceFill(o, newlyFilled, at)
			}
		}

		if short := h.Qty - l.boughtMinusSoldLocked(h.Symbol); short > 0 {
			o := &types.Order{
				LocalID:      uuid.NewString(),
				Symbol:       h.Symbol,
				Side:         types.Buy,
				Qty:          short,
				Price:        h.AvgBuyPrice,
				Status:       types.OrderFilled,
				SubmittedAt:  at,
				UnfilledQty:  0,
				AvgFillPrice: h.AvgBuyPrice,
			}
			l.orders[o.LocalID] = o
			l.append(Event{Kind: EventSynthesized, At: at, LocalID: o.LocalID, Symbol: o.Symbol,
				Note: fmt.Sprintf("retroactive fill of %d", short)})
			logger.Warn(ctx, "Synthesized retroactive order from holdings",
				"symbol", h.Symbol, "qty", short, "avg_price", h.AvgBuyPrice)
		}
	}

	// Positions follow broker truth exactly.
	for sym, h := range held {
		p := l.positions[sym]
		if p == nil {
			p = &types.Position{Symbol: sym}
			l.positions[sym] = p
		}
		p.Qty = h.Qty
		p.AvgCost = h.AvgBuyPrice
		l.markLocked(p, h.CurrentPrice)
	}
	for sym, p := range l.positions {
		if _, ok := held[sym]; !ok && p.Qty > 0 {
			delete(l.positions, sym)
		}
	}

	// A sell whose P&L could not be linked earlier may be resolvable now.
	for _, o := range l.orders {
		if o.Side == types.Sell && o.Status == types.OrderFilled && !l.booked[o.LocalID] {
			if o.RealizedPnL == nil && o.LinkedBuyPrice != nil && o.AvgFillPrice > 0 {
				pnl := (o.AvgFillPrice - *o.LinkedBuyPrice) * float64(o.FilledQty())
				o.RealizedPnL = &pnl
			}
			l.maybeBookSell(o, at)
		}
	}
}

func (l *Ledger) matchBrokerOrder(bo types.BrokerOrder) *types.Order {
	if localID, ok := l.byBrokerID[bo.OrderID]; ok {
		return l.orders[localID]
	}
	for _, o := range l.orders {
		if o.ID != "" {
			continue
		}
		if o.Symbol == bo.Symbol && o.Side == bo.Side && o.Qty == bo.Qty &&
			o.Price == bo.Price && sameBucket(o.SubmittedAt, bo.At) {
			return o
		}
	}
	return nil
}

// addToPosition averages a buy fill into the symbol's position. Caller
// holds the lock.
func (l *Ledger) addToPosition(symbol string, qty int, price float64) {
	if qty <= 0 {
		return
	}
	p := l.positions[symbol]
	if p == nil {
		p = &types.Position{Symbol: symbol, Qty: qty, AvgCost: price}
		l.positions[symbol] = p
		l.markLocked(p, price)
		return
	}
	total := p.AvgCost*float64(p.Qty) + price*float64(qty)
	p.Qty += qty
	p.AvgCost = total / float64(p.Qty)
	l.markLocked(p, price)
}

// reducePosition shrinks a position by a sell fill and destroys it at
// zero. Caller holds the lock.
func (l *Ledger) reducePosition(symbol string, qty int) {
	p := l.positions[symbol]
	if p == nil || qty <= 0 {
		return
	}
	p.Qty -= qty
	if p.Qty <= 0 {
		delete(l.positions, symbol)
	}
}

// MarkPrice updates a position's mark-to-market fields; PeakPnLPct only
// ever advances while the position is open.
func (l *Ledger) MarkPrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p := l.positions[symbol]; p != nil {
		l.markLocked(p, price)
	}
}

func (l *Ledger) markLocked(p *types.Position, price float64) {
	if price <= 0 {
		return
	}
	p.CurrentPrice = price
	p.UnrealizedPnL = (price - p.AvgCost) * float64(p.Qty)
	if p.AvgCost > 0 {
		p.UnrealizedPnLPct = (price - p.AvgCost) / p.AvgCost * 100.0
	}
	if p.UnrealizedPnLPct > p.PeakPnLPct {
		p.PeakPnLPct = p.UnrealizedPnLPct
	}
}

// Sweep cancels orders unfilled past the timeout and purges cancelled
// orders past the grace period. It is the scheduled replacement for
// per-order cleanup timers; run it on every reconciliation tick. Returns
// the symbols whose orders were cancelled so the controller can release
// in-flight guards.
func (l *Ledger) Sweep(now time.Time) (cancelled []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, o := range l.orders {
		switch o.Status {
		case types.OrderSubmitted, types.OrderPartiallyFilled:
			if now.Sub(o.SubmittedAt) >= l.orderTimeout {
				t := now
				o.Status = types.OrderCancelled
				o.CancelledAt = &t
				cancelled = append(cancelled, o.Symbol)
				l.append(Event{Kind: EventCancelled, At: now, LocalID: o.LocalID, Symbol: o.Symbol,
					Note: "unfilled past timeout"})
			}
		case types.OrderCancelled:
			if o.CancelledAt != nil && now.Sub(*o.CancelledAt) >= l.purgeAfter {
				// A cancelled order that partially filled keeps its filled
				// portion on the books as a terminal record; deleting it
				// would desync buys-minus-sells from the held quantity.
				if filled := o.FilledQty(); filled > 0 {
					o.Qty = filled
					o.UnfilledQty = 0
					o.Status = types.OrderFilled
					o.CancelledAt = nil
					if o.Side == types.Sell {
						if o.RealizedPnL == nil && o.LinkedBuyPrice != nil && o.AvgFillPrice > 0 {
							pnl := (o.AvgFillPrice - *o.LinkedBuyPrice) * float64(filled)
							o.RealizedPnL = &pnl
						}
						l.maybeBookSell(o, now)
					}
					l.append(Event{Kind: EventPurged, At: now, LocalID: o.LocalID, Symbol: o.Symbol,
						Note: fmt.Sprintf("partial fill of %d kept as terminal record", filled)})
					continue
				}
				if o.ID != "" {
					delete(l.byBrokerID, o.ID)
				}
				delete(l.orders, o.LocalID)
				delete(l.booked, o.LocalID)
				l.append(Event{Kind: EventPurged, At: now, LocalID: o.LocalID, Symbol: o.Symbol})
			}
		}
	}
	return cancelled
}

// Position returns a copy of the symbol's open position, if any.
func (l *Ledger) Position(symbol string) (types.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p := l.positions[symbol]; p != nil {
		return *p, true
	}
	return types.Position{}, false
}

// Positions returns copies of all open positions.
func (l *Ledger) Positions() []types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// PositionCount reports how many symbols are currently held.
func (l *Ledger) PositionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// HasOpenOrder reports whether the symbol has a non-terminal order.
func (l *Ledger) HasOpenOrder(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.orders {
		if o.Symbol == symbol && !o.Status.Terminal() {
			return true
		}
	}
	return false
}

// Orders returns copies of all ledger orders.
func (l *Ledger) Orders() []types.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, *o)
	}
	return out
}

// BoughtMinusSold is the conservation quantity: after reconciliation
// settles it equals the held quantity for the symbol.
func (l *Ledger) BoughtMinusSold(symbol string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.boughtMinusSoldLocked(symbol)
}

func (l *Ledger) boughtMinusSoldLocked(symbol string) int {
	n := 0
	for _, o := range l.orders {
		if o.Symbol != symbol {
			continue
		}
		switch o.Side {
		case types.Buy:
			n += o.FilledQty()
		case types.Sell:
			n -= o.FilledQty()
		}
	}
	return n
}

// State is the persisted ledger view.
type State struct {
	Orders    []types.Order    `json:"orders"`
	Positions []types.Position `json:"positions"`
}

// Snapshot copies the ledger for persistence.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := State{
		Orders:    make([]types.Order, 0, len(l.orders)),
		Positions: make([]types.Position, 0, len(l.positions)),
	}
	for _, o := range l.orders {
		st.Orders = append(st.Orders, *o)
	}
	for _, p := range l.positions {
		st.Positions = append(st.Positions, *p)
	}
	return st
}

// Restore replaces ledger state from a persisted snapshot. Booked flags
// are rebuilt so restored filled sells are not re-accumulated.
func (l *Ledger) Restore(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders = make(map[string]*types.Order, len(st.Orders))
	l.byBrokerID = make(map[string]string)
	l.positions = make(map[string]*types.Position, len(st.Positions))
	l.booked = make(map[string]bool)
	for i := range st.Orders {
		o := st.Orders[i]
		l.orders[o.LocalID] = &o
		if o.ID != "" {
			l.byBrokerID[o.ID] = o.LocalID
		}
		if o.Side == types.Sell && o.Status == types.OrderFilled && o.RealizedPnL != nil {
			l.booked[o.LocalID] = true
		}
	}
	for i := range st.Positions {
		p := st.Positions[i]
		l.positions[p.Symbol] = &p
	}
}

func orderKey(o *types.Order) string {
	if o.ID != "" {
		return o.ID
	}
	return o.LocalID
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
