// Package engine is the risk and execution controller: it runs the
// periodic buy cycle (screen, evaluate, size, submit), the independent
// exit monitor, and the snapshot reconciliation pass, all against the
// single order ledger.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/interfaces"
	"github.com/cap0y/kiumauto-sub000/internal/ledger"
	"github.com/cap0y/kiumauto-sub000/internal/logger"
	"github.com/cap0y/kiumauto-sub000/internal/pnl"
	"github.com/cap0y/kiumauto-sub000/internal/store"
	"github.com/cap0y/kiumauto-sub000/internal/strategy"
	"github.com/cap0y/kiumauto-sub000/internal/tradelog"
	"github.com/cap0y/kiumauto-sub000/internal/types"
)

type Engine struct {
	cfg      *store.Config
	broker   interfaces.Broker
	screener interfaces.Screener
	candles  interfaces.CandleService
	feed     interfaces.FillFeed
	ledger   *ledger.Ledger
	pnl      *pnl.Accumulator
	state    interfaces.StateStore
	loc      *time.Location

	tradingEnabled atomic.Bool

	mu           sync.Mutex
	watch        map[string]*types.WatchedSymbol
	restricted   map[string]string // symbol -> reason, for the session
	tradeCounts  map[string]int    // per-symbol session trade count
	tradedToday  map[string]bool   // distinct symbols traded on tradedDate
	tradedDate   string
	lastOrderAt  time.Time
	exitInFlight map[string]bool
	backoffUntil time.Time
}

func New(cfg *store.Config, brk interfaces.Broker, scr interfaces.Screener,
	cs interfaces.CandleService, feed interfaces.FillFeed,
	led *ledger.Ledger, acc *pnl.Accumulator, st interfaces.StateStore,
	loc *time.Location) *Engine {

	if loc == nil {
		loc = time.Local
	}
	e := &Engine{
		cfg:          cfg,
		broker:       brk,
		screener:     scr,
		candles:      cs,
		feed:         feed,
		ledger:       led,
		pnl:          acc,
		state:        st,
		loc:          loc,
		watch:        make(map[string]*types.WatchedSymbol),
		restricted:   make(map[string]string),
		tradeCounts:  make(map[string]int),
		tradedToday:  make(map[string]bool),
		exitInFlight: make(map[string]bool),
	}
	e.tradingEnabled.Store(true)
	return e
}

// SetTradingEnabled toggles buy-side activity. The flag is checked at
// symbol boundaries so an in-progress cycle drains cleanly; the exit
// monitor keeps running so open positions are never orphaned.
func (e *Engine) SetTradingEnabled(v bool) { e.tradingEnabled.Store(v) }

func (e *Engine) TradingEnabled() bool { return e.tradingEnabled.Load() }

// RunCycle is one pass of the periodic buy cycle.
func (e *Engine) RunCycle(ctx context.Context) {
	now := time.Now().In(e.loc)
	e.pnl.Rollover(ctx, now)
	e.rolloverCounters(now)

	if !e.tradingEnabled.Load() {
		logger.Debug(ctx, "Trading disabled, skipping buy cycle")
		return
	}
	if e.inBackoff(now) {
		logger.Warn(ctx, "Rate-limit backoff active, skipping buy cycle",
			"until", e.backoffDeadline().Format(time.RFC3339))
		return
	}
	if !withinWindow(now, e.cfg.Trading.WindowFrom, e.cfg.Trading.WindowTo) {
		logger.Debug(ctx, "Outside trading window", "now", now.Format("15:04"))
		return
	}

	e.refreshWatchlist(ctx, now)
	e.resubscribe(ctx)

	for _, sym := range e.watchedSnapshot() {
		if !e.tradingEnabled.Load() {
			logger.Info(ctx, "Trading disabled mid-cycle, draining")
			return
		}
		if ctx.Err() != nil {
			return
		}
		e.evaluateSymbol(ctx, sym, time.Now().In(e.loc))
	}
}

// refreshWatchlist runs the condition screen and supersedes the current
// watch-list. Symbols that persist keep their detection baseline; a
// screener failure keeps the previous list rather than emptying it.
func (e *Engine) refreshWatchlist(ctx context.Context, now time.Time) {
	results, err := e.screener.Search(ctx, e.cfg.Screener.ConditionIDs)
	if err != nil {
		logger.ErrorWithErr(ctx, "Screener search failed, keeping previous watch-list", err)
		e.noteIfRateLimited(ctx, err, now)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*types.WatchedSymbol, len(results))
	for _, r := range results {
		if prev, ok := e.watch[r.Code]; ok {
			prev.Quote.Name = r.Name
			prev.Quote.SetPrice(r.Price)
			next[r.Code] = prev
			continue
		}
		q := &types.Quote{
			Code:      r.Code,
			Name:      r.Name,
			Price:     r.Price,
			ChangePct: r.ChangeRate,
			Volume:    r.Volume,
			OpenPrice: r.OpenPrice,
			HighPrice: r.HighPrice,
		}
		if r.ChangeRate != 0 && r.Price > 0 {
			q.PrevClose = r.Price / (1 + r.ChangeRate/100.0)
			q.ChangeAbs = r.Price - q.PrevClose
		}
		next[r.Code] = &types.WatchedSymbol{
			Code:              r.Code,
			Quote:             q,
			StartPrice:        r.Price,
			DetectedChangePct: r.ChangeRate,
			DetectedAt:        now,
		}
	}
	e.watch = next
	logger.Info(ctx, "Watch-list refreshed", "size", len(next))
}

func (e *Engine) watchedSnapshot() []*types.WatchedSymbol {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.WatchedSymbol, 0, len(e.watch))
	for _, s := range e.watch {
		out = append(out, s)
	}
	return out
}

// evaluateSymbol runs the gates, the strategy stack, and, on a signal, the
// sized buy submission for one watched symbol. Failures skip the symbol
// and never abort the cycle.
func (e *Engine) evaluateSymbol(ctx context.Context, sym *types.WatchedSymbol, now time.Time) {
	if reason, blocked := e.gateBuy(sym, now); blocked {
		logger.Debug(ctx, "Buy gated", "symbol", sym.Code, "reason", reason)
		_ = tradelog.AppendSkip(tradelog.SkipEntry{Symbol: sym.Code, Reason: reason, Price: sym.Quote.Price})
		return
	}

	// Candle history is confirmation, not a prerequisite: on fetch failure
	// the evaluators fall back to their relative-move rules.
	candles, err := e.candles.Candles(ctx, sym.Code, "1m", 30)
	if err != nil {
		logger.Warn(ctx, "Candle fetch failed, evaluating without chart data",
			"symbol", sym.Code, "error", err.Error())
		e.noteIfRateLimited(ctx, err, now)
		candles = nil
	}

	dec := strategy.Evaluate(e.cfg.Strategies, sym, sym.Quote, candles, now)
	logger.Decision(ctx, sym.Code, dec.Strategy, dec.Reason, "signal", dec.Signal, "vetoed", dec.Vetoed)
	if !dec.Signal {
		return
	}

	qty := orderQty(e.cfg.Trading.InvestmentPerSymbol, e.cfg.Trading.FeeRate, sym.Quote.Price)
	if qty <= 0 {
		logger.Warn(ctx, "Order size computed as zero, skipping",
			"symbol", sym.Code, "price", sym.Quote.Price,
			"investment", e.cfg.Trading.InvestmentPerSymbol)
		_ = tradelog.AppendSkip(tradelog.SkipEntry{Symbol: sym.Code, Reason: "zero quantity", Price: sym.Quote.Price})
		return
	}
	price := roundToTick(sym.Quote.Price)

	if !e.waitCooldown(ctx) {
		return
	}
	e.submitBuy(ctx, sym, qty, price, dec)
}

func (e *Engine) submitBuy(ctx context.Context, sym *types.WatchedSymbol, qty int, price float64, dec strategy.Decision) {
	req := types.OrderRequest{Symbol: sym.Code, Side: types.Buy, Qty: qty, Price: price}
	resp, err := e.broker.PlaceOrder(ctx, req)
	e.markOrderSubmitted()
	if err != nil {
		e.handleSubmitError(ctx, sym.Code, err)
		return
	}

	now := time.Now().In(e.loc)
	e.ledger.RecordSubmission(req, resp.OrderID, now)
	logger.Trade(ctx, sym.Code, "BUY", qty, price, resp.OrderID, "strategy", dec.Strategy)
	_ = tradelog.Append(tradelog.Entry{
		Symbol: sym.Code, Side: "BUY", OrderID: resp.OrderID,
		Strategy: dec.Strategy, Reason: dec.Reason, Qty: qty, Price: price,
	})

	e.mu.Lock()
	delete(e.watch, sym.Code)
	e.tradeCounts[sym.Code]++
	e.tradedToday[sym.Code] = true
	e.mu.Unlock()

	e.persist(ctx)
}

// handleSubmitError converts a broker rejection into a skip decision.
// Insufficient funds is expected and retried next cycle; a restricted
// instrument is never retried this session; anything else is restricted
// too but logged at error severity so it stands out.
func (e *Engine) handleSubmitError(ctx context.Context, symbol string, err error) {
	now := time.Now().In(e.loc)
	switch {
	case errors.Is(err, types.ErrRateLimited):
		logger.Warn(ctx, "Order rejected by rate limit, backing off", "symbol", symbol)
		e.extendBackoff(now)
	case errors.Is(err, types.ErrInsufficientFunds):
		logger.Warn(ctx, "Insufficient buying power, skipping symbol", "symbol", symbol)
	case errors.Is(err, types.ErrInstrumentRestricted):
		logger.Warn(ctx, "Instrument restricted, excluding for session", "symbol", symbol)
		e.restrict(symbol, "broker: restricted instrument")
	default:
		logger.ErrorWithErr(ctx, "Order submission failed, excluding symbol for session", err,
			"symbol", symbol)
		e.restrict(symbol, "broker: "+err.Error())
	}
	_ = tradelog.AppendSkip(tradelog.SkipEntry{Symbol: symbol, Reason: "submit failed: " + err.Error()})
}

func (e *Engine) restrict(symbol, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restricted[symbol] = reason
}

// Reconcile is the periodic snapshot pass: broker truth is merged into the
// ledger, stale orders are swept, and the result is persisted.
func (e *Engine) Reconcile(ctx context.Context) {
	now := time.Now().In(e.loc)

	holdings, err := e.broker.Balance(ctx)
	if err != nil {
		logger.Warn(ctx, "Balance snapshot failed, skipping reconciliation pass", "error", err.Error())
		e.noteIfRateLimited(ctx, err, now)
		return
	}
	orders, err := e.broker.OrderHistory(ctx)
	if err != nil {
		logger.Warn(ctx, "Order history snapshot failed, skipping reconciliation pass", "error", err.Error())
		e.noteIfRateLimited(ctx, err, now)
		return
	}

	e.ledger.ApplySnapshot(ctx, holdings, orders, now)
	e.sweep(ctx, now)
	e.releaseClosedExits()
	e.resubscribe(ctx)
	e.persist(ctx)
}

func (e *Engine) sweep(ctx context.Context, now time.Time) {
	for _, symbol := range e.ledger.Sweep(now) {
		logger.Warn(ctx, "Order timed out unfilled, cancelled locally", "symbol", symbol)
		e.mu.Lock()
		delete(e.exitInFlight, symbol)
		e.mu.Unlock()
	}
}

// releaseClosedExits clears the in-flight guard for symbols whose position
// is gone and that have no open order left.
func (e *Engine) releaseClosedExits() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for symbol := range e.exitInFlight {
		if _, held := e.ledger.Position(symbol); held {
			continue
		}
		if e.ledger.HasOpenOrder(symbol) {
			continue
		}
		delete(e.exitInFlight, symbol)
	}
}

// HandleFill reduces one push fill message and persists the new state.
func (e *Engine) HandleFill(ctx context.Context, ev types.FillEvent) {
	e.ledger.ApplyFill(ctx, ev)
	e.releaseClosedExits()
	e.persist(ctx)
}

// HandleTick updates live quotes and position marks from a streaming
// price update.
func (e *Engine) HandleTick(ctx context.Context, t types.Tick) {
	e.mu.Lock()
	if sym, ok := e.watch[t.Symbol]; ok {
		sym.Quote.SetPrice(t.Price)
		if t.Volume > 0 {
			sym.Quote.Volume = t.Volume
		}
	}
	e.mu.Unlock()
	e.ledger.MarkPrice(t.Symbol, t.Price)
}

// resubscribe pushes the union of watch-list and held symbols to the fill
// feed; it must run whenever either set changes.
func (e *Engine) resubscribe(ctx context.Context) {
	if e.feed == nil {
		return
	}
	set := make(map[string]bool)
	e.mu.Lock()
	for code := range e.watch {
		set[code] = true
	}
	e.mu.Unlock()
	for _, p := range e.ledger.Positions() {
		set[p.Symbol] = true
	}
	symbols := make([]string, 0, len(set))
	for code := range set {
		symbols = append(symbols, code)
	}
	if err := e.feed.Subscribe(ctx, symbols); err != nil {
		logger.Warn(ctx, "Feed resubscribe failed", "symbols", len(symbols), "error", err.Error())
	}
}

// Persist writes the durable snapshot; also invoked by the periodic
// durability timer.
func (e *Engine) Persist(ctx context.Context) { e.persist(ctx) }

func (e *Engine) persist(ctx context.Context) {
	if e.state == nil {
		return
	}
	snap := e.ledger.Snapshot()
	amount, asOf := e.pnl.Total()
	st := interfaces.TradingState{
		Account:      e.cfg.Account,
		Orders:       snap.Orders,
		Positions:    snap.Positions,
		DailyPnL:     amount,
		LastSeenDate: asOf,
	}
	if err := e.state.Save(st); err != nil {
		logger.ErrorWithErr(ctx, "State persistence failed", err, "account", e.cfg.Account)
	}
}

// Restore seeds engine and ledger state from the persisted snapshot at
// startup.
func (e *Engine) Restore(ctx context.Context) {
	st, found, err := e.state.Load(e.cfg.Account)
	if err != nil {
		logger.ErrorWithErr(ctx, "State restore failed, starting cold", err, "account", e.cfg.Account)
		return
	}
	if !found {
		logger.Info(ctx, "No persisted state, starting cold", "account", e.cfg.Account)
		return
	}
	e.ledger.Restore(ledger.State{Orders: st.Orders, Positions: st.Positions})
	e.pnl.Restore(st.DailyPnL, st.LastSeenDate)
	logger.Info(ctx, "State restored",
		"account", e.cfg.Account, "orders", len(st.Orders),
		"positions", len(st.Positions), "daily_pnl", st.DailyPnL)
}

// rolloverCounters resets the daily distinct-symbol count on date change.
// Session counters (per-symbol trades, restricted set) survive.
func (e *Engine) rolloverCounters(now time.Time) {
	today := now.Format("2006-01-02")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tradedDate != today {
		e.tradedDate = today
		e.tradedToday = make(map[string]bool)
	}
}

// waitCooldown blocks until the global inter-order cooldown has elapsed.
// Returns false if the context is cancelled while waiting.
func (e *Engine) waitCooldown(ctx context.Context) bool {
	cooldown := time.Duration(e.cfg.Trading.CooldownSeconds) * time.Second

	e.mu.Lock()
	remaining := cooldown - time.Since(e.lastOrderAt)
	e.mu.Unlock()

	if remaining <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(remaining):
		return true
	}
}

func (e *Engine) markOrderSubmitted() {
	e.mu.Lock()
	e.lastOrderAt = time.Now()
	e.mu.Unlock()
}

func (e *Engine) noteIfRateLimited(ctx context.Context, err error, now time.Time) {
	if errors.Is(err, types.ErrRateLimited) {
		e.extendBackoff(now)
	}
}

// extendBackoff stretches the next polling interval after a rate-limit
// response instead of aborting the cycle.
func (e *Engine) extendBackoff(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	until := now.Add(time.Duration(e.cfg.Cycle.PollSeconds) * time.Second)
	if until.After(e.backoffUntil) {
		e.backoffUntil = until
	}
}

func (e *Engine) inBackoff(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Before(e.backoffUntil)
}

func (e *Engine) backoffDeadline() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backoffUntil
}
