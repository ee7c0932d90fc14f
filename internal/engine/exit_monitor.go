package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/logger"
	"github.com/cap0y/kiumauto-sub000/internal/tradelog"
	"github.com/cap0y/kiumauto-sub000/internal/types"
)

type exitKind int

const (
	exitTrailing exitKind = iota
	exitTakeProfit
	exitStopLoss
	exitCutoff
)

func (k exitKind) String() string {
	switch k {
	case exitTrailing:
		return "TRAILING_STOP"
	case exitTakeProfit:
		return "TAKE_PROFIT"
	case exitStopLoss:
		return "STOP_LOSS"
	case exitCutoff:
		return "TIME_CUTOFF"
	}
	return "UNKNOWN"
}

type exitIntent struct {
	pos    types.Position
	kind   exitKind
	reason string
}

// MonitorExits is one pass of the independent exit monitor. It runs on a
// short fixed interval regardless of the buy cycle, so a position is never
// left unattended while trading is paused.
func (e *Engine) MonitorExits(ctx context.Context) {
	now := time.Now().In(e.loc)

	var intents []exitIntent
	for _, p := range e.ledger.Positions() {
		if p.Qty <= 0 {
			continue
		}
		e.mu.Lock()
		inFlight := e.exitInFlight[p.Symbol]
		e.mu.Unlock()
		if inFlight || e.ledger.HasOpenOrder(p.Symbol) {
			continue
		}
		if kind, reason, ok := e.exitDecision(p, now); ok {
			intents = append(intents, exitIntent{pos: p, kind: kind, reason: reason})
		}
	}
	if len(intents) == 0 {
		return
	}

	// Stop-loss exits jump the queue; everything still shares the global
	// inter-order cooldown.
	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].kind == exitStopLoss && intents[j].kind != exitStopLoss
	})

	for _, in := range intents {
		if ctx.Err() != nil {
			return
		}
		if !e.waitCooldown(ctx) {
			return
		}
		e.submitExit(ctx, in)
	}
}

// exitDecision evaluates the exit rules for one position in priority
// order: trailing stop, take profit, stop loss, time cutoff.
func (e *Engine) exitDecision(p types.Position, now time.Time) (exitKind, string, bool) {
	r := e.cfg.Risk

	if r.TrailingArmPct > 0 && p.PeakPnLPct >= r.TrailingArmPct &&
		p.PeakPnLPct-p.UnrealizedPnLPct >= r.TrailingDropPct {
		return exitTrailing,
			fmt.Sprintf("peak %.2f%%, now %.2f%%, drop %.2f%% >= %.2f%%",
				p.PeakPnLPct, p.UnrealizedPnLPct, p.PeakPnLPct-p.UnrealizedPnLPct, r.TrailingDropPct),
			true
	}
	if p.PeakPnLPct >= r.ProfitTargetPct {
		return exitTakeProfit,
			fmt.Sprintf("peak %.2f%% >= target %.2f%%", p.PeakPnLPct, r.ProfitTargetPct),
			true
	}
	if p.UnrealizedPnLPct <= r.StopLossPct {
		return exitStopLoss,
			fmt.Sprintf("pnl %.2f%% <= stop %.2f%%", p.UnrealizedPnLPct, r.StopLossPct),
			true
	}
	if afterClock(now, e.cfg.Trading.CutoffTime) {
		return exitCutoff, "forced liquidation after " + e.cfg.Trading.CutoffTime, true
	}
	return 0, "", false
}

// submitExit places the sell and arms the re-entrancy guard. Stop-loss and
// cutoff exits go out as market orders with no price negotiation; the
// profit-side exits use a limit at the current tick-rounded price.
func (e *Engine) submitExit(ctx context.Context, in exitIntent) {
	p := in.pos
	req := types.OrderRequest{Symbol: p.Symbol, Side: types.Sell, Qty: p.Qty}
	if in.kind == exitStopLoss || in.kind == exitCutoff {
		req.Market = true
	} else {
		req.Price = roundToTick(p.CurrentPrice)
	}

	logger.Risk(ctx, p.Symbol, in.kind.String(),
		"qty", p.Qty, "avg_cost", p.AvgCost, "current_price", p.CurrentPrice,
		"pnl_pct", p.UnrealizedPnLPct, "peak_pnl_pct", p.PeakPnLPct, "reason", in.reason)

	resp, err := e.broker.PlaceOrder(ctx, req)
	e.markOrderSubmitted()
	if err != nil {
		// A timed-out or transport-failed submission is an unknown outcome:
		// the sell may have reached the broker. Hold the guard with a
		// provisional record so the monitor cannot double-submit; the
		// snapshot pass corroborates it or the timeout sweep releases it.
		if types.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			e.mu.Lock()
			e.exitInFlight[p.Symbol] = true
			e.mu.Unlock()
			e.ledger.RecordSubmission(req, "", time.Now().In(e.loc))
			logger.ErrorWithErr(ctx, "Exit submission outcome unknown, holding for reconciliation", err,
				"symbol", p.Symbol, "kind", in.kind.String(), "qty", p.Qty)
			e.persist(ctx)
			return
		}
		logger.ErrorWithErr(ctx, "Exit order submission rejected", err,
			"symbol", p.Symbol, "kind", in.kind.String(), "qty", p.Qty)
		e.noteIfRateLimited(ctx, err, time.Now().In(e.loc))
		return
	}

	e.mu.Lock()
	e.exitInFlight[p.Symbol] = true
	e.mu.Unlock()

	now := time.Now().In(e.loc)
	e.ledger.RecordSubmission(req, resp.OrderID, now)
	logger.Trade(ctx, p.Symbol, "SELL", p.Qty, req.Price, resp.OrderID,
		"kind", in.kind.String(), "market", req.Market)
	_ = tradelog.Append(tradelog.Entry{
		Symbol: p.Symbol, Side: "SELL", OrderID: resp.OrderID,
		Strategy: in.kind.String(), Reason: in.reason,
		Qty: p.Qty, Price: req.Price, Market: req.Market,
	})
	e.persist(ctx)
}
