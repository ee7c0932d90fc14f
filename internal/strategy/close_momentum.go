package strategy

import (
	"fmt"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/types"
)

const closeMomentumMinCandles = 3

// closeMomentum buys strength into the close: price holding near the
// session high with a positive day change during the closing window.
type closeMomentum struct{}

func (closeMomentum) Name() string            { return "close_momentum" }
func (closeMomentum) Enabled(cfg Config) bool { return cfg.CloseMomentum.Enabled }

func (closeMomentum) Evaluate(cfg Config, sym *types.WatchedSymbol, q *types.Quote, candles []types.Candle, now time.Time) Result {
	c := cfg.CloseMomentum
	if !withinClock(now, c.WindowFrom, c.WindowTo) {
		return Result{Reason: "outside closing window"}
	}
	if q.HighPrice <= 0 {
		return Result{Reason: "no session high"}
	}

	nearHigh := q.Price >= q.HighPrice*(1.0-c.NearHighPct/100.0)

	if len(candles) < closeMomentumMinCandles {
		rel, ok := relativeMove(sym, q)
		if !ok {
			return Result{Reason: "no baseline price"}
		}
		if rel >= c.FallbackRisePct && nearHigh {
			return Result{Signal: true, Reason: fmt.Sprintf("fallback: +%.2f%% near session high", rel)}
		}
		return Result{Reason: fmt.Sprintf("fallback move %.2f%% below %.2f%%", rel, c.FallbackRisePct)}
	}

	rising := candles[0].Close > candles[1].Close && candles[1].Close > candles[2].Close
	if nearHigh && q.ChangePct >= c.MinChangePct && rising {
		return Result{
			Signal: true,
			Reason: fmt.Sprintf("holding %.2f%% day change near high %.0f into close", q.ChangePct, q.HighPrice),
		}
	}
	return Result{Reason: "no strength into close"}
}
