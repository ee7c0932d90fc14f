package strategy

import (
	"fmt"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/ta"
	"github.com/cap0y/kiumauto-sub000/internal/types"
)

const openBreakoutMinCandles = 6

// openBreakout buys a fresh break above the opening range during the
// market-open window, confirmed by volume against the prior bars.
type openBreakout struct{}

func (openBreakout) Name() string            { return "open_breakout" }
func (openBreakout) Enabled(cfg Config) bool { return cfg.OpenBreakout.Enabled }

func (openBreakout) Evaluate(cfg Config, sym *types.WatchedSymbol, q *types.Quote, candles []types.Candle, now time.Time) Result {
	c := cfg.OpenBreakout
	if !withinClock(now, c.WindowFrom, c.WindowTo) {
		return Result{Reason: "outside opening window"}
	}

	if len(candles) < openBreakoutMinCandles {
		// Chart history rate-limited or missing: fall back to the
		// watch-list relative move instead of abstaining.
		rel, ok := relativeMove(sym, q)
		if !ok {
			return Result{Reason: "no baseline price"}
		}
		if rel >= c.FallbackRisePct && q.Price > q.OpenPrice {
			return Result{Signal: true, Reason: fmt.Sprintf("fallback: +%.2f%% from watch price above open", rel)}
		}
		return Result{Reason: fmt.Sprintf("fallback move %.2f%% below %.2f%%", rel, c.FallbackRisePct)}
	}

	prior := candles[1:openBreakoutMinCandles]
	rangeHigh := maxHigh(prior)
	if rangeHigh <= 0 || q.OpenPrice <= 0 {
		return Result{Reason: "degenerate opening range"}
	}
	avgVol := ta.MovingAverage(prior, len(prior), ta.Volume)
	if len(avgVol) == 0 || avgVol[0] <= 0 {
		return Result{Reason: "no prior volume"}
	}
	if q.Price > q.OpenPrice && q.Price > rangeHigh && candles[0].Volume >= c.VolumeMult*avgVol[0] {
		return Result{
			Signal: true,
			Reason: fmt.Sprintf("broke opening range high %.0f on %.1fx volume", rangeHigh, candles[0].Volume/avgVol[0]),
		}
	}
	return Result{Reason: "no breakout above opening range"}
}
