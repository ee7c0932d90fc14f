package strategy

import (
	"fmt"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/ta"
	"github.com/cap0y/kiumauto-sub000/internal/types"
)

// scalpingPullback buys a shallow pullback inside a short-term uptrend
// once the current bar turns back up.
type scalpingPullback struct{}

func (scalpingPullback) Name() string            { return "scalping_pullback" }
func (scalpingPullback) Enabled(cfg Config) bool { return cfg.ScalpingPullback.Enabled }

func (scalpingPullback) Evaluate(cfg Config, sym *types.WatchedSymbol, q *types.Quote, candles []types.Candle, _ time.Time) Result {
	c := cfg.ScalpingPullback
	lookback := c.Lookback
	if lookback <= 0 {
		lookback = 10
	}

	if len(candles) < lookback {
		rel, ok := relativeMove(sym, q)
		if !ok {
			return Result{Reason: "no baseline price"}
		}
		if rel >= c.FallbackRisePct {
			return Result{Signal: true, Reason: fmt.Sprintf("fallback: +%.2f%% from watch price", rel)}
		}
		return Result{Reason: fmt.Sprintf("fallback move %.2f%% below %.2f%%", rel, c.FallbackRisePct)}
	}

	recentHigh := maxHigh(candles[:lookback])
	if recentHigh <= 0 {
		return Result{Reason: "degenerate recent high"}
	}
	pullback := (recentHigh - q.Price) / recentHigh * 100.0
	if pullback < c.PullbackMinPct || pullback > c.PullbackMaxPct {
		return Result{Reason: fmt.Sprintf("pullback %.2f%% outside [%.2f%%, %.2f%%]", pullback, c.PullbackMinPct, c.PullbackMaxPct)}
	}

	// Short MA must sit above its value five bars earlier and the current
	// bar must be ticking back up.
	ma5 := ta.MovingAverage(candles, 5, ta.Close)
	if len(ma5) < 6 {
		return Result{Reason: "insufficient trend windows"}
	}
	if ma5[0] <= ma5[5] {
		return Result{Reason: "short-term trend not rising"}
	}
	if candles[0].Close <= candles[1].Close {
		return Result{Reason: "current bar not turning up"}
	}
	return Result{
		Signal: true,
		Reason: fmt.Sprintf("pullback %.2f%% from high %.0f in uptrend, bar turning up", pullback, recentHigh),
	}
}
