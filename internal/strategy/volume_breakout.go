package strategy

import (
	"fmt"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/ta"
	"github.com/cap0y/kiumauto-sub000/internal/types"
)

// volumeBreakout buys a price break above the recent range backed by a
// volume surge against the prior average.
type volumeBreakout struct{}

func (volumeBreakout) Name() string            { return "volume_breakout" }
func (volumeBreakout) Enabled(cfg Config) bool { return cfg.VolumeBreakout.Enabled }

func (volumeBreakout) Evaluate(cfg Config, sym *types.WatchedSymbol, q *types.Quote, candles []types.Candle, _ time.Time) Result {
	c := cfg.VolumeBreakout
	lookback := c.Lookback
	if lookback <= 0 {
		lookback = 10
	}

	if len(candles) < lookback+1 {
		rel, ok := relativeMove(sym, q)
		if !ok {
			return Result{Reason: "no baseline price"}
		}
		if rel >= c.FallbackRisePct && q.Volume > 0 {
			return Result{Signal: true, Reason: fmt.Sprintf("fallback: +%.2f%% from watch price with volume", rel)}
		}
		return Result{Reason: fmt.Sprintf("fallback move %.2f%% below %.2f%%", rel, c.FallbackRisePct)}
	}

	prior := candles[1 : lookback+1]
	avgVol := ta.MovingAverage(prior, lookback, ta.Volume)
	// Zero previous average volume short-circuits to no signal, never a
	// division.
	if len(avgVol) == 0 || avgVol[0] <= 0 {
		return Result{Reason: "zero prior average volume"}
	}
	rangeHigh := maxHigh(prior)
	if candles[0].Volume >= c.VolumeMult*avgVol[0] && q.Price > rangeHigh {
		return Result{
			Signal: true,
			Reason: fmt.Sprintf("%.1fx volume surge above range high %.0f", candles[0].Volume/avgVol[0], rangeHigh),
		}
	}
	return Result{Reason: "no volume-backed breakout"}
}
