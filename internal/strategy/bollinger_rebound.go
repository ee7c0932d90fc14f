package strategy

import (
	"fmt"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/ta"
	"github.com/cap0y/kiumauto-sub000/internal/types"
)

// bollingerRebound buys an oversold bounce: the previous bar closed under
// the lower band and the live price has recovered above it.
type bollingerRebound struct{}

func (bollingerRebound) Name() string            { return "bollinger_rebound" }
func (bollingerRebound) Enabled(cfg Config) bool { return cfg.BollingerRebound.Enabled }

func (bollingerRebound) Evaluate(cfg Config, sym *types.WatchedSymbol, q *types.Quote, candles []types.Candle, _ time.Time) Result {
	c := cfg.BollingerRebound
	period := c.Period
	if period <= 0 {
		period = 20
	}
	minCandles := period + 1

	if len(candles) < minCandles {
		rel, ok := relativeMove(sym, q)
		if !ok {
			return Result{Reason: "no baseline price"}
		}
		// Rebound fallback: buy a dip below the watch price.
		if rel <= c.FallbackDropPct {
			return Result{Signal: true, Reason: fmt.Sprintf("fallback: dipped %.2f%% from watch price", rel)}
		}
		return Result{Reason: fmt.Sprintf("fallback move %.2f%% above dip threshold %.2f%%", rel, c.FallbackDropPct)}
	}

	// Candles are newest-first; bands[0] covers the current window,
	// bands[1] the window ending one bar earlier.
	bands := ta.BollingerBands(candles, period, c.Multiplier)
	if len(bands) < 2 {
		return Result{Reason: "insufficient band windows"}
	}
	prevClose := candles[1].Close
	if prevClose < bands[1].Lower && q.Price > bands[0].Lower {
		rsi := ta.RSI(candles, 14)
		if rsi <= c.RSIMax {
			return Result{
				Signal: true,
				Reason: fmt.Sprintf("rebound above lower band %.0f, RSI %.1f", bands[0].Lower, rsi),
			}
		}
		return Result{Reason: fmt.Sprintf("rebound but RSI %.1f above %.1f", rsi, c.RSIMax)}
	}
	return Result{Reason: "no lower-band rebound"}
}
