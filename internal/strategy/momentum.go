package strategy

import (
	"fmt"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/types"
)

// momentum fires when the symbol has kept rising since it entered the
// watch-list. It doubles as the veto strategy: a negative
// change-since-detection suppresses evaluators that have not run yet.
type momentum struct{}

func (momentum) Name() string             { return "momentum" }
func (momentum) Enabled(cfg Config) bool  { return cfg.Momentum.Enabled }

func (momentum) Evaluate(cfg Config, sym *types.WatchedSymbol, q *types.Quote, _ []types.Candle, _ time.Time) Result {
	delta := changeSinceDetection(sym, q)
	if delta >= cfg.Momentum.MinRisePct {
		return Result{
			Signal: true,
			Reason: fmt.Sprintf("rose %.2f%% since detection (threshold %.2f%%)", delta, cfg.Momentum.MinRisePct),
		}
	}
	return Result{Reason: fmt.Sprintf("delta %.2f%% below threshold", delta)}
}
