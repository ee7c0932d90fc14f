package strategy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/types"
)

// Config is an immutable snapshot of every strategy's parameters. The
// controller refreshes it once per cycle and passes it by value, so an
// evaluator can never observe mid-cycle mutation.
type Config struct {
	Momentum struct {
		Enabled    bool    `yaml:"enabled"`
		MinRisePct float64 `yaml:"min_rise_pct"`
	} `yaml:"momentum"`
	OpenBreakout struct {
		Enabled         bool    `yaml:"enabled"`
		WindowFrom      string  `yaml:"window_from"`
		WindowTo        string  `yaml:"window_to"`
		VolumeMult      float64 `yaml:"volume_mult"`
		FallbackRisePct float64 `yaml:"fallback_rise_pct"`
	} `yaml:"open_breakout"`
	BollingerRebound struct {
		Enabled         bool    `yaml:"enabled"`
		Period          int     `yaml:"period"`
		Multiplier      float64 `yaml:"multiplier"`
		RSIMax          float64 `yaml:"rsi_max"`
		FallbackDropPct float64 `yaml:"fallback_drop_pct"`
	} `yaml:"bollinger_rebound"`
	ScalpingPullback struct {
		Enabled         bool    `yaml:"enabled"`
		Lookback        int     `yaml:"lookback"`
		PullbackMinPct  float64 `yaml:"pullback_min_pct"`
		PullbackMaxPct  float64 `yaml:"pullback_max_pct"`
		FallbackRisePct float64 `yaml:"fallback_rise_pct"`
	} `yaml:"scalping_pullback"`
	VolumeBreakout struct {
		Enabled         bool    `yaml:"enabled"`
		Lookback        int     `yaml:"lookback"`
		VolumeMult      float64 `yaml:"volume_mult"`
		FallbackRisePct float64 `yaml:"fallback_rise_pct"`
	} `yaml:"volume_breakout"`
	CloseMomentum struct {
		Enabled         bool    `yaml:"enabled"`
		WindowFrom      string  `yaml:"window_from"`
		WindowTo        string  `yaml:"window_to"`
		NearHighPct     float64 `yaml:"near_high_pct"`
		MinChangePct    float64 `yaml:"min_change_pct"`
		FallbackRisePct float64 `yaml:"fallback_rise_pct"`
	} `yaml:"close_momentum"`
}

// Result is one evaluator's verdict for one symbol.
type Result struct {
	Signal bool
	Reason string
}

// Decision is the combined verdict across all enabled evaluators.
type Decision struct {
	Signal   bool
	Strategy string
	Reason   string
	Vetoed   bool
}

// Evaluator is a pure predicate over a symbol's live quote and optional
// candle history. Candles are newest-first. Evaluators must never block
// and must short-circuit to no-signal on degenerate input (zero prices,
// zero volumes) instead of panicking.
type Evaluator interface {
	Name() string
	Enabled(cfg Config) bool
	Evaluate(cfg Config, sym *types.WatchedSymbol, q *types.Quote, candles []types.Candle, now time.Time) Result
}

// evaluationOrder fixes the order evaluators run in. Momentum runs first
// because its veto suppresses only evaluators that have not yet run this
// cycle; signals already raised are kept.
var evaluationOrder = []Evaluator{
	momentum{},
	openBreakout{},
	bollingerRebound{},
	scalpingPullback{},
	volumeBreakout{},
	closeMomentum{},
}

// Evaluate runs every enabled evaluator in the fixed order and ORs their
// signals. When the momentum evaluator is enabled and the symbol's
// change-since-detection is negative, it vetoes all evaluators that have
// not yet run; first-fired signals survive the veto.
func Evaluate(cfg Config, sym *types.WatchedSymbol, q *types.Quote, candles []types.Candle, now time.Time) Decision {
	var (
		fired    []string
		reasons  []string
		veto     bool
		vetoNote string
	)

	for _, ev := range evaluationOrder {
		if !ev.Enabled(cfg) {
			continue
		}
		if veto {
			continue
		}
		res := ev.Evaluate(cfg, sym, q, candles, now)
		if res.Signal {
			fired = append(fired, ev.Name())
			reasons = append(reasons, fmt.Sprintf("%s: %s", ev.Name(), res.Reason))
		}
		if ev.Name() == "momentum" && changeSinceDetection(sym, q) < 0 {
			veto = true
			vetoNote = fmt.Sprintf("momentum veto: change since detection %.2f%% < 0", changeSinceDetection(sym, q))
		}
	}

	if len(fired) == 0 {
		reason := "no evaluator fired"
		if veto {
			reason = vetoNote
		}
		return Decision{Signal: false, Reason: reason, Vetoed: veto}
	}
	return Decision{
		Signal:   true,
		Strategy: fired[0],
		Reason:   strings.Join(reasons, "; "),
		Vetoed:   veto,
	}
}

// changeSinceDetection is the quote's day-change delta relative to the
// change-percent recorded when the symbol entered the watch-list.
func changeSinceDetection(sym *types.WatchedSymbol, q *types.Quote) float64 {
	return q.ChangePct - sym.DetectedChangePct
}

// relativeMove is the simplified fallback metric: the move from the price
// at watch-list entry, in percent. Returns ok=false when StartPrice is
// unusable so callers short-circuit to no-signal.
func relativeMove(sym *types.WatchedSymbol, q *types.Quote) (pct float64, ok bool) {
	if sym.StartPrice <= 0 {
		return 0, false
	}
	return (q.Price - sym.StartPrice) / sym.StartPrice * 100.0, true
}

// withinClock reports whether now falls inside the [from, to] wall-clock
// window given as "HH:MM" strings. Malformed bounds fail closed.
func withinClock(now time.Time, from, to string) bool {
	f, okF := parseHHMM(from)
	t, okT := parseHHMM(to)
	if !okF || !okT {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	return cur >= f && cur <= t
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func maxHigh(candles []types.Candle) float64 {
	high := 0.0
	for _, c := range candles {
		if c.High > high {
			high = c.High
		}
	}
	return high
}
