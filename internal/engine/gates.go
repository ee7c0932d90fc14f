package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/types"
)

// instrumentCode matches the standard 6-digit equity code; anything else
// (derivative codes, malformed input) is not tradable here.
var instrumentCode = regexp.MustCompile(`^\d{6}$`)

// gateBuy applies every pre-submission gate to a watched symbol. All must
// pass; the first failure is returned as the skip reason so the diagnostic
// entry carries concrete numbers.
func (e *Engine) gateBuy(sym *types.WatchedSymbol, now time.Time) (reason string, blocked bool) {
	if !withinWindow(now, e.cfg.Trading.WindowFrom, e.cfg.Trading.WindowTo) {
		return fmt.Sprintf("outside trading window %s-%s", e.cfg.Trading.WindowFrom, e.cfg.Trading.WindowTo), true
	}
	if !instrumentCode.MatchString(sym.Code) {
		return "non-standard instrument code", true
	}
	if pat := matchExcludedName(sym.Quote.Name, e.cfg.Trading.ExcludeNamePatterns); pat != "" {
		return "excluded name pattern: " + pat, true
	}

	e.mu.Lock()
	restrictReason, isRestricted := e.restricted[sym.Code]
	trades := e.tradeCounts[sym.Code]
	daily := len(e.tradedToday)
	tradedThisSymbol := e.tradedToday[sym.Code]
	e.mu.Unlock()

	if isRestricted {
		return "restricted: " + restrictReason, true
	}
	if _, held := e.ledger.Position(sym.Code); held {
		return "already held", true
	}
	if e.ledger.HasOpenOrder(sym.Code) {
		return "order already pending", true
	}
	if e.ledger.PositionCount() >= e.cfg.Trading.MaxConcurrentHoldings {
		return fmt.Sprintf("max concurrent holdings reached (%d)", e.cfg.Trading.MaxConcurrentHoldings), true
	}
	if e.cfg.Trading.MaxTradesPerSymbol > 0 && trades >= e.cfg.Trading.MaxTradesPerSymbol {
		return fmt.Sprintf("per-symbol trade limit reached (%d)", trades), true
	}
	// A symbol already counted today does not consume a new daily slot.
	if e.cfg.Trading.MaxDailySymbols > 0 && !tradedThisSymbol && daily >= e.cfg.Trading.MaxDailySymbols {
		return fmt.Sprintf("daily symbol limit reached (%d)", daily), true
	}
	return "", false
}

func matchExcludedName(name string, patterns []string) string {
	for _, p := range patterns {
		if p != "" && strings.Contains(name, p) {
			return p
		}
	}
	return ""
}

// withinWindow reports whether now falls inside the [from, to] wall-clock
// window given as "HH:MM". Malformed bounds fail closed.
func withinWindow(now time.Time, from, to string) bool {
	f, okF := parseClock(from)
	t, okT := parseClock(to)
	if !okF || !okT {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	return cur >= f && cur <= t
}

// afterClock reports whether now is at or past the "HH:MM" cutoff.
// Malformed cutoffs fail closed (never force-liquidate on a typo).
func afterClock(now time.Time, cutoff string) bool {
	c, ok := parseClock(cutoff)
	if !ok {
		return false
	}
	return now.Hour()*60+now.Minute() >= c
}

func parseClock(s string) (int, bool) {
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
