// Package pnl accumulates realized profit from matched sell fills into a
// per-day total that survives restarts and resets exactly once per
// calendar date rollover.
package pnl

import (
	"context"
	"sync"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/logger"
)

const dateLayout = "2006-01-02"

// Store persists the running daily total; the order ledger itself is
// persisted elsewhere and is never touched by a rollover.
type Store interface {
	SaveDailyPnL(amount float64, asOfDate string) error
}

type Accumulator struct {
	mu       sync.Mutex
	amount   float64
	asOfDate string
	loc      *time.Location
	store    Store
}

func New(store Store, loc *time.Location) *Accumulator {
	if loc == nil {
		loc = time.Local
	}
	return &Accumulator{store: store, loc: loc}
}

// Restore seeds the accumulator from persisted state at startup.
func (a *Accumulator) Restore(amount float64, asOfDate string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.amount = amount
	a.asOfDate = asOfDate
}

// Rollover resets the total to zero when the calendar date has advanced
// past the persisted last-seen date. Call it at cycle boundaries so the
// reset lands before any same-day accumulation.
func (a *Accumulator) Rollover(ctx context.Context, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked(ctx, now)
}

func (a *Accumulator) rolloverLocked(ctx context.Context, now time.Time) {
	today := now.In(a.loc).Format(dateLayout)
	if a.asOfDate == today {
		return
	}
	if a.asOfDate != "" {
		logger.Info(ctx, "Daily realized P&L reset on date rollover",
			"previous_date", a.asOfDate, "previous_total", a.amount, "date", today)
	}
	a.amount = 0
	a.asOfDate = today
	a.persistLocked(ctx)
}

// OnSellFilled adds a completed sell's realized P&L to the current day's
// total. An undefined (nil) P&L means the reconciliation data is still
// incomplete: the update is skipped entirely this pass, never treated as
// zero, and the ledger re-reports once the link resolves.
func (a *Accumulator) OnSellFilled(symbol string, pnl *float64, at time.Time) {
	ctx := context.Background()
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rolloverLocked(ctx, at)

	if pnl == nil {
		logger.Warn(ctx, "Realized P&L undefined, deferring accumulation",
			"symbol", symbol, "reason", "buy link unresolved")
		return
	}
	a.amount += *pnl
	logger.Info(ctx, "Realized P&L accumulated",
		"symbol", symbol, "realized_pnl", *pnl, "daily_total", a.amount, "date", a.asOfDate)
	a.persistLocked(ctx)
}

func (a *Accumulator) persistLocked(ctx context.Context) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveDailyPnL(a.amount, a.asOfDate); err != nil {
		logger.ErrorWithErr(ctx, "Failed to persist daily P&L", err,
			"amount", a.amount, "date", a.asOfDate)
	}
}

// Total returns the running daily total and its date.
func (a *Accumulator) Total() (float64, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.amount, a.asOfDate
}
