package pnl

import (
	"context"
	"testing"
	"time"
)

type memStore struct {
	amount float64
	date   string
	saves  int
}

func (m *memStore) SaveDailyPnL(amount float64, asOfDate string) error {
	m.amount, m.date = amount, asOfDate
	m.saves++
	return nil
}

func f(v float64) *float64 { return &v }

func TestAccumulation(t *testing.T) {
	st := &memStore{}
	acc := New(st, time.UTC)
	day := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	acc.OnSellFilled("005930", f(150000), day)
	acc.OnSellFilled("000660", f(-20000), day.Add(time.Hour))

	total, date := acc.Total()
	if total != 130000 {
		t.Errorf("expected 130000, got %f", total)
	}
	if date != "2025-03-04" {
		t.Errorf("expected as-of date 2025-03-04, got %s", date)
	}
	if st.amount != 130000 {
		t.Errorf("store not updated: %f", st.amount)
	}
}

func TestUndefinedPnLDeferred(t *testing.T) {
	st := &memStore{}
	acc := New(st, time.UTC)
	day := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	acc.OnSellFilled("005930", f(100000), day)
	saves := st.saves
	acc.OnSellFilled("000660", nil, day.Add(time.Minute))

	total, _ := acc.Total()
	if total != 100000 {
		t.Errorf("nil P&L must not be treated as zero or change the total, got %f", total)
	}
	if st.saves != saves {
		t.Errorf("deferred update must not persist, saves went %d -> %d", saves, st.saves)
	}

	// Re-reported with a resolved value on a later reconciliation pass.
	acc.OnSellFilled("000660", f(50000), day.Add(2*time.Minute))
	total, _ = acc.Total()
	if total != 150000 {
		t.Errorf("expected 150000 after resolution, got %f", total)
	}
}

func TestDateRollover(t *testing.T) {
	st := &memStore{}
	acc := New(st, time.UTC)
	acc.Restore(150000, "2025-03-04")

	next := time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)
	acc.Rollover(context.Background(), next)

	total, date := acc.Total()
	if total != 0 {
		t.Errorf("rollover must reset to 0 before new accumulation, got %f", total)
	}
	if date != "2025-03-05" {
		t.Errorf("expected new date, got %s", date)
	}

	// Same-day rollover is a no-op.
	acc.OnSellFilled("005930", f(70000), next.Add(time.Hour))
	acc.Rollover(context.Background(), next.Add(2*time.Hour))
	total, _ = acc.Total()
	if total != 70000 {
		t.Errorf("same-day rollover must not reset, got %f", total)
	}
}

func TestRolloverHappensBeforeAccumulation(t *testing.T) {
	st := &memStore{}
	acc := New(st, time.UTC)
	acc.Restore(150000, "2025-03-04")

	// First sell of the new day: the reset lands first.
	acc.OnSellFilled("005930", f(30000), time.Date(2025, 3, 5, 9, 5, 0, 0, time.UTC))

	total, date := acc.Total()
	if total != 30000 {
		t.Errorf("expected only the new day's P&L, got %f", total)
	}
	if date != "2025-03-05" {
		t.Errorf("expected rolled date, got %s", date)
	}
}
