package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/ledger"
	"github.com/cap0y/kiumauto-sub000/internal/pnl"
	"github.com/cap0y/kiumauto-sub000/internal/store"
	"github.com/cap0y/kiumauto-sub000/internal/types"
)

type fakeBroker struct {
	mu       sync.Mutex
	placed   []types.OrderRequest
	attempts int
	err      error
	failOnce error
	nextID   int
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failOnce != nil {
		err := f.failOnce
		f.failOnce = nil
		return types.OrderResponse{}, err
	}
	if f.err != nil {
		return types.OrderResponse{}, f.err
	}
	f.placed = append(f.placed, req)
	f.nextID++
	return types.OrderResponse{OrderID: fmt.Sprintf("B%d", f.nextID), Status: "OK"}, nil
}

func (f *fakeBroker) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeBroker) OrderHistory(ctx context.Context) ([]types.BrokerOrder, error) {
	return nil, nil
}

func (f *fakeBroker) Balance(ctx context.Context) ([]types.Holding, error) {
	return nil, nil
}

func (f *fakeBroker) orders() []types.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.OrderRequest, len(f.placed))
	copy(out, f.placed)
	return out
}

func testConfig() *store.Config {
	cfg := &store.Config{}
	cfg.Account = "1234567890"
	cfg.Trading.WindowFrom = "00:00"
	cfg.Trading.WindowTo = "23:59"
	cfg.Trading.CutoffTime = "23:59"
	cfg.Trading.InvestmentPerSymbol = 1_000_000
	cfg.Trading.FeeRate = 0.0015
	cfg.Trading.MaxConcurrentHoldings = 5
	cfg.Trading.MaxTradesPerSymbol = 3
	cfg.Trading.MaxDailySymbols = 10
	cfg.Trading.CooldownSeconds = 0
	cfg.Trading.ExcludeNamePatterns = []string{"레버리지", "인버스", "선물", "ETN"}
	cfg.Risk.StopLossPct = -2.0
	cfg.Risk.ProfitTargetPct = 3.0
	cfg.Risk.TrailingArmPct = 2.0
	cfg.Risk.TrailingDropPct = 1.0
	return cfg
}

func testEngine(cfg *store.Config, brk *fakeBroker) (*Engine, *ledger.Ledger) {
	led := ledger.New()
	acc := pnl.New(nil, time.UTC)
	led.OnSellFilled(acc.OnSellFilled)
	return New(cfg, brk, nil, nil, nil, led, acc, nil, time.UTC), led
}

func openPosition(t *testing.T, led *ledger.Ledger, symbol string, qty int, avgCost float64) {
	t.Helper()
	at := time.Now()
	brokerID := "H" + symbol
	o := led.RecordSubmission(types.OrderRequest{Symbol: symbol, Side: types.Buy, Qty: qty, Price: avgCost}, brokerID, at)
	led.ApplyFill(context.Background(), types.FillEvent{
		OrderID: brokerID, Symbol: symbol, Side: types.Buy,
		OrderQty: qty, FilledQty: qty, UnfilledQty: 0, AvgFillPrice: avgCost, At: at,
	})
	if got, _ := led.Position(symbol); got.Qty != qty {
		t.Fatalf("setup: position qty = %d, want %d (order %+v)", got.Qty, qty, o)
	}
}

func TestRoundToTick(t *testing.T) {
	cases := []struct {
		price float64
		want  float64
	}{
		{12_345, 12_300},
		{950, 950},
		{73_210, 73_200},
		{999, 999},
		{4_999, 4_995},
		{9_994, 9_990},
		{49_999, 49_950},
		{99_999, 99_900},
		{499_999, 499_500},
		{1_234_567, 1_234_000},
	}
	for _, c := range cases {
		if got := roundToTick(c.price); got != c.want {
			t.Errorf("roundToTick(%.0f) = %.0f, want %.0f", c.price, got, c.want)
		}
	}
}

func TestOrderQty(t *testing.T) {
	// 1,000,000 * (1 - 0.0015) / 70,000 = 14.26 -> 14
	if got := orderQty(1_000_000, 0.0015, 70_000); got != 14 {
		t.Errorf("orderQty = %d, want 14", got)
	}
	if got := orderQty(1_000_000, 0, 0); got != 0 {
		t.Errorf("orderQty with zero price = %d, want 0", got)
	}
	if got := orderQty(10_000, 0, 20_000); got != 0 {
		t.Errorf("orderQty below one share = %d, want 0", got)
	}
}

func TestStopLossEmitsExactlyOneMarketSell(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	cfg := testConfig()
	brk := &fakeBroker{}
	e, led := testEngine(cfg, brk)

	openPosition(t, led, "005930", 10, 10_000)
	led.MarkPrice("005930", 9_700) // -3% vs -2% stop

	e.MonitorExits(context.Background())

	orders := brk.orders()
	if len(orders) != 1 {
		t.Fatalf("placed %d orders, want 1", len(orders))
	}
	o := orders[0]
	if o.Side != types.Sell || !o.Market || o.Qty != 10 || o.Symbol != "005930" {
		t.Errorf("unexpected exit order %+v", o)
	}

	// Exit is in flight; the next tick must not re-submit.
	e.MonitorExits(context.Background())
	if got := len(brk.orders()); got != 1 {
		t.Errorf("placed %d orders after second pass, want 1", got)
	}
}

func TestTimedOutExitHeldForReconciliationNotResubmitted(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	cfg := testConfig()
	brk := &fakeBroker{failOnce: &types.TransientError{Op: "place order", Err: errors.New("dial timeout")}}
	e, led := testEngine(cfg, brk)

	openPosition(t, led, "005930", 10, 10_000)
	led.MarkPrice("005930", 9_700) // -3% vs -2% stop

	// The first submission times out: outcome unknown, the sell may have
	// reached the broker.
	e.MonitorExits(context.Background())
	if got := brk.attemptCount(); got != 1 {
		t.Fatalf("attempts after timeout = %d, want 1", got)
	}
	if !led.HasOpenOrder("005930") {
		t.Fatal("a provisional sell must be recorded for the unknown outcome")
	}

	// The next tick must not double-submit while the outcome is unresolved.
	e.MonitorExits(context.Background())
	if got := brk.attemptCount(); got != 1 {
		t.Fatalf("attempts after second pass = %d, want 1 (held for reconciliation)", got)
	}

	// Once the timeout sweep cancels the provisional order, the exit is
	// retryable and the retry goes through.
	e.sweep(context.Background(), time.Now().Add(31*time.Second))
	e.MonitorExits(context.Background())
	if got := brk.attemptCount(); got != 2 {
		t.Fatalf("attempts after sweep release = %d, want 2", got)
	}
	if orders := brk.orders(); len(orders) != 1 || orders[0].Side != types.Sell || !orders[0].Market {
		t.Errorf("retry should have placed one market sell, got %+v", orders)
	}
}

func TestRejectedExitStaysRetryable(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	cfg := testConfig()
	brk := &fakeBroker{failOnce: types.ErrRateLimited}
	e, led := testEngine(cfg, brk)

	openPosition(t, led, "005930", 10, 10_000)
	led.MarkPrice("005930", 9_700)

	// A definitive rejection never reached the book: no guard, no
	// provisional record, retried on the next tick.
	e.MonitorExits(context.Background())
	if led.HasOpenOrder("005930") {
		t.Fatal("a rejected sell must not leave a provisional record")
	}

	e.MonitorExits(context.Background())
	if got := brk.attemptCount(); got != 2 {
		t.Fatalf("attempts = %d, want 2 (rejected exit retries)", got)
	}
}

func TestStopLossProcessedBeforeProfitExits(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	cfg := testConfig()
	brk := &fakeBroker{}
	e, led := testEngine(cfg, brk)

	openPosition(t, led, "000100", 5, 10_000)
	led.MarkPrice("000100", 10_400) // +4%, take profit
	openPosition(t, led, "000200", 5, 10_000)
	led.MarkPrice("000200", 9_700) // -3%, stop loss

	e.MonitorExits(context.Background())

	orders := brk.orders()
	if len(orders) != 2 {
		t.Fatalf("placed %d orders, want 2", len(orders))
	}
	if orders[0].Symbol != "000200" || !orders[0].Market {
		t.Errorf("first order should be the market stop-loss sell, got %+v", orders[0])
	}
	if orders[1].Symbol != "000100" || orders[1].Market {
		t.Errorf("second order should be the limit take-profit sell, got %+v", orders[1])
	}
}

func TestTrailingStopRequiresArmThenDrop(t *testing.T) {
	cfg := testConfig()
	brk := &fakeBroker{}
	e, led := testEngine(cfg, brk)

	openPosition(t, led, "035720", 10, 10_000)
	led.MarkPrice("035720", 10_150) // +1.5%, below the 2% arm

	if kind, _, ok := e.exitDecision(mustPosition(t, led, "035720"), time.Now()); ok {
		t.Fatalf("exit fired before trailing armed: %v", kind)
	}

	led.MarkPrice("035720", 10_250) // peak +2.5%, armed
	led.MarkPrice("035720", 10_100) // +1.0%, drop 1.5% >= 1.0%

	kind, _, ok := e.exitDecision(mustPosition(t, led, "035720"), time.Now())
	if !ok || kind != exitTrailing {
		t.Fatalf("expected trailing exit, got ok=%v kind=%v", ok, kind)
	}
}

func mustPosition(t *testing.T, led *ledger.Ledger, symbol string) types.Position {
	t.Helper()
	p, ok := led.Position(symbol)
	if !ok {
		t.Fatalf("no position for %s", symbol)
	}
	return p
}

func TestGateBuyRejections(t *testing.T) {
	cfg := testConfig()
	brk := &fakeBroker{}
	e, led := testEngine(cfg, brk)
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	sym := func(code, name string) *types.WatchedSymbol {
		return &types.WatchedSymbol{Code: code, Quote: &types.Quote{Code: code, Name: name, Price: 10_000}}
	}

	if _, blocked := e.gateBuy(sym("005930", "삼성전자"), now); blocked {
		t.Fatal("clean symbol should pass all gates")
	}
	if _, blocked := e.gateBuy(sym("00593A", "이상한코드"), now); !blocked {
		t.Error("non 6-digit code must be blocked")
	}
	if _, blocked := e.gateBuy(sym("122630", "KODEX 레버리지"), now); !blocked {
		t.Error("leveraged ETF name must be blocked")
	}

	e.restrict("005930", "test")
	if _, blocked := e.gateBuy(sym("005930", "삼성전자"), now); !blocked {
		t.Error("restricted symbol must be blocked")
	}

	openPosition(t, led, "000660", 10, 50_000)
	if reason, blocked := e.gateBuy(sym("000660", "SK하이닉스"), now); !blocked {
		t.Error("held symbol must be blocked")
	} else if reason != "already held" {
		t.Errorf("reason = %q, want already held", reason)
	}

	cfg.Trading.MaxConcurrentHoldings = 1
	if _, blocked := e.gateBuy(sym("035420", "NAVER"), now); !blocked {
		t.Error("holdings cap must block new buys")
	}
}

func TestGateBuyWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.WindowFrom = "09:00"
	cfg.Trading.WindowTo = "15:20"
	brk := &fakeBroker{}
	e, _ := testEngine(cfg, brk)

	sym := &types.WatchedSymbol{Code: "005930", Quote: &types.Quote{Code: "005930", Name: "삼성전자", Price: 10_000}}

	early := time.Date(2025, 3, 4, 8, 59, 0, 0, time.UTC)
	if _, blocked := e.gateBuy(sym, early); !blocked {
		t.Error("pre-open must be blocked")
	}
	open := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	if _, blocked := e.gateBuy(sym, open); blocked {
		t.Error("at open must pass")
	}
	late := time.Date(2025, 3, 4, 15, 21, 0, 0, time.UTC)
	if _, blocked := e.gateBuy(sym, late); !blocked {
		t.Error("post-window must be blocked")
	}
}

func TestRestrictedAfterUnknownRejection(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	cfg := testConfig()
	brk := &fakeBroker{}
	e, _ := testEngine(cfg, brk)

	e.handleSubmitError(context.Background(), "005930", types.ErrInstrumentRestricted)
	if _, blocked := e.gateBuy(&types.WatchedSymbol{
		Code: "005930", Quote: &types.Quote{Code: "005930", Name: "삼성전자", Price: 10_000},
	}, time.Now()); !blocked {
		t.Error("symbol must stay restricted after a restriction rejection")
	}

	// Insufficient funds is retryable next cycle, never restricted.
	e.handleSubmitError(context.Background(), "000660", types.ErrInsufficientFunds)
	if _, blocked := e.gateBuy(&types.WatchedSymbol{
		Code: "000660", Quote: &types.Quote{Code: "000660", Name: "SK하이닉스", Price: 10_000},
	}, time.Now()); blocked {
		t.Error("insufficient funds must not restrict the symbol")
	}
}

func TestCutoffForcesLiquidation(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.CutoffTime = "15:10"
	brk := &fakeBroker{}
	e, led := testEngine(cfg, brk)

	openPosition(t, led, "005930", 10, 10_000)
	led.MarkPrice("005930", 10_050) // +0.5%, no risk exit applies

	before := time.Date(2025, 3, 4, 15, 9, 0, 0, time.UTC)
	if _, _, ok := e.exitDecision(mustPosition(t, led, "005930"), before); ok {
		t.Fatal("no exit expected before cutoff")
	}
	after := time.Date(2025, 3, 4, 15, 10, 0, 0, time.UTC)
	kind, _, ok := e.exitDecision(mustPosition(t, led, "005930"), after)
	if !ok || kind != exitCutoff {
		t.Fatalf("expected cutoff exit, got ok=%v kind=%v", ok, kind)
	}
}
