package kiwoom

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cap0y/kiumauto-sub000/internal/types"
)

func TestPlaceOrderDryRunNeverHitsNetwork(t *testing.T) {
	k := New(Params{Mode: "DRY_RUN", BaseURL: "http://127.0.0.1:1"})
	resp, err := k.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol: "005930", Side: types.Buy, Qty: 10, Price: 70_000,
	})
	if err != nil {
		t.Fatalf("dry-run order failed: %v", err)
	}
	if resp.Status != "SIMULATED" || resp.OrderID == "" {
		t.Errorf("unexpected dry-run response %+v", resp)
	}
}

func TestRejectionErrorMapping(t *testing.T) {
	if !errors.Is(rejectionError(codeInsufficientFunds, "deposit shortage"), types.ErrInsufficientFunds) {
		t.Error("insufficient funds code must map to ErrInsufficientFunds")
	}
	if !errors.Is(rejectionError(codeRestricted, "not tradable"), types.ErrInstrumentRestricted) {
		t.Error("restricted code must map to ErrInstrumentRestricted")
	}
	err := rejectionError("RC9999", "unknown")
	if errors.Is(err, types.ErrInsufficientFunds) || errors.Is(err, types.ErrInstrumentRestricted) {
		t.Error("unknown code must stay a generic rejection")
	}
}

func TestRateLimitStatusMapsToTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	k := New(Params{Mode: "LIVE", BaseURL: srv.URL})
	_, err := k.Balance(context.Background())
	if !errors.Is(err, types.ErrRateLimited) {
		t.Errorf("want ErrRateLimited, got %v", err)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	k := New(Params{Mode: "LIVE", BaseURL: srv.URL})
	_, err := k.OrderHistory(context.Background())
	if !types.IsTransient(err) {
		t.Errorf("want transient error, got %v", err)
	}
}

func TestOrderRejectionFromReplyCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"RC4020","message":"deposit shortage"}`))
	}))
	defer srv.Close()

	k := New(Params{Mode: "LIVE", BaseURL: srv.URL})
	_, err := k.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol: "005930", Side: types.Buy, Qty: 10, Price: 70_000,
	})
	if !errors.Is(err, types.ErrInsufficientFunds) {
		t.Errorf("want ErrInsufficientFunds, got %v", err)
	}
}

func TestDecodeFill(t *testing.T) {
	values := map[string]string{
		fidOrderNo:     "0000123",
		fidSymbol:      "005930",
		fidSide:        "2",
		fidOrderQty:    "10",
		fidFilledQty:   "4",
		fidUnfilledQty: "6",
		fidFillPrice:   "+70100",
	}
	ev, ok := decodeFill(values)
	if !ok {
		t.Fatal("expected fill to decode")
	}
	if ev.Side != types.Buy || ev.OrderQty != 10 || ev.FilledQty != 4 ||
		ev.UnfilledQty != 6 || ev.AvgFillPrice != 70_100 {
		t.Errorf("unexpected fill %+v", ev)
	}

	values[fidSide] = "1"
	if ev, _ := decodeFill(values); ev.Side != types.Sell {
		t.Errorf("side 1 must decode as sell, got %s", ev.Side)
	}

	delete(values, fidOrderNo)
	if _, ok := decodeFill(values); ok {
		t.Error("fill without an order number must be dropped")
	}
}

func TestDecodeFillRequiresQuantityFields(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{
			fidOrderNo:     "0000123",
			fidSymbol:      "005930",
			fidSide:        "2",
			fidOrderQty:    "10",
			fidFilledQty:   "4",
			fidUnfilledQty: "6",
			fidFillPrice:   "70100",
		}
	}

	// A partial fill missing the unfilled count must be dropped: decoding
	// it as 0 would book the order as completely filled.
	values := base()
	delete(values, fidUnfilledQty)
	if _, ok := decodeFill(values); ok {
		t.Error("fill without an unfilled quantity must be dropped")
	}

	values = base()
	delete(values, fidOrderQty)
	if _, ok := decodeFill(values); ok {
		t.Error("fill without an order quantity must be dropped")
	}

	values = base()
	values[fidUnfilledQty] = "n/a"
	if _, ok := decodeFill(values); ok {
		t.Error("fill with an unparseable unfilled quantity must be dropped")
	}

	if ev, ok := decodeFill(base()); !ok || ev.UnfilledQty != 6 {
		t.Errorf("complete message must decode, got ok=%v ev=%+v", ok, ev)
	}
}

func TestParseNum(t *testing.T) {
	cases := map[string]float64{
		"70100":  70_100,
		"+70100": 70_100,
		"-70100": 70_100, // sign marks direction, not a negative price
		"":       0,
		"abc":    0,
	}
	for in, want := range cases {
		if got := parseNum(in); got != want {
			t.Errorf("parseNum(%q) = %v, want %v", in, got, want)
		}
	}
}
