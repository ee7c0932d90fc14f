package strategy

import (
	"testing"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/types"
)

func watched(code string, startPrice, detectedPct float64) *types.WatchedSymbol {
	return &types.WatchedSymbol{
		Code:              code,
		StartPrice:        startPrice,
		DetectedChangePct: detectedPct,
		DetectedAt:        time.Now(),
	}
}

func quoteAt(price, prevClose float64) *types.Quote {
	q := &types.Quote{Code: "005930", PrevClose: prevClose, OpenPrice: prevClose, HighPrice: price, Volume: 10000}
	q.SetPrice(price)
	return q
}

func fullConfig() Config {
	var cfg Config
	cfg.Momentum.Enabled = true
	cfg.Momentum.MinRisePct = 1.0
	cfg.OpenBreakout.Enabled = true
	cfg.OpenBreakout.WindowFrom = "09:00"
	cfg.OpenBreakout.WindowTo = "09:30"
	cfg.OpenBreakout.VolumeMult = 2.0
	cfg.OpenBreakout.FallbackRisePct = 1.0
	cfg.BollingerRebound.Enabled = true
	cfg.BollingerRebound.Period = 20
	cfg.BollingerRebound.Multiplier = 2.0
	cfg.BollingerRebound.RSIMax = 35
	cfg.BollingerRebound.FallbackDropPct = -2.0
	cfg.ScalpingPullback.Enabled = true
	cfg.ScalpingPullback.Lookback = 10
	cfg.ScalpingPullback.PullbackMinPct = 0.5
	cfg.ScalpingPullback.PullbackMaxPct = 3.0
	cfg.ScalpingPullback.FallbackRisePct = 1.5
	cfg.VolumeBreakout.Enabled = true
	cfg.VolumeBreakout.Lookback = 10
	cfg.VolumeBreakout.VolumeMult = 3.0
	cfg.VolumeBreakout.FallbackRisePct = 2.0
	cfg.CloseMomentum.Enabled = true
	cfg.CloseMomentum.WindowFrom = "14:50"
	cfg.CloseMomentum.WindowTo = "15:20"
	cfg.CloseMomentum.NearHighPct = 1.0
	cfg.CloseMomentum.MinChangePct = 2.0
	cfg.CloseMomentum.FallbackRisePct = 2.0
	return cfg
}

func at(hhmm string) time.Time {
	t, _ := time.Parse("15:04", hhmm)
	return time.Date(2025, 3, 4, t.Hour(), t.Minute(), 0, 0, time.UTC)
}

func TestMomentumSignal(t *testing.T) {
	cfg := fullConfig()
	sym := watched("005930", 10000, 2.0)
	// PrevClose 10000, price 10350 => ChangePct 3.5, delta 1.5 >= 1.0
	q := quoteAt(10350, 10000)

	d := Evaluate(cfg, sym, q, nil, at("10:00"))
	if !d.Signal {
		t.Fatalf("expected momentum signal, got %+v", d)
	}
	if d.Strategy != "momentum" {
		t.Errorf("expected momentum to fire first, got %s", d.Strategy)
	}
}

func TestMomentumVetoSuppressesLaterEvaluators(t *testing.T) {
	cfg := fullConfig()
	sym := watched("005930", 10000, 3.0)
	// ChangePct 1.0, delta -2.0 => veto. Relative move +1.0% would satisfy
	// the open-breakout fallback if it were allowed to run.
	q := quoteAt(10100, 10000)

	d := Evaluate(cfg, sym, q, nil, at("09:10"))
	if d.Signal {
		t.Fatalf("expected veto to suppress all signals, got %+v", d)
	}
	if !d.Vetoed {
		t.Error("expected decision to be marked vetoed")
	}
}

func TestNoVetoWhenMomentumDisabled(t *testing.T) {
	cfg := fullConfig()
	cfg.Momentum.Enabled = false
	sym := watched("005930", 10000, 3.0)
	q := quoteAt(10150, 10000) // relative move +1.5% fires open-breakout fallback

	d := Evaluate(cfg, sym, q, nil, at("09:10"))
	if !d.Signal {
		t.Fatalf("expected fallback signal with veto disabled, got %+v", d)
	}
	if d.Vetoed {
		t.Error("momentum disabled must not veto")
	}
}

func TestOpenBreakoutOutsideWindow(t *testing.T) {
	cfg := fullConfig()
	cfg.Momentum.Enabled = false
	cfg.ScalpingPullback.Enabled = false
	cfg.VolumeBreakout.Enabled = false
	cfg.BollingerRebound.Enabled = false
	cfg.CloseMomentum.Enabled = false
	sym := watched("005930", 10000, 0)
	q := quoteAt(10300, 10000)

	if d := Evaluate(cfg, sym, q, nil, at("11:00")); d.Signal {
		t.Errorf("open breakout must not fire outside its window: %+v", d)
	}
	if d := Evaluate(cfg, sym, q, nil, at("09:10")); !d.Signal {
		t.Errorf("open breakout fallback should fire inside the window: %+v", d)
	}
}

func TestVolumeBreakoutZeroAverageVolume(t *testing.T) {
	cfg := fullConfig()
	candles := make([]types.Candle, 11)
	for i := range candles {
		candles[i] = types.Candle{Close: 10000, High: 10000, Low: 9900, Volume: 0}
	}
	candles[0].Volume = 50000

	sym := watched("005930", 10000, 0)
	q := quoteAt(10500, 10000)

	res := volumeBreakout{}.Evaluate(cfg, sym, q, candles, at("10:00"))
	if res.Signal {
		t.Errorf("zero prior average volume must short-circuit to no signal: %+v", res)
	}
}

func TestVolumeBreakoutSurge(t *testing.T) {
	cfg := fullConfig()
	candles := make([]types.Candle, 11)
	for i := range candles {
		candles[i] = types.Candle{Close: 10000, High: 10050, Low: 9900, Volume: 1000}
	}
	candles[0] = types.Candle{Close: 10200, High: 10200, Low: 10000, Volume: 5000}

	sym := watched("005930", 10000, 0)
	q := quoteAt(10200, 10000)

	res := volumeBreakout{}.Evaluate(cfg, sym, q, candles, at("10:00"))
	if !res.Signal {
		t.Errorf("expected volume breakout on 5x surge above range: %+v", res)
	}
}

func TestFallbackWithZeroStartPrice(t *testing.T) {
	cfg := fullConfig()
	cfg.Momentum.Enabled = false
	sym := watched("005930", 0, 0) // degenerate baseline
	q := quoteAt(10200, 10000)

	d := Evaluate(cfg, sym, q, nil, at("09:10"))
	if d.Signal {
		t.Errorf("zero StartPrice must not produce a fallback signal: %+v", d)
	}
}

func TestBollingerReboundFallbackDip(t *testing.T) {
	cfg := fullConfig()
	cfg.Momentum.Enabled = false
	sym := watched("005930", 10000, 0)
	q := quoteAt(9700, 10000) // -3% from watch price

	res := bollingerRebound{}.Evaluate(cfg, sym, q, nil, at("10:00"))
	if !res.Signal {
		t.Errorf("expected dip fallback signal at -3%%: %+v", res)
	}
}

func TestCloseMomentumWindowAndStrength(t *testing.T) {
	cfg := fullConfig()
	sym := watched("005930", 10000, 0)
	q := quoteAt(10400, 10000) // +4% day change at the high
	candles := []types.Candle{
		{Close: 10400}, {Close: 10300}, {Close: 10200},
	}

	res := closeMomentum{}.Evaluate(cfg, sym, q, candles, at("15:00"))
	if !res.Signal {
		t.Errorf("expected close momentum inside window: %+v", res)
	}
	res = closeMomentum{}.Evaluate(cfg, sym, q, candles, at("13:00"))
	if res.Signal {
		t.Errorf("close momentum must not fire outside its window: %+v", res)
	}
}

func TestScalpingPullbackInUptrend(t *testing.T) {
	cfg := fullConfig()
	sym := watched("005930", 10000, 0)

	// Newest-first rising series with a recent high of 10450 and the
	// current bar turning up after a ~1% pullback.
	candles := []types.Candle{
		{Close: 10340, High: 10350},
		{Close: 10320, High: 10450},
		{Close: 10360, High: 10420},
		{Close: 10330, High: 10380},
		{Close: 10300, High: 10350},
		{Close: 10250, High: 10300},
		{Close: 10200, High: 10250},
		{Close: 10150, High: 10200},
		{Close: 10100, High: 10150},
		{Close: 10050, High: 10100},
	}
	q := quoteAt(10340, 10000)

	res := scalpingPullback{}.Evaluate(cfg, sym, q, candles, at("10:00"))
	if !res.Signal {
		t.Errorf("expected pullback entry in uptrend: %+v", res)
	}
}
