package interfaces

import (
	"context"

	"github.com/cap0y/kiumauto-sub000/internal/types"
)

// Screener runs the broker-side condition search and returns candidate
// symbols for the watch-list.
type Screener interface {
	Search(ctx context.Context, conditionIDs []string) ([]types.ScreenResult, error)
}

// CandleService fetches recent bars for a symbol. It may fail with rate
// limits or server errors; callers treat missing data as "proceed without
// chart confirmation", never as fatal.
type CandleService interface {
	Candles(ctx context.Context, code string, period string, count int) ([]types.Candle, error)
}

// FillFeed is the push channel of field-coded fill and tick messages. The
// consumer must resubscribe whenever its watch-list or holdings change.
type FillFeed interface {
	Start(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Fills() <-chan types.FillEvent
	Ticks() <-chan types.Tick
	Stop(ctx context.Context)
}
