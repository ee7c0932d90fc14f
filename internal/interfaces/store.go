package interfaces

import (
	"github.com/cap0y/kiumauto-sub000/internal/types"
)

// TradingState is the durable snapshot written after every state-changing
// reconciliation and on the periodic backstop timer.
type TradingState struct {
	Account      string
	Orders       []types.Order
	Positions    []types.Position
	DailyPnL     float64
	LastSeenDate string
}

// StateStore persists trading state keyed by account.
type StateStore interface {
	Save(state TradingState) error
	Load(account string) (TradingState, bool, error)
	SaveDailyPnL(amount float64, asOfDate string) error
}
