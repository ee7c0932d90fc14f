package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/interfaces"
	"github.com/cap0y/kiumauto-sub000/internal/types"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// orderRow persists one ledger order. Optional fields ride in a JSON blob
// so nil (undefined) realized P&L survives the round trip.
type orderRow struct {
	LocalID     string `gorm:"primaryKey"`
	Account     string `gorm:"index"`
	BrokerID    string `gorm:"index"`
	Symbol      string `gorm:"index"`
	Side        string
	Qty         int
	Price       float64
	Status      string
	SubmittedAt time.Time
	UnfilledQty int
	Payload     string // JSON of the full types.Order
}

type positionRow struct {
	Account string `gorm:"primaryKey"`
	Symbol  string `gorm:"primaryKey"`
	Payload string
}

type pnlRow struct {
	Account  string `gorm:"primaryKey"`
	Amount   float64
	AsOfDate string
}

// StateDB is the persistence collaborator: trading state keyed by
// account, written after every state-changing reconciliation and by the
// periodic durability timer.
type StateDB struct {
	db      *gorm.DB
	account string
}

var _ interfaces.StateStore = (*StateDB)(nil)

func OpenState(path, account string) (*StateDB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.AutoMigrate(&orderRow{}, &positionRow{}, &pnlRow{}); err != nil {
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return &StateDB{db: db, account: account}, nil
}

// Save replaces the account's persisted snapshot in one transaction.
func (s *StateDB) Save(state interfaces.TradingState) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account = ?", s.account).Delete(&orderRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account = ?", s.account).Delete(&positionRow{}).Error; err != nil {
			return err
		}
		for i := range state.Orders {
			o := state.Orders[i]
			payload, err := json.Marshal(o)
			if err != nil {
				return err
			}
			row := orderRow{
				LocalID:     o.LocalID,
				Account:     s.account,
				BrokerID:    o.ID,
				Symbol:      o.Symbol,
				Side:        string(o.Side),
				Qty:         o.Qty,
				Price:       o.Price,
				Status:      string(o.Status),
				SubmittedAt: o.SubmittedAt,
				UnfilledQty: o.UnfilledQty,
				Payload:     string(payload),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		for i := range state.Positions {
			p := state.Positions[i]
			payload, err := json.Marshal(p)
			if err != nil {
				return err
			}
			row := positionRow{Account: s.account, Symbol: p.Symbol, Payload: string(payload)}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&pnlRow{Account: s.account, Amount: state.DailyPnL, AsOfDate: state.LastSeenDate}).Error
	})
}

// Load returns the persisted snapshot for the account; found is false on a
// cold start.
func (s *StateDB) Load(account string) (interfaces.TradingState, bool, error) {
	state := interfaces.TradingState{Account: account}

	var orders []orderRow
	if err := s.db.Where("account = ?", account).Find(&orders).Error; err != nil {
		return state, false, err
	}
	var positions []positionRow
	if err := s.db.Where("account = ?", account).Find(&positions).Error; err != nil {
		return state, false, err
	}
	var pnl pnlRow
	pnlFound := true
	if err := s.db.Where("account = ?", account).First(&pnl).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return state, false, err
		}
		pnlFound = false
	}

	for _, row := range orders {
		var o types.Order
		if err := json.Unmarshal([]byte(row.Payload), &o); err != nil {
			return state, false, fmt.Errorf("corrupt order row %s: %w", row.LocalID, err)
		}
		state.Orders = append(state.Orders, o)
	}
	for _, row := range positions {
		var p types.Position
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			return state, false, fmt.Errorf("corrupt position row %s: %w", row.Symbol, err)
		}
		state.Positions = append(state.Positions, p)
	}
	if pnlFound {
		state.DailyPnL = pnl.Amount
		state.LastSeenDate = pnl.AsOfDate
	}

	found := len(orders) > 0 || len(positions) > 0 || pnlFound
	return state, found, nil
}

// SaveDailyPnL upserts just the daily total; used by the accumulator on
// every change without rewriting the whole snapshot.
func (s *StateDB) SaveDailyPnL(amount float64, asOfDate string) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&pnlRow{Account: s.account, Amount: amount, AsOfDate: asOfDate}).Error
}
