package types

import (
	"errors"
	"fmt"
)

// Broker and reconciliation failures are classified so the controller can
// decide between skip, backoff, and permanent restriction without parsing
// message strings at call sites.
var (
	// ErrRateLimited triggers backoff and a cycle-skip, never a cycle abort.
	ErrRateLimited = errors.New("rate limited by broker")
	// ErrInsufficientFunds skips the symbol for this cycle, no retry.
	ErrInsufficientFunds = errors.New("insufficient buying power")
	// ErrInstrumentRestricted marks the symbol restricted for the session.
	ErrInstrumentRestricted = errors.New("instrument restricted")
	// ErrDataIncomplete defers P&L aggregation until reconciliation resolves
	// the missing link.
	ErrDataIncomplete = errors.New("data incomplete")
)

// TransientError wraps a network failure that is retryable for reads and
// never for order submission.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient network failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// InvariantViolation records ledger state that should be impossible, e.g.
// two orders claiming the same broker id with conflicting quantities. It is
// logged at the highest severity and must never corrupt the ledger or crash
// the process.
type InvariantViolation struct {
	OrderID string
	Detail  string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation on order %s: %s", e.OrderID, e.Detail)
}
