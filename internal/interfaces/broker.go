package interfaces

import (
	"context"

	"github.com/cap0y/kiumauto-sub000/internal/types"
)

// Broker is the order/balance surface of the brokerage. Implementations
// must honor context deadlines on every call; a timed-out PlaceOrder is an
// unknown outcome and is reconciled by the next snapshot pass, never
// retried by callers.
type Broker interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error)
	OrderHistory(ctx context.Context) ([]types.BrokerOrder, error)
	Balance(ctx context.Context) ([]types.Holding, error)
}
