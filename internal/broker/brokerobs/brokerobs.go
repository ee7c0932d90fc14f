package brokerobs

import (
	"context"

	"github.com/cap0y/kiumauto-sub000/internal/interfaces"
	"github.com/cap0y/kiumauto-sub000/internal/logger"
	"github.com/cap0y/kiumauto-sub000/internal/trace"
	"github.com/cap0y/kiumauto-sub000/internal/types"
)

// observableBroker wraps a Broker with observability (logging & tracing)
type observableBroker struct {
	broker interfaces.Broker
}

// Compile-time interface check
var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{
		broker: broker,
	}
}

// PlaceOrder places an order with observability
func (ob *observableBroker) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty,
		"price", req.Price,
		"market", req.Market,
	)

	resp, err := ob.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"qty", req.Qty,
		)
		return types.OrderResponse{}, err
	}

	logger.InfoSkip(ctx, 1, "Order placed successfully",
		"symbol", req.Symbol,
		"order_id", resp.OrderID,
		"status", resp.Status,
	)
	return resp, nil
}

// OrderHistory fetches the order snapshot with observability
func (ob *observableBroker) OrderHistory(ctx context.Context) ([]types.BrokerOrder, error) {
	ctx, span := trace.StartSpan(ctx, "broker.OrderHistory")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching order history")

	orders, err := ob.broker.OrderHistory(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch order history", err)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Order history fetched successfully", "count", len(orders))
	return orders, nil
}

// Balance fetches the holdings snapshot with observability
func (ob *observableBroker) Balance(ctx context.Context) ([]types.Holding, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Balance")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching balance")

	holdings, err := ob.broker.Balance(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch balance", err)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Balance fetched successfully", "holdings", len(holdings))
	return holdings, nil
}
