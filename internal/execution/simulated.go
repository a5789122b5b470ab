// Package execution provides order execution for the fund engine.
package execution

import (
	"fmt"
	"time"

	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SlippageModel prices the cost of crossing the simulated book.
type SlippageModel interface {
	Calculate(order *types.Order) decimal.Decimal
}

// FixedSlippage applies a flat fraction of price on every marketable order.
type FixedSlippage struct {
	bps decimal.Decimal
}

// NewFixedSlippage creates a fixed slippage model from basis points.
func NewFixedSlippage(bps decimal.Decimal) *FixedSlippage {
	return &FixedSlippage{bps: bps}
}

// Calculate returns the slippage fraction.
func (f *FixedSlippage) Calculate(order *types.Order) decimal.Decimal {
	return f.bps.Div(decimal.NewFromInt(10000))
}

// Simulated is a synchronous simulated venue. Executing an order produces a
// fill event on the shared queue in the same dispatch, so order -> fill
// chains settle within the period that spawned them.
type Simulated struct {
	logger   *zap.Logger
	queue    *fund.Queue
	cfg      types.ExecutionConfig
	slippage SlippageModel

	filled   map[string]*types.Order
	rejected map[string]*types.Order
}

// NewSimulated creates the simulated execution handler.
func NewSimulated(logger *zap.Logger, queue *fund.Queue, cfg types.ExecutionConfig, slippage SlippageModel) *Simulated {
	if slippage == nil {
		slippage = NewFixedSlippage(cfg.SlippageBps)
	}
	return &Simulated{
		logger:   logger,
		queue:    queue,
		cfg:      cfg,
		slippage: slippage,
		filled:   make(map[string]*types.Order),
		rejected: make(map[string]*types.Order),
	}
}

// ExecuteOrder fills the order against its reference price and enqueues the
// resulting fill event. Market orders pay slippage; limit orders fill at
// their limit price. Orders the venue cannot fill are rejected, which is a
// venue outcome, not an engine error.
func (s *Simulated) ExecuteOrder(e *fund.OrderEvent) error {
	order := e.Order

	if order.Quantity.LessThanOrEqual(decimal.Zero) || order.Price.LessThanOrEqual(decimal.Zero) {
		s.reject(&order, "non-positive quantity or price")
		return nil
	}

	var fillPrice, slip decimal.Decimal
	switch order.Type {
	case types.OrderTypeMarket:
		slip = s.slippage.Calculate(&order)
		one := decimal.NewFromInt(1)
		if order.Side == types.OrderSideBuy {
			fillPrice = order.Price.Mul(one.Add(slip))
		} else {
			fillPrice = order.Price.Mul(one.Sub(slip))
		}
	case types.OrderTypeLimit:
		fillPrice = order.Price
		slip = decimal.Zero
	default:
		return fmt.Errorf("order %q has unsupported type %q", order.ID, order.Type)
	}

	commission := s.commission(order.Quantity, fillPrice)
	filledAt := order.CreatedAt
	if filledAt.IsZero() {
		filledAt = time.Now()
	}

	order.Status = types.OrderStatusFilled
	order.UpdatedAt = filledAt
	s.filled[order.ID] = &order

	s.queue.Push(&fund.FillEvent{Fill: types.Fill{
		OrderID:     order.ID,
		PortfolioID: order.PortfolioID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Price:       fillPrice,
		Commission:  commission,
		Slippage:    slip,
		FilledAt:    filledAt,
	}})

	s.logger.Debug("Order filled",
		zap.String("orderId", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("price", fillPrice.String()),
		zap.String("commission", commission.String()),
	)
	return nil
}

// FilledOrders returns a copy of the filled-order ledger.
func (s *Simulated) FilledOrders() []*types.Order {
	orders := make([]*types.Order, 0, len(s.filled))
	for _, o := range s.filled {
		cp := *o
		orders = append(orders, &cp)
	}
	return orders
}

// RejectedOrders returns a copy of the rejected-order ledger.
func (s *Simulated) RejectedOrders() []*types.Order {
	orders := make([]*types.Order, 0, len(s.rejected))
	for _, o := range s.rejected {
		cp := *o
		orders = append(orders, &cp)
	}
	return orders
}

func (s *Simulated) reject(order *types.Order, reason string) {
	order.Status = types.OrderStatusRejected
	s.rejected[order.ID] = order
	s.logger.Warn("Order rejected",
		zap.String("orderId", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("reason", reason),
	)
}

func (s *Simulated) commission(quantity, price decimal.Decimal) decimal.Decimal {
	c := quantity.Mul(price).Mul(s.cfg.CommissionRate)
	if c.LessThan(s.cfg.MinCommission) {
		return s.cfg.MinCommission
	}
	return c
}
