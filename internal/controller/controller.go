// Package controller provides the fund controller that owns the
// (strategy, portfolio) pairs and performs scheduled fund-level actions.
package controller

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SchedulePolicy decides when the fund enqueues rebalance and management
// events. Cadence is a policy, not a fixed rule: calendar-based, period-count
// or anything else can sit behind this interface.
type SchedulePolicy interface {
	RebalanceDue(period int, ts time.Time) bool
	ManagementDue(period int, ts time.Time) bool
}

// IntervalPolicy schedules actions every fixed number of completed periods.
// A zero interval disables the action.
type IntervalPolicy struct {
	RebalanceEvery  int
	ManagementEvery int
}

// RebalanceDue reports whether a rebalance falls on this period.
func (p IntervalPolicy) RebalanceDue(period int, ts time.Time) bool {
	return p.RebalanceEvery > 0 && period > 0 && period%p.RebalanceEvery == 0
}

// ManagementDue reports whether a management action falls on this period.
func (p IntervalPolicy) ManagementDue(period int, ts time.Time) bool {
	return p.ManagementEvery > 0 && period > 0 && period%p.ManagementEvery == 0
}

// Controller owns parallel, index-aligned portfolio and strategy lists and
// reacts to market events for administrative purposes: counting periods and
// enqueueing rebalance/management events when the schedule policy says so.
type Controller struct {
	logger *zap.Logger
	queue  *fund.Queue
	cfg    types.ControllerConfig
	policy SchedulePolicy

	portfolios []fund.Portfolio
	strategies []fund.Strategy

	period      int
	lastBarTime time.Time
}

// New creates a controller. Portfolios and strategies must be index-aligned:
// strategies[i] trades for portfolios[i].
func New(logger *zap.Logger, queue *fund.Queue, cfg types.ControllerConfig, policy SchedulePolicy) *Controller {
	if policy == nil {
		policy = IntervalPolicy{
			RebalanceEvery:  cfg.RebalanceEvery,
			ManagementEvery: cfg.ManagementEvery,
		}
	}
	return &Controller{
		logger: logger,
		queue:  queue,
		cfg:    cfg,
		policy: policy,
	}
}

// AddPair registers one (portfolio, strategy) pair in registration order.
func (c *Controller) AddPair(p fund.Portfolio, s fund.Strategy) {
	c.portfolios = append(c.portfolios, p)
	c.strategies = append(c.strategies, s)
}

// Portfolios returns the registered portfolios in registration order.
func (c *Controller) Portfolios() []fund.Portfolio {
	return c.portfolios
}

// Strategies returns the registered strategies, index-aligned with Portfolios.
func (c *Controller) Strategies() []fund.Strategy {
	return c.strategies
}

// ProcessMarketEvent counts periods and enqueues scheduled events. Several
// market events share one period (one per symbol), so a new period is only
// counted when the bar timestamp advances.
func (c *Controller) ProcessMarketEvent(e *fund.MarketEvent) error {
	if e.Bar.Timestamp.Equal(c.lastBarTime) {
		return nil
	}
	c.lastBarTime = e.Bar.Timestamp
	c.period++

	if c.policy.RebalanceDue(c.period, e.Bar.Timestamp) {
		c.queue.Push(&fund.RebalanceEvent{})
	}
	if c.policy.ManagementDue(c.period, e.Bar.Timestamp) {
		c.queue.Push(&fund.ManagementEvent{})
	}
	return nil
}

// Rebalance trims overweight positions back toward the target weight by
// enqueueing partial-exit signals, which flow through the normal signal ->
// order -> fill chain rather than mutating portfolios directly.
func (c *Controller) Rebalance() error {
	if c.cfg.TargetWeight.LessThanOrEqual(decimal.Zero) {
		c.logger.Debug("Rebalance skipped: no target weight configured")
		return nil
	}
	limit := c.cfg.TargetWeight.Add(c.cfg.DriftThreshold)

	for _, p := range c.portfolios {
		state := p.State()
		if state.Equity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		// Iterate in symbol order so the same backtest enqueues the same
		// trim signals in the same sequence on every run.
		symbols := make([]string, 0, len(state.Positions))
		for symbol := range state.Positions {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)

		for _, symbol := range symbols {
			pos := state.Positions[symbol]
			value := pos.Quantity.Mul(pos.CurrentPrice)
			weight := value.Div(state.Equity)
			if weight.LessThanOrEqual(limit) {
				continue
			}

			excess := weight.Sub(c.cfg.TargetWeight).Div(weight)
			c.queue.Push(&fund.SignalEvent{Signal: types.Signal{
				ID:          uuid.New().String(),
				PortfolioID: state.PortfolioID,
				Symbol:      symbol,
				Type:        types.SignalTypeRebalance,
				Side:        types.OrderSideSell,
				Price:       pos.CurrentPrice,
				Strength:    excess,
				CreatedAt:   c.lastBarTime,
			}})

			c.logger.Info("Rebalance trim",
				zap.String("portfolioId", state.PortfolioID),
				zap.String("symbol", symbol),
				zap.String("weight", weight.String()),
				zap.String("target", c.cfg.TargetWeight.String()),
			)
		}
	}
	return nil
}

// Manage performs administrative, non-trading bookkeeping for the fund.
func (c *Controller) Manage() error {
	totalEquity := decimal.Zero
	totalCash := decimal.Zero
	for _, p := range c.portfolios {
		state := p.State()
		totalEquity = totalEquity.Add(state.Equity)
		totalCash = totalCash.Add(state.Cash)
	}
	c.logger.Info("Management report",
		zap.Int("period", c.period),
		zap.Int("portfolios", len(c.portfolios)),
		zap.String("totalEquity", totalEquity.String()),
		zap.String("totalCash", totalCash.String()),
	)
	return nil
}

// Period returns the number of distinct bar timestamps seen so far.
func (c *Controller) Period() int {
	return c.period
}

// String describes the controller for diagnostics.
func (c *Controller) String() string {
	return fmt.Sprintf("controller(%d pairs, period %d)", len(c.portfolios), c.period)
}
