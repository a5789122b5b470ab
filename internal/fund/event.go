// Package fund provides the core event-driven control loop that sequences
// market data, signal generation, order placement, and fill settlement for a
// collection of portfolios.
package fund

import (
	"github.com/meridian-capital/fund-engine/pkg/types"
)

// Kind identifies the category of an event. It is fixed at creation and
// determines the dispatch branch and the verbosity threshold of the event.
type Kind string

const (
	KindMarket     Kind = "market"
	KindSignal     Kind = "signal"
	KindOrder      Kind = "order"
	KindFill       Kind = "fill"
	KindRebalance  Kind = "rebalance"
	KindManagement Kind = "management"
)

// Event is the interface satisfied by every event flowing through the queue.
// Events are produced by collaborators, dispatched exactly once by the engine,
// and discarded.
type Event interface {
	Kind() Kind
}

// MarketEvent carries one bar of market data for a single symbol.
type MarketEvent struct {
	Symbol string      `json:"symbol"`
	Bar    types.OHLCV `json:"bar"`
}

func (e *MarketEvent) Kind() Kind { return KindMarket }

// SignalEvent carries a trading signal addressed to one portfolio.
type SignalEvent struct {
	Signal types.Signal `json:"signal"`
}

func (e *SignalEvent) Kind() Kind { return KindSignal }

// PortfolioID identifies the portfolio that owns the signal.
func (e *SignalEvent) PortfolioID() string { return e.Signal.PortfolioID }

// OrderEvent carries an order to be executed.
type OrderEvent struct {
	Order types.Order `json:"order"`
}

func (e *OrderEvent) Kind() Kind { return KindOrder }

// FillEvent carries the result of an executed order back to its portfolio.
type FillEvent struct {
	Fill types.Fill `json:"fill"`
}

func (e *FillEvent) Kind() Kind { return KindFill }

// PortfolioID identifies the portfolio that owns the fill.
func (e *FillEvent) PortfolioID() string { return e.Fill.PortfolioID }

// RebalanceEvent instructs the fund controller to rebalance its portfolios.
type RebalanceEvent struct{}

func (e *RebalanceEvent) Kind() Kind { return KindRebalance }

// ManagementEvent instructs the fund controller to perform administrative,
// non-trading actions.
type ManagementEvent struct{}

func (e *ManagementEvent) Kind() Kind { return KindManagement }

// Verbosity thresholds. An event is emitted when its threshold is at or below
// the configured verbosity level, so administrative and fill events surface
// first as verbosity increases and per-bar market events last.
const (
	VerbosityFill       = 1
	VerbosityRebalance  = 1
	VerbosityManagement = 1
	VerbositySignal     = 2
	VerbosityOrder      = 2
	VerbosityPortfolio  = 2
	VerbosityMarket     = 3
)

var verbosityThresholds = map[Kind]int{
	KindMarket:     VerbosityMarket,
	KindSignal:     VerbositySignal,
	KindOrder:      VerbosityOrder,
	KindFill:       VerbosityFill,
	KindRebalance:  VerbosityRebalance,
	KindManagement: VerbosityManagement,
}

// Threshold returns the verbosity threshold for an event kind. Unknown kinds
// never qualify for emission.
func Threshold(k Kind) (int, bool) {
	t, ok := verbosityThresholds[k]
	return t, ok
}
