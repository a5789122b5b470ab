// Package portfolio provides the simulated portfolio used by the fund engine.
package portfolio

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Portfolio tracks cash and positions for one tradable book. All state is
// mutated only from the engine's dispatch loop, so no locking is required.
//
// Market events mark positions and extend the bar history that strategies
// read; signal events are sized into orders pushed back onto the queue; fill
// events settle cash and positions; the post-period hook records an equity
// curve point.
type Portfolio struct {
	logger *zap.Logger
	queue  *fund.Queue
	cfg    types.PortfolioConfig

	cash        decimal.Decimal
	positions   map[string]*types.Position
	lastPrices  map[string]decimal.Decimal
	history     map[string][]types.OHLCV
	realizedPnL decimal.Decimal
	peakEquity  decimal.Decimal
	equityCurve []types.EquityCurvePoint
	lastBarTime time.Time
}

// New creates a portfolio backed by the shared event queue.
func New(logger *zap.Logger, queue *fund.Queue, cfg types.PortfolioConfig) *Portfolio {
	return &Portfolio{
		logger:     logger,
		queue:      queue,
		cfg:        cfg,
		cash:       cfg.InitialCapital,
		positions:  make(map[string]*types.Position),
		lastPrices: make(map[string]decimal.Decimal),
		history:    make(map[string][]types.OHLCV),
		peakEquity: cfg.InitialCapital,
	}
}

// PortfolioID returns the identifier signals and fills are routed by.
func (p *Portfolio) PortfolioID() string {
	return p.cfg.ID
}

// ProcessMarketEvent records the bar and marks any open position to the new
// close. It must run before the paired strategy generates signals for the
// same period.
func (p *Portfolio) ProcessMarketEvent(e *fund.MarketEvent) error {
	p.history[e.Symbol] = append(p.history[e.Symbol], e.Bar)
	p.lastPrices[e.Symbol] = e.Bar.Close
	p.lastBarTime = e.Bar.Timestamp

	if pos, ok := p.positions[e.Symbol]; ok {
		pos.CurrentPrice = e.Bar.Close
		pos.UnrealizedPnL = pos.Quantity.Mul(pos.CurrentPrice.Sub(pos.AvgPrice))
	}
	p.updatePeak()
	return nil
}

// ProcessSignalEvent sizes the signal into an order and pushes the order
// event back onto the queue for the execution handler.
func (p *Portfolio) ProcessSignalEvent(e *fund.SignalEvent) error {
	sig := e.Signal
	if sig.PortfolioID != p.cfg.ID {
		return fmt.Errorf("signal for portfolio %q delivered to %q", sig.PortfolioID, p.cfg.ID)
	}

	qty := p.sizeSignal(sig)
	if qty.IsZero() {
		p.logger.Debug("Signal skipped",
			zap.String("portfolioId", p.cfg.ID),
			zap.String("symbol", sig.Symbol),
			zap.String("side", string(sig.Side)),
		)
		return nil
	}

	order := types.Order{
		ID:          uuid.New().String(),
		PortfolioID: p.cfg.ID,
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Type:        types.OrderTypeMarket,
		Quantity:    qty,
		Price:       sig.Price,
		Status:      types.OrderStatusPending,
		CreatedAt:   sig.CreatedAt,
		UpdatedAt:   sig.CreatedAt,
	}
	p.queue.Push(&fund.OrderEvent{Order: order})

	p.logger.Debug("Order placed",
		zap.String("portfolioId", p.cfg.ID),
		zap.String("orderId", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()),
	)
	return nil
}

// ProcessFillEvent settles an executed order against cash and positions.
func (p *Portfolio) ProcessFillEvent(e *fund.FillEvent) error {
	fill := e.Fill
	if fill.PortfolioID != p.cfg.ID {
		return fmt.Errorf("fill for portfolio %q delivered to %q", fill.PortfolioID, p.cfg.ID)
	}

	switch fill.Side {
	case types.OrderSideBuy:
		p.buy(fill)
	case types.OrderSideSell:
		pnl := p.sell(fill)
		p.realizedPnL = p.realizedPnL.Add(pnl)
	default:
		return fmt.Errorf("fill %q has invalid side %q", fill.OrderID, fill.Side)
	}
	p.updatePeak()
	return nil
}

// ProcessPostEvents runs once per period after the queue has drained; every
// event chain the period spawned has settled by the time it is called.
func (p *Portfolio) ProcessPostEvents() error {
	ts := p.lastBarTime
	if ts.IsZero() {
		ts = time.Now()
	}
	p.equityCurve = append(p.equityCurve, types.EquityCurvePoint{
		Timestamp: ts,
		Equity:    p.equity(),
		Cash:      p.cash,
		Drawdown:  p.drawdown(),
	})
	return nil
}

// State returns a snapshot for observability. Positions are copied so the
// snapshot stays stable after the engine moves on.
func (p *Portfolio) State() types.PortfolioState {
	positions := make(map[string]*types.Position, len(p.positions))
	for sym, pos := range p.positions {
		cp := *pos
		positions[sym] = &cp
	}
	return types.PortfolioState{
		PortfolioID: p.cfg.ID,
		Cash:        p.cash,
		Equity:      p.equity(),
		Positions:   positions,
		RealizedPnL: p.realizedPnL,
		Drawdown:    p.drawdown(),
		UpdatedAt:   p.lastBarTime,
	}
}

// History returns the bars seen so far for a symbol, oldest first. Strategies
// read this to compute indicators.
func (p *Portfolio) History(symbol string) []types.OHLCV {
	return p.history[symbol]
}

// Position returns the open position for a symbol, or nil.
func (p *Portfolio) Position(symbol string) *types.Position {
	if pos, ok := p.positions[symbol]; ok {
		cp := *pos
		return &cp
	}
	return nil
}

// EquityCurve returns the per-period equity points recorded so far.
func (p *Portfolio) EquityCurve() []types.EquityCurvePoint {
	curve := make([]types.EquityCurvePoint, len(p.equityCurve))
	copy(curve, p.equityCurve)
	return curve
}

// costReserve is the fraction of cash a cash-capped buy may spend. The fill
// settles at the order notional plus commission and slippage, so sizing to
// the full cash balance would overdraw it.
var costReserve = decimal.NewFromFloat(0.995)

// sizeSignal converts a signal into an order quantity. Buys use fixed
// fractional sizing scaled by signal strength and capped by available cash
// less a cost reserve; sells close the full open position.
func (p *Portfolio) sizeSignal(sig types.Signal) decimal.Decimal {
	if sig.Side == types.OrderSideSell {
		pos, ok := p.positions[sig.Symbol]
		if !ok || pos.Quantity.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero
		}
		// Rebalance signals trim a fraction of the position given by the
		// signal strength; plain exits close it entirely.
		if sig.Type == types.SignalTypeRebalance && sig.Strength.GreaterThan(decimal.Zero) && sig.Strength.LessThan(decimal.NewFromInt(1)) {
			return pos.Quantity.Mul(sig.Strength)
		}
		return pos.Quantity
	}

	if sig.Price.IsZero() {
		return decimal.Zero
	}
	strength := sig.Strength
	if strength.IsZero() {
		strength = decimal.NewFromInt(1)
	}
	notional := p.equity().Mul(p.cfg.MaxPositionSize).Mul(strength)
	if maxSpend := p.cash.Mul(costReserve); notional.GreaterThan(maxSpend) {
		notional = maxSpend
	}
	if notional.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return notional.Div(sig.Price)
}

func (p *Portfolio) buy(fill types.Fill) {
	cost := fill.Quantity.Mul(fill.Price).Add(fill.Commission)
	p.cash = p.cash.Sub(cost)

	if pos, ok := p.positions[fill.Symbol]; ok {
		totalQty := pos.Quantity.Add(fill.Quantity)
		totalCost := pos.Quantity.Mul(pos.AvgPrice).Add(fill.Quantity.Mul(fill.Price))
		pos.AvgPrice = totalCost.Div(totalQty)
		pos.Quantity = totalQty
		pos.CurrentPrice = fill.Price
		pos.Trades++
	} else {
		p.positions[fill.Symbol] = &types.Position{
			Symbol:       fill.Symbol,
			Quantity:     fill.Quantity,
			AvgPrice:     fill.Price,
			CurrentPrice: fill.Price,
			OpenedAt:     fill.FilledAt,
			Trades:       1,
		}
	}
}

func (p *Portfolio) sell(fill types.Fill) decimal.Decimal {
	pos, ok := p.positions[fill.Symbol]
	if !ok {
		p.logger.Warn("Fill for unknown position",
			zap.String("portfolioId", p.cfg.ID),
			zap.String("symbol", fill.Symbol),
		)
		return decimal.Zero
	}

	sellValue := fill.Quantity.Mul(fill.Price)
	costBasis := fill.Quantity.Mul(pos.AvgPrice)
	pnl := sellValue.Sub(costBasis).Sub(fill.Commission)

	p.cash = p.cash.Add(sellValue).Sub(fill.Commission)
	pos.Quantity = pos.Quantity.Sub(fill.Quantity)
	pos.Trades++
	if pos.Quantity.LessThanOrEqual(decimal.Zero) {
		delete(p.positions, fill.Symbol)
	}
	return pnl
}

func (p *Portfolio) equity() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	return equity
}

func (p *Portfolio) drawdown() decimal.Decimal {
	if p.peakEquity.IsZero() {
		return decimal.Zero
	}
	return p.peakEquity.Sub(p.equity()).Div(p.peakEquity)
}

func (p *Portfolio) updatePeak() {
	if eq := p.equity(); eq.GreaterThan(p.peakEquity) {
		p.peakEquity = eq
	}
}
