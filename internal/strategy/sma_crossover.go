package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/internal/portfolio"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SMACrossover signals entries when the short moving average crosses above
// the long one and exits on the opposite cross. It reads the bar history its
// portfolio accumulated during market-event processing, which is why
// portfolio updates must precede signal generation within a period.
type SMACrossover struct {
	logger  *zap.Logger
	queue   *fund.Queue
	p       *portfolio.Portfolio
	symbols []string
	short   int
	long    int
}

// NewSMACrossover builds the strategy. Recognized params: "symbols"
// ([]string), "short" (int, default 10), "long" (int, default 30).
func NewSMACrossover(logger *zap.Logger, queue *fund.Queue, p *portfolio.Portfolio, params map[string]any) (fund.Strategy, error) {
	s := &SMACrossover{
		logger: logger,
		queue:  queue,
		p:      p,
		short:  10,
		long:   30,
	}
	if v, ok := params["symbols"].([]string); ok {
		s.symbols = v
	}
	if v, ok := params["short"].(int); ok {
		s.short = v
	}
	if v, ok := params["long"].(int); ok {
		s.long = v
	}
	if s.short <= 0 || s.long <= s.short {
		return nil, fmt.Errorf("invalid sma windows short=%d long=%d", s.short, s.long)
	}
	if len(s.symbols) == 0 {
		return nil, fmt.Errorf("sma_crossover requires at least one symbol")
	}
	return s, nil
}

// GenerateSignals pushes at most one signal event per symbol per period.
func (s *SMACrossover) GenerateSignals() error {
	for _, symbol := range s.symbols {
		bars := s.p.History(symbol)
		if len(bars) < s.long+1 {
			continue
		}

		shortNow := sma(bars, s.short, 0)
		longNow := sma(bars, s.long, 0)
		shortPrev := sma(bars, s.short, 1)
		longPrev := sma(bars, s.long, 1)

		last := bars[len(bars)-1]
		pos := s.p.Position(symbol)

		crossedUp := shortPrev.LessThanOrEqual(longPrev) && shortNow.GreaterThan(longNow)
		crossedDown := shortPrev.GreaterThanOrEqual(longPrev) && shortNow.LessThan(longNow)

		switch {
		case crossedUp && pos == nil:
			s.push(symbol, types.SignalTypeEntry, types.OrderSideBuy, last.Close, last.Timestamp)
		case crossedDown && pos != nil:
			s.push(symbol, types.SignalTypeExit, types.OrderSideSell, last.Close, last.Timestamp)
		}
	}
	return nil
}

func (s *SMACrossover) push(symbol string, sigType types.SignalType, side types.OrderSide, price decimal.Decimal, ts time.Time) {
	sig := types.Signal{
		ID:          uuid.New().String(),
		PortfolioID: s.p.PortfolioID(),
		Symbol:      symbol,
		Type:        sigType,
		Side:        side,
		Price:       price,
		Strength:    decimal.NewFromInt(1),
		CreatedAt:   ts,
	}
	s.queue.Push(&fund.SignalEvent{Signal: sig})
	s.logger.Debug("Signal generated",
		zap.String("portfolioId", sig.PortfolioID),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
	)
}

// sma averages the closes of the window ending `offset` bars from the end.
func sma(bars []types.OHLCV, window, offset int) decimal.Decimal {
	end := len(bars) - offset
	start := end - window
	if start < 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, bar := range bars[start:end] {
		sum = sum.Add(bar.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(window)))
}
