package fund

import (
	"github.com/meridian-capital/fund-engine/pkg/types"
	"go.uber.org/zap"
)

// Emitter receives verbosity-qualified events and portfolio state snapshots.
// Implementations must not block: emission happens inline on the engine's
// single thread of control.
type Emitter interface {
	EmitEvent(e Event)
	EmitPortfolio(state types.PortfolioState)
}

// logEmitter writes emissions to the structured log.
type logEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter returns the default emitter, which logs events and portfolio
// snapshots through zap.
func NewLogEmitter(logger *zap.Logger) Emitter {
	return &logEmitter{logger: logger}
}

func (l *logEmitter) EmitEvent(e Event) {
	l.logger.Info("Event",
		zap.String("kind", string(e.Kind())),
		zap.Any("event", e),
	)
}

func (l *logEmitter) EmitPortfolio(state types.PortfolioState) {
	l.logger.Info("Portfolio state",
		zap.String("portfolioId", state.PortfolioID),
		zap.String("cash", state.Cash.String()),
		zap.String("equity", state.Equity.String()),
		zap.Int("positions", len(state.Positions)),
	)
}

// multiEmitter fans emissions out to several emitters in order.
type multiEmitter struct {
	emitters []Emitter
}

// MultiEmitter combines emitters; each emission is delivered to all of them.
func MultiEmitter(emitters ...Emitter) Emitter {
	return &multiEmitter{emitters: emitters}
}

func (m *multiEmitter) EmitEvent(e Event) {
	for _, em := range m.emitters {
		em.EmitEvent(e)
	}
}

func (m *multiEmitter) EmitPortfolio(state types.PortfolioState) {
	for _, em := range m.emitters {
		em.EmitPortfolio(state)
	}
}
