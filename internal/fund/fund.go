package fund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-capital/fund-engine/internal/metrics"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"go.uber.org/zap"
)

// Fatal configuration errors. Both indicate a collaborator contract violation
// and abort the run immediately; neither is a transient condition.
var (
	// ErrInvalidEventKind is returned when a dequeued event matches no
	// dispatch branch.
	ErrInvalidEventKind = errors.New("invalid event kind")
	// ErrUnknownPortfolio is returned when a signal or fill event names a
	// portfolio id absent from the registry.
	ErrUnknownPortfolio = errors.New("unknown portfolio id")
)

// DataHandler supplies market data. RequestPrices enqueues zero or more
// market events onto the shared queue; ContinueTrading reports whether more
// data remains; Update rolls the historical record forward after a period's
// events have all been processed.
type DataHandler interface {
	Events() *Queue
	RequestPrices(ctx context.Context) error
	ContinueTrading() bool
	Update() error
}

// ExecutionHandler turns order events into fill events, synchronously or
// asynchronously, by enqueueing onto the shared queue.
type ExecutionHandler interface {
	ExecuteOrder(e *OrderEvent) error
}

// Portfolio reacts to market, signal, and fill events and to the post-period
// hook. Signals and fills are routed to it by portfolio id.
type Portfolio interface {
	PortfolioID() string
	ProcessMarketEvent(e *MarketEvent) error
	ProcessSignalEvent(e *SignalEvent) error
	ProcessFillEvent(e *FillEvent) error
	ProcessPostEvents() error
	State() types.PortfolioState
}

// Strategy generates signal events for its portfolio by pushing them onto the
// shared queue. Strategies and portfolios are parallel, index-aligned lists
// owned by the Controller.
type Strategy interface {
	GenerateSignals() error
}

// Controller owns the (strategy, portfolio) pairs and performs scheduled
// rebalance and management actions on the level of the whole fund.
type Controller interface {
	Portfolios() []Portfolio
	Strategies() []Strategy
	ProcessMarketEvent(e *MarketEvent) error
	Rebalance() error
	Manage() error
}

// Fund sequences trading for either a backtest or a live environment. It
// streams events off the data handler's queue and dispatches them in strict
// FIFO arrival order, so that signal events are generated, order events are
// placed, and fill events are settled against the most recent market data.
//
// The loop is strictly sequential: no event is dispatched concurrently with
// another and no collaborator call overlaps another, which is what lets the
// portfolios mutate state without any locking discipline. A collaborator that
// never returns stalls the engine; there is no per-event timeout.
type Fund struct {
	logger     *zap.Logger
	data       DataHandler
	execution  ExecutionHandler
	controller Controller
	delay      time.Duration
	verbosity  int

	emitter Emitter
	metrics *metrics.FundMetrics
}

// New creates a fund engine from its collaborators. Delay must be
// non-negative; it paces how often new data is requested and must not be used
// to enforce ordering, which the queue guarantees independently of timing.
func New(logger *zap.Logger, data DataHandler, execution ExecutionHandler, controller Controller, cfg types.FundConfig) (*Fund, error) {
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("negative delay %v", cfg.Delay)
	}
	return &Fund{
		logger:     logger,
		data:       data,
		execution:  execution,
		controller: controller,
		delay:      cfg.Delay,
		verbosity:  cfg.Verbosity,
		emitter:    NewLogEmitter(logger),
	}, nil
}

// SetEmitter replaces the default log-backed emitter. Emission is a pure
// observability side effect with no semantic impact on the run.
func (f *Fund) SetEmitter(e Emitter) {
	if e != nil {
		f.emitter = e
	}
}

// SetMetrics attaches prometheus instrumentation to the loop.
func (f *Fund) SetMetrics(m *metrics.FundMetrics) {
	f.metrics = m
}

// Run trades until the data handler reports that data has been exhausted,
// the context is cancelled, or a fatal error occurs. Cancellation is
// cooperative and checked once per period, never mid-event.
//
// Each period requests new prices, drains the queue completely (so that
// every event chain spawned within the period settles before the period
// closes), runs the post-period hooks, and then pauses for the pacing delay.
func (f *Fund) Run(ctx context.Context) error {
	registry, err := f.buildRegistry()
	if err != nil {
		return err
	}
	queue := f.data.Events()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := f.data.RequestPrices(ctx); err != nil {
			return fmt.Errorf("request prices: %w", err)
		}
		if !f.data.ContinueTrading() {
			f.logger.Info("Data exhausted, trading complete")
			return nil
		}

		drained := 0
		for {
			e, ok := queue.Pop()
			if !ok {
				break
			}
			if err := f.dispatch(e, registry); err != nil {
				return err
			}
			drained++
			f.metrics.EventDispatched(string(e.Kind()))
			if t, ok := Threshold(e.Kind()); ok && t <= f.verbosity {
				f.emitter.EmitEvent(e)
			}
		}
		f.metrics.PeriodDrained(drained)

		// The queue is empty for this period, not permanently: more market
		// events may arrive next period.
		for _, p := range f.controller.Portfolios() {
			if err := p.ProcessPostEvents(); err != nil {
				return fmt.Errorf("post events for portfolio %q: %w", p.PortfolioID(), err)
			}
			if VerbosityPortfolio <= f.verbosity {
				f.emitter.EmitPortfolio(p.State())
			}
		}
		if err := f.data.Update(); err != nil {
			return fmt.Errorf("update data handler: %w", err)
		}
		f.metrics.PeriodCompleted()

		if f.delay > 0 {
			time.Sleep(f.delay)
		}
	}
}

// buildRegistry maps portfolio ids to portfolios from the controller's
// current lists. It is built once per run; a changed portfolio list requires
// a new run.
func (f *Fund) buildRegistry() (map[string]Portfolio, error) {
	ports := f.controller.Portfolios()
	strats := f.controller.Strategies()
	if len(ports) != len(strats) {
		return nil, fmt.Errorf("misaligned controller lists: %d portfolios, %d strategies", len(ports), len(strats))
	}

	registry := make(map[string]Portfolio, len(ports))
	for _, p := range ports {
		id := p.PortfolioID()
		if id == "" {
			return nil, errors.New("portfolio with empty id")
		}
		if _, dup := registry[id]; dup {
			return nil, fmt.Errorf("duplicate portfolio id %q", id)
		}
		registry[id] = p
	}
	return registry, nil
}

// dispatch routes one dequeued event to the collaborator responsible for its
// kind. Every event reaches exactly one handler or causes a fatal error.
func (f *Fund) dispatch(e Event, registry map[string]Portfolio) error {
	switch ev := e.(type) {
	case *MarketEvent:
		// The strategies may make use of holdings information, so each
		// portfolio must be updated before its strategy generates signals.
		ports := f.controller.Portfolios()
		strats := f.controller.Strategies()
		for i, p := range ports {
			if err := p.ProcessMarketEvent(ev); err != nil {
				return fmt.Errorf("market event for portfolio %q: %w", p.PortfolioID(), err)
			}
			if err := strats[i].GenerateSignals(); err != nil {
				return fmt.Errorf("generate signals for portfolio %q: %w", p.PortfolioID(), err)
			}
		}
		if err := f.controller.ProcessMarketEvent(ev); err != nil {
			return fmt.Errorf("controller market event: %w", err)
		}
		return nil

	case *SignalEvent:
		p, ok := registry[ev.PortfolioID()]
		if !ok {
			return fmt.Errorf("%w: %q on signal event", ErrUnknownPortfolio, ev.PortfolioID())
		}
		return p.ProcessSignalEvent(ev)

	case *OrderEvent:
		return f.execution.ExecuteOrder(ev)

	case *FillEvent:
		p, ok := registry[ev.PortfolioID()]
		if !ok {
			return fmt.Errorf("%w: %q on fill event", ErrUnknownPortfolio, ev.PortfolioID())
		}
		return p.ProcessFillEvent(ev)

	case *RebalanceEvent:
		return f.controller.Rebalance()

	case *ManagementEvent:
		return f.controller.Manage()

	default:
		// The type switch is exhaustive over the kinds this package defines;
		// this branch catches foreign Event implementations.
		return fmt.Errorf("%w: %T", ErrInvalidEventKind, e)
	}
}
