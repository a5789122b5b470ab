package controller_test

import (
	"testing"
	"time"

	"github.com/meridian-capital/fund-engine/internal/controller"
	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// stubPortfolio serves a fixed state snapshot.
type stubPortfolio struct {
	id    string
	state types.PortfolioState
}

func (p *stubPortfolio) PortfolioID() string { return p.id }

func (p *stubPortfolio) ProcessMarketEvent(*fund.MarketEvent) error { return nil }

func (p *stubPortfolio) ProcessSignalEvent(*fund.SignalEvent) error { return nil }

func (p *stubPortfolio) ProcessFillEvent(*fund.FillEvent) error { return nil }

func (p *stubPortfolio) ProcessPostEvents() error { return nil }

func (p *stubPortfolio) State() types.PortfolioState { return p.state }

type stubStrategy struct{}

func (stubStrategy) GenerateSignals() error { return nil }

func bar(ts time.Time) *fund.MarketEvent {
	return &fund.MarketEvent{Symbol: "BTC-USD", Bar: types.OHLCV{Timestamp: ts}}
}

func TestPeriodCountsDistinctTimestamps(t *testing.T) {
	queue := fund.NewQueue()
	c := controller.New(zap.NewNop(), queue, types.ControllerConfig{}, nil)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Two symbols share the same bar timestamp within a period.
	for _, e := range []*fund.MarketEvent{bar(ts), bar(ts), bar(ts.AddDate(0, 0, 1))} {
		if err := c.ProcessMarketEvent(e); err != nil {
			t.Fatalf("ProcessMarketEvent failed: %v", err)
		}
	}

	if c.Period() != 2 {
		t.Errorf("Expected 2 periods, got %d", c.Period())
	}
}

func TestIntervalPolicySchedules(t *testing.T) {
	queue := fund.NewQueue()
	c := controller.New(zap.NewNop(), queue, types.ControllerConfig{
		RebalanceEvery:  2,
		ManagementEvery: 3,
	}, nil)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var rebalances, managements int
	for i := 0; i < 6; i++ {
		if err := c.ProcessMarketEvent(bar(ts.AddDate(0, 0, i))); err != nil {
			t.Fatalf("ProcessMarketEvent failed: %v", err)
		}
		for {
			e, ok := queue.Pop()
			if !ok {
				break
			}
			switch e.Kind() {
			case fund.KindRebalance:
				rebalances++
			case fund.KindManagement:
				managements++
			default:
				t.Errorf("Unexpected event kind %s", e.Kind())
			}
		}
	}

	if rebalances != 3 { // periods 2, 4, 6
		t.Errorf("Expected 3 rebalance events, got %d", rebalances)
	}
	if managements != 2 { // periods 3, 6
		t.Errorf("Expected 2 management events, got %d", managements)
	}
}

func TestZeroIntervalDisablesScheduling(t *testing.T) {
	queue := fund.NewQueue()
	c := controller.New(zap.NewNop(), queue, types.ControllerConfig{}, nil)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		if err := c.ProcessMarketEvent(bar(ts.AddDate(0, 0, i))); err != nil {
			t.Fatalf("ProcessMarketEvent failed: %v", err)
		}
	}
	if queue.Len() != 0 {
		t.Errorf("Expected no scheduled events, queue has %d", queue.Len())
	}
}

func TestRebalanceTrimsOverweightPosition(t *testing.T) {
	queue := fund.NewQueue()
	c := controller.New(zap.NewNop(), queue, types.ControllerConfig{
		TargetWeight:   decimal.NewFromFloat(0.1),
		DriftThreshold: decimal.NewFromFloat(0.02),
	}, nil)

	// Position worth 20000 of 100000 equity is 20% against a 10% target.
	c.AddPair(&stubPortfolio{id: "p1", state: types.PortfolioState{
		PortfolioID: "p1",
		Cash:        decimal.NewFromInt(80000),
		Equity:      decimal.NewFromInt(100000),
		Positions: map[string]*types.Position{
			"BTC-USD": {
				Symbol:       "BTC-USD",
				Quantity:     decimal.NewFromInt(20),
				CurrentPrice: decimal.NewFromInt(1000),
			},
		},
	}}, stubStrategy{})

	if err := c.Rebalance(); err != nil {
		t.Fatalf("Rebalance failed: %v", err)
	}

	e, ok := queue.Pop()
	if !ok {
		t.Fatal("Expected a rebalance signal on the queue")
	}
	sig := e.(*fund.SignalEvent).Signal
	if sig.Type != types.SignalTypeRebalance || sig.Side != types.OrderSideSell {
		t.Errorf("Expected a rebalance sell signal, got %+v", sig)
	}
	// Excess weight fraction: (0.2 - 0.1) / 0.2 = 0.5.
	if !sig.Strength.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("Expected strength 0.5, got %s", sig.Strength)
	}
	if sig.PortfolioID != "p1" || sig.Symbol != "BTC-USD" {
		t.Errorf("Signal misaddressed: %+v", sig)
	}
}

func TestRebalanceOrderIsDeterministic(t *testing.T) {
	// Both positions are overweight; the trim signals must come out in
	// symbol order regardless of map iteration.
	state := types.PortfolioState{
		PortfolioID: "p1",
		Equity:      decimal.NewFromInt(100000),
		Positions: map[string]*types.Position{
			"ETH-USD": {
				Symbol:       "ETH-USD",
				Quantity:     decimal.NewFromInt(20),
				CurrentPrice: decimal.NewFromInt(1000),
			},
			"BTC-USD": {
				Symbol:       "BTC-USD",
				Quantity:     decimal.NewFromInt(25),
				CurrentPrice: decimal.NewFromInt(1000),
			},
		},
	}

	for run := 0; run < 5; run++ {
		queue := fund.NewQueue()
		c := controller.New(zap.NewNop(), queue, types.ControllerConfig{
			TargetWeight:   decimal.NewFromFloat(0.1),
			DriftThreshold: decimal.NewFromFloat(0.02),
		}, nil)
		c.AddPair(&stubPortfolio{id: "p1", state: state}, stubStrategy{})

		if err := c.Rebalance(); err != nil {
			t.Fatalf("Rebalance failed: %v", err)
		}

		var symbols []string
		for {
			e, ok := queue.Pop()
			if !ok {
				break
			}
			symbols = append(symbols, e.(*fund.SignalEvent).Signal.Symbol)
		}
		if len(symbols) != 2 || symbols[0] != "BTC-USD" || symbols[1] != "ETH-USD" {
			t.Fatalf("Run %d: expected [BTC-USD ETH-USD], got %v", run, symbols)
		}
	}
}

func TestRebalanceWithinDriftIsQuiet(t *testing.T) {
	queue := fund.NewQueue()
	c := controller.New(zap.NewNop(), queue, types.ControllerConfig{
		TargetWeight:   decimal.NewFromFloat(0.1),
		DriftThreshold: decimal.NewFromFloat(0.02),
	}, nil)

	// 11% weight is inside the 12% limit.
	c.AddPair(&stubPortfolio{id: "p1", state: types.PortfolioState{
		PortfolioID: "p1",
		Equity:      decimal.NewFromInt(100000),
		Positions: map[string]*types.Position{
			"BTC-USD": {
				Symbol:       "BTC-USD",
				Quantity:     decimal.NewFromInt(11),
				CurrentPrice: decimal.NewFromInt(1000),
			},
		},
	}}, stubStrategy{})

	if err := c.Rebalance(); err != nil {
		t.Fatalf("Rebalance failed: %v", err)
	}
	if queue.Len() != 0 {
		t.Errorf("Expected no signal within the drift band, queue has %d", queue.Len())
	}
}

func TestRebalanceWithoutTargetIsNoop(t *testing.T) {
	queue := fund.NewQueue()
	c := controller.New(zap.NewNop(), queue, types.ControllerConfig{}, nil)
	c.AddPair(&stubPortfolio{id: "p1", state: types.PortfolioState{
		PortfolioID: "p1",
		Equity:      decimal.NewFromInt(100000),
	}}, stubStrategy{})

	if err := c.Rebalance(); err != nil {
		t.Fatalf("Rebalance failed: %v", err)
	}
	if queue.Len() != 0 {
		t.Errorf("Expected no signals without a target weight, queue has %d", queue.Len())
	}
}

func TestPairsStayAligned(t *testing.T) {
	queue := fund.NewQueue()
	c := controller.New(zap.NewNop(), queue, types.ControllerConfig{}, nil)

	c.AddPair(&stubPortfolio{id: "p1"}, stubStrategy{})
	c.AddPair(&stubPortfolio{id: "p2"}, stubStrategy{})

	ports := c.Portfolios()
	strats := c.Strategies()
	if len(ports) != 2 || len(strats) != 2 {
		t.Fatalf("Expected 2 aligned pairs, got %d portfolios, %d strategies", len(ports), len(strats))
	}
	if ports[0].PortfolioID() != "p1" || ports[1].PortfolioID() != "p2" {
		t.Error("Portfolios out of registration order")
	}
}
