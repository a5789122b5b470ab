package strategy_test

import (
	"testing"
	"time"

	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/internal/portfolio"
	"github.com/meridian-capital/fund-engine/internal/strategy"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newFixture(t *testing.T) (*fund.Queue, *portfolio.Portfolio, fund.Strategy) {
	t.Helper()
	queue := fund.NewQueue()
	p := portfolio.New(zap.NewNop(), queue, types.PortfolioConfig{
		ID:              "p1",
		InitialCapital:  decimal.NewFromInt(100000),
		MaxPositionSize: decimal.NewFromFloat(0.1),
	})
	s, err := strategy.NewSMACrossover(zap.NewNop(), queue, p, map[string]any{
		"symbols": []string{"BTC-USD"},
		"short":   2,
		"long":    3,
	})
	if err != nil {
		t.Fatalf("NewSMACrossover failed: %v", err)
	}
	return queue, p, s
}

func feedBars(t *testing.T, p *portfolio.Portfolio, closes ...float64) {
	t.Helper()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, close := range closes {
		c := decimal.NewFromFloat(close)
		err := p.ProcessMarketEvent(&fund.MarketEvent{Symbol: "BTC-USD", Bar: types.OHLCV{
			Timestamp: ts.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    decimal.NewFromInt(1000),
		}})
		if err != nil {
			t.Fatalf("Market event failed: %v", err)
		}
	}
}

func TestCrossUpGeneratesEntry(t *testing.T) {
	queue, p, s := newFixture(t)

	// Short SMA below the long one yesterday, above it today.
	feedBars(t, p, 100, 90, 80, 120)

	if err := s.GenerateSignals(); err != nil {
		t.Fatalf("GenerateSignals failed: %v", err)
	}

	e, ok := queue.Pop()
	if !ok {
		t.Fatal("Expected a signal event on the queue")
	}
	sig := e.(*fund.SignalEvent).Signal
	if sig.Type != types.SignalTypeEntry || sig.Side != types.OrderSideBuy {
		t.Errorf("Expected an entry buy signal, got %+v", sig)
	}
	if !sig.Price.Equal(decimal.NewFromInt(120)) {
		t.Errorf("Expected signal at last close 120, got %s", sig.Price)
	}
	if sig.PortfolioID != "p1" {
		t.Errorf("Expected portfolio p1 on signal, got %s", sig.PortfolioID)
	}
}

func TestCrossUpWithOpenPositionIsIgnored(t *testing.T) {
	queue, p, s := newFixture(t)

	err := p.ProcessFillEvent(&fund.FillEvent{Fill: types.Fill{
		OrderID: "o1", PortfolioID: "p1", Symbol: "BTC-USD",
		Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(1),
		Price: decimal.NewFromInt(100), FilledAt: time.Now(),
	}})
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	feedBars(t, p, 100, 90, 80, 120)
	if err := s.GenerateSignals(); err != nil {
		t.Fatalf("GenerateSignals failed: %v", err)
	}
	if queue.Len() != 0 {
		t.Errorf("Expected no signal while a position is open, queue has %d", queue.Len())
	}
}

func TestCrossDownGeneratesExit(t *testing.T) {
	queue, p, s := newFixture(t)

	err := p.ProcessFillEvent(&fund.FillEvent{Fill: types.Fill{
		OrderID: "o1", PortfolioID: "p1", Symbol: "BTC-USD",
		Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(1),
		Price: decimal.NewFromInt(100), FilledAt: time.Now(),
	}})
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	// Short SMA above the long one yesterday, below it today.
	feedBars(t, p, 100, 110, 120, 80)
	if err := s.GenerateSignals(); err != nil {
		t.Fatalf("GenerateSignals failed: %v", err)
	}

	e, ok := queue.Pop()
	if !ok {
		t.Fatal("Expected a signal event on the queue")
	}
	sig := e.(*fund.SignalEvent).Signal
	if sig.Type != types.SignalTypeExit || sig.Side != types.OrderSideSell {
		t.Errorf("Expected an exit sell signal, got %+v", sig)
	}
}

func TestCrossDownWithoutPositionIsIgnored(t *testing.T) {
	queue, p, s := newFixture(t)

	feedBars(t, p, 100, 110, 120, 80)
	if err := s.GenerateSignals(); err != nil {
		t.Fatalf("GenerateSignals failed: %v", err)
	}
	if queue.Len() != 0 {
		t.Errorf("Expected no signal without a position, queue has %d", queue.Len())
	}
}

func TestInsufficientHistoryIsQuiet(t *testing.T) {
	queue, p, s := newFixture(t)

	feedBars(t, p, 100, 90, 80) // needs long+1 = 4 bars
	if err := s.GenerateSignals(); err != nil {
		t.Fatalf("GenerateSignals failed: %v", err)
	}
	if queue.Len() != 0 {
		t.Errorf("Expected no signal with too little history, queue has %d", queue.Len())
	}
}

func TestInvalidWindowsRejected(t *testing.T) {
	queue := fund.NewQueue()
	p := portfolio.New(zap.NewNop(), queue, types.PortfolioConfig{ID: "p1"})

	_, err := strategy.NewSMACrossover(zap.NewNop(), queue, p, map[string]any{
		"symbols": []string{"BTC-USD"},
		"short":   30,
		"long":    10,
	})
	if err == nil {
		t.Error("Expected an error for short >= long")
	}

	_, err = strategy.NewSMACrossover(zap.NewNop(), queue, p, map[string]any{})
	if err == nil {
		t.Error("Expected an error without symbols")
	}
}

func TestRegistry(t *testing.T) {
	reg := strategy.NewRegistry(zap.NewNop())

	queue := fund.NewQueue()
	p := portfolio.New(zap.NewNop(), queue, types.PortfolioConfig{ID: "p1"})

	s, err := reg.Create("sma_crossover", zap.NewNop(), queue, p, map[string]any{
		"symbols": []string{"BTC-USD"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s == nil {
		t.Fatal("Create returned a nil strategy")
	}

	if _, err := reg.Create("missing", zap.NewNop(), queue, p, nil); err == nil {
		t.Error("Expected an error for an unregistered strategy")
	}

	names := reg.List()
	found := false
	for _, name := range names {
		if name == "sma_crossover" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected sma_crossover in %v", names)
	}
}
