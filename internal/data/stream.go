package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Stream is the live-trading data handler. A background goroutine reads
// kline frames off an exchange websocket into a buffer; RequestPrices drains
// that buffer onto the event queue from the engine's thread, so the queue
// itself never sees concurrent access.
type Stream struct {
	logger *zap.Logger
	queue  *fund.Queue
	cfg    types.DataConfig

	conn   *websocket.Conn
	connMu sync.Mutex

	bufMu  sync.Mutex
	buffer []fund.MarketEvent

	closed   chan struct{}
	stopOnce sync.Once
}

// klineFrame is the subset of the exchange kline payload the handler reads.
type klineFrame struct {
	Symbol string `json:"s"`
	Kline  struct {
		CloseTime int64  `json:"T"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Final     bool   `json:"x"`
	} `json:"k"`
}

// NewStream dials the exchange stream and subscribes to kline updates for
// the configured symbols.
func NewStream(logger *zap.Logger, cfg types.DataConfig) (*Stream, error) {
	if cfg.StreamURL == "" {
		return nil, fmt.Errorf("no stream url configured")
	}

	conn, _, err := websocket.DefaultDialer.Dial(cfg.StreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	s := &Stream{
		logger: logger,
		queue:  fund.NewQueue(),
		cfg:    cfg,
		conn:   conn,
		closed: make(chan struct{}),
	}

	if err := s.subscribe(); err != nil {
		conn.Close()
		return nil, err
	}
	go s.readLoop()

	logger.Info("Stream data handler connected",
		zap.String("url", cfg.StreamURL),
		zap.Strings("symbols", cfg.Symbols),
	)
	return s, nil
}

// Events returns the shared event queue owned by this handler.
func (s *Stream) Events() *fund.Queue {
	return s.queue
}

// RequestPrices moves buffered bars onto the event queue.
func (s *Stream) RequestPrices(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.bufMu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.bufMu.Unlock()

	for i := range pending {
		e := pending[i]
		s.queue.Push(&e)
	}
	return nil
}

// ContinueTrading reports whether the stream is still connected.
func (s *Stream) ContinueTrading() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// Update is a no-op for live data; the exchange rolls the record forward.
func (s *Stream) Update() error {
	return nil
}

// Close shuts the websocket down; the engine observes it through the
// continuation flag on its next period.
func (s *Stream) Close() error {
	s.stopOnce.Do(func() { close(s.closed) })
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn.Close()
}

func (s *Stream) subscribe() error {
	streams := make([]string, 0, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), s.cfg.Timeframe))
	}
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixNano(),
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *Stream) readLoop() {
	defer s.stopOnce.Do(func() { close(s.closed) })

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Warn("Stream read failed", zap.Error(err))
			return
		}

		var frame klineFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Symbol == "" {
			continue // subscription acks and foreign frames
		}
		if !frame.Kline.Final {
			continue
		}

		bar, err := frame.toBar()
		if err != nil {
			s.logger.Warn("Malformed kline frame",
				zap.String("symbol", frame.Symbol),
				zap.Error(err),
			)
			continue
		}

		s.bufMu.Lock()
		s.buffer = append(s.buffer, fund.MarketEvent{Symbol: frame.Symbol, Bar: bar})
		s.bufMu.Unlock()
	}
}

func (f *klineFrame) toBar() (types.OHLCV, error) {
	open, err := decimal.NewFromString(f.Kline.Open)
	if err != nil {
		return types.OHLCV{}, err
	}
	high, err := decimal.NewFromString(f.Kline.High)
	if err != nil {
		return types.OHLCV{}, err
	}
	low, err := decimal.NewFromString(f.Kline.Low)
	if err != nil {
		return types.OHLCV{}, err
	}
	closePrice, err := decimal.NewFromString(f.Kline.Close)
	if err != nil {
		return types.OHLCV{}, err
	}
	volume, err := decimal.NewFromString(f.Kline.Volume)
	if err != nil {
		return types.OHLCV{}, err
	}
	return types.OHLCV{
		Timestamp: time.UnixMilli(f.Kline.CloseTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}
