// Package types provides configuration types for the fund engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundConfig configures the engine's control loop.
type FundConfig struct {
	// Delay is the pacing interval between trading periods. It controls how
	// often new data is requested and has no bearing on event ordering.
	Delay time.Duration `json:"delay" mapstructure:"delay"`
	// Verbosity gates event and state emission. An event is emitted only when
	// its threshold is at or below this value.
	Verbosity int `json:"verbosity" mapstructure:"verbosity"`
}

// DataConfig configures the data handler.
type DataConfig struct {
	Mode      string    `json:"mode" mapstructure:"mode"` // "historic" or "stream"
	DataDir   string    `json:"dataDir" mapstructure:"data_dir"`
	Symbols   []string  `json:"symbols" mapstructure:"symbols"`
	Timeframe Timeframe `json:"timeframe" mapstructure:"timeframe"`
	StartDate time.Time `json:"startDate" mapstructure:"start_date"`
	EndDate   time.Time `json:"endDate" mapstructure:"end_date"`
	StreamURL string    `json:"streamUrl" mapstructure:"stream_url"`
}

// ExecutionConfig configures the simulated execution venue.
type ExecutionConfig struct {
	CommissionRate decimal.Decimal `json:"commissionRate" mapstructure:"commission_rate"`
	MinCommission  decimal.Decimal `json:"minCommission" mapstructure:"min_commission"`
	SlippageBps    decimal.Decimal `json:"slippageBps" mapstructure:"slippage_bps"`
}

// PortfolioConfig configures a single simulated portfolio.
type PortfolioConfig struct {
	ID              string          `json:"id" mapstructure:"id"`
	InitialCapital  decimal.Decimal `json:"initialCapital" mapstructure:"initial_capital"`
	MaxPositionSize decimal.Decimal `json:"maxPositionSize" mapstructure:"max_position_size"`
	Strategy        string          `json:"strategy" mapstructure:"strategy"`
	Symbols         []string        `json:"symbols" mapstructure:"symbols"`
}

// ControllerConfig configures the fund controller's scheduled actions.
type ControllerConfig struct {
	RebalanceEvery  int             `json:"rebalanceEvery" mapstructure:"rebalance_every"`
	ManagementEvery int             `json:"managementEvery" mapstructure:"management_every"`
	TargetWeight    decimal.Decimal `json:"targetWeight" mapstructure:"target_weight"`
	DriftThreshold  decimal.Decimal `json:"driftThreshold" mapstructure:"drift_threshold"`
}

// ServerConfig configures the HTTP/WebSocket run service.
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          int           `json:"port" mapstructure:"port"`
	WebSocketPath string        `json:"webSocketPath" mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
}
