// Package main provides the entry point for the fund engine: an event-driven
// control loop that sequences market data, signals, orders, and fills for a
// collection of portfolios, in either backtest or live mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meridian-capital/fund-engine/internal/api"
	"github.com/meridian-capital/fund-engine/internal/controller"
	"github.com/meridian-capital/fund-engine/internal/data"
	"github.com/meridian-capital/fund-engine/internal/execution"
	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/internal/metrics"
	"github.com/meridian-capital/fund-engine/internal/portfolio"
	"github.com/meridian-capital/fund-engine/internal/strategy"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	v, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	dataCfg := types.DataConfig{
		Mode:      v.GetString("data.mode"),
		DataDir:   v.GetString("data.data_dir"),
		Symbols:   v.GetStringSlice("data.symbols"),
		Timeframe: types.Timeframe(v.GetString("data.timeframe")),
		StartDate: v.GetTime("data.start_date"),
		EndDate:   v.GetTime("data.end_date"),
		StreamURL: v.GetString("data.stream_url"),
	}
	fundCfg := types.FundConfig{
		Delay:     v.GetDuration("fund.delay"),
		Verbosity: v.GetInt("fund.verbosity"),
	}
	execCfg := types.ExecutionConfig{
		CommissionRate: decimal.NewFromFloat(v.GetFloat64("execution.commission_rate")),
		MinCommission:  decimal.NewFromFloat(v.GetFloat64("execution.min_commission")),
		SlippageBps:    decimal.NewFromFloat(v.GetFloat64("execution.slippage_bps")),
	}
	ctrlCfg := types.ControllerConfig{
		RebalanceEvery:  v.GetInt("controller.rebalance_every"),
		ManagementEvery: v.GetInt("controller.management_every"),
		TargetWeight:    decimal.NewFromFloat(v.GetFloat64("controller.target_weight")),
		DriftThreshold:  decimal.NewFromFloat(v.GetFloat64("controller.drift_threshold")),
	}
	portCfg := types.PortfolioConfig{
		ID:              v.GetString("portfolio.id"),
		InitialCapital:  decimal.NewFromFloat(v.GetFloat64("portfolio.initial_capital")),
		MaxPositionSize: decimal.NewFromFloat(v.GetFloat64("portfolio.max_position_size")),
		Strategy:        v.GetString("portfolio.strategy"),
		Symbols:         dataCfg.Symbols,
	}
	serverCfg := &types.ServerConfig{
		Host:          v.GetString("server.host"),
		Port:          v.GetInt("server.port"),
		WebSocketPath: v.GetString("server.websocket_path"),
		ReadTimeout:   v.GetDuration("server.read_timeout"),
		WriteTimeout:  v.GetDuration("server.write_timeout"),
	}

	logger.Info("Starting fund engine",
		zap.String("mode", dataCfg.Mode),
		zap.Strings("symbols", dataCfg.Symbols),
		zap.Duration("delay", fundCfg.Delay),
		zap.Int("verbosity", fundCfg.Verbosity),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := strategy.NewRegistry(logger)
	logger.Info("Registered strategies", zap.Strings("strategies", registry.List()))

	fundMetrics := metrics.New(prometheus.DefaultRegisterer)

	builder := func(emitter fund.Emitter) (*fund.Fund, error) {
		var handler fund.DataHandler
		switch dataCfg.Mode {
		case "stream":
			s, err := data.NewStream(logger, dataCfg)
			if err != nil {
				return nil, err
			}
			handler = s
		case "historic", "":
			h, err := data.NewHistoric(logger, dataCfg)
			if err != nil {
				return nil, err
			}
			handler = h
		default:
			return nil, fmt.Errorf("unknown data mode %q", dataCfg.Mode)
		}
		queue := handler.Events()

		exec := execution.NewSimulated(logger, queue, execCfg, nil)
		ctrl := controller.New(logger, queue, ctrlCfg, nil)

		port := portfolio.New(logger, queue, portCfg)
		strat, err := registry.Create(portCfg.Strategy, logger, queue, port, map[string]any{
			"symbols": portCfg.Symbols,
		})
		if err != nil {
			return nil, err
		}
		ctrl.AddPair(port, strat)

		f, err := fund.New(logger, handler, exec, ctrl, fundCfg)
		if err != nil {
			return nil, err
		}
		f.SetEmitter(emitter)
		f.SetMetrics(fundMetrics)
		return f, nil
	}

	hub := api.NewHub(logger)
	go hub.Run()

	server := api.NewServer(logger, serverCfg, hub, builder)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Run service error", zap.Error(err))
		}
	}()

	run, err := server.StartRun(ctx)
	if err != nil {
		logger.Fatal("Failed to start run", zap.Error(err))
	}
	logger.Info("Run started", zap.String("id", run.ID))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Fund engine stopped")
}

// loadConfig reads configuration from an optional file, with environment
// overrides (FUND_SERVER_PORT and friends) and sensible defaults.
func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("data.mode", "historic")
	v.SetDefault("data.data_dir", "./data")
	v.SetDefault("data.symbols", []string{"BTC-USD", "ETH-USD"})
	v.SetDefault("data.timeframe", "1d")
	v.SetDefault("data.start_date", time.Now().AddDate(-1, 0, 0).Format(time.RFC3339))
	v.SetDefault("data.end_date", time.Now().Format(time.RFC3339))
	v.SetDefault("fund.delay", "0s")
	v.SetDefault("fund.verbosity", 1)
	v.SetDefault("execution.commission_rate", 0.001)
	v.SetDefault("execution.min_commission", 0)
	v.SetDefault("execution.slippage_bps", 10)
	v.SetDefault("controller.rebalance_every", 21)
	v.SetDefault("controller.management_every", 63)
	v.SetDefault("controller.target_weight", 0.1)
	v.SetDefault("controller.drift_threshold", 0.02)
	v.SetDefault("portfolio.id", "main")
	v.SetDefault("portfolio.initial_capital", 100000)
	v.SetDefault("portfolio.max_position_size", 0.1)
	v.SetDefault("portfolio.strategy", "sma_crossover")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetEnvPrefix("FUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
