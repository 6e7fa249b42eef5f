package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gateway/cex-gateway/internal/config"
	"github.com/gateway/cex-gateway/internal/engine"
	"github.com/gateway/cex-gateway/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := os.Getenv("GATEWAY_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Directory: cfg.Logging.Directory,
		FileName:  cfg.Logging.FileName,
		Rotation:  cfg.Logging.Rotation,
	})

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if cfg.IsMock {
		logger.Warn("running in mock mode: account balances are seeded locally, private connectors and order submission are disabled, public market data is live")
	}
	logger.Info("cex gateway started", "strategy_id", cfg.StrategyID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := eng.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("a supervised task failed, shutting down", "error", err)
			sigCh <- syscall.SIGTERM
		}
	}()

	<-sigCh
	return eng.Stop()
}
