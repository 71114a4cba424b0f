// polymarket-mm is an automated trading engine for Polymarket binary
// prediction markets. It runs a configurable set of concurrent
// strategies — liquidity provision with smart refresh, a single-market
// LP "flip" cycle, YES+NO arbitrage, leaderboard copy-trading, and an
// external-forecast edge bot — through one shared risk gate and order
// execution pipeline.
//
// Architecture:
//
//	main.go                      — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	internal/engine              — orchestrator (C15): wires every subsystem, owns the shutdown sequence
//	internal/runtime             — strategy supervisor (C10): one goroutine per strategy, jittered scan loop
//	internal/strategy            — the five trading strategies (C11-C14)
//	internal/risk                — risk gate (C7): ordered checks, drawdown kill switch
//	internal/execution           — order manager (C8) + dry-run/live executors (C9)
//	internal/ledger              — cash/position book (C6)
//	internal/exchange            — CLOB REST client (C17), EIP-712/HMAC auth (C16)
//	internal/persist             — SQLite-backed trades/volume/cycles/signals/state (C18)
//	internal/dashboard           — event-apply projection (C20), no rendering layer
//	internal/eventbus            — bounded, non-blocking pub/sub (C3)
//
// How it makes money: each strategy proposes Signals; the risk gate
// downsizes or rejects them against drawdown/exposure caps, the order
// manager executes the survivors and updates the ledger, and the
// dashboard projection gives an operator a live read on all of it.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to construct engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("polymarket trading engine starting",
		"lp_enabled", cfg.LP.Enabled,
		"flip_enabled", cfg.Flip.Enabled,
		"arbitrage_enabled", cfg.Arbitrage.Enabled,
		"copy_enabled", cfg.Copy.Enabled,
		"synth_enabled", cfg.Synth.Enabled,
		"dry_run", cfg.DryRun,
	)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	if err := eng.Run(ctx); err != nil {
		logger.Error("engine exited with error", "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
