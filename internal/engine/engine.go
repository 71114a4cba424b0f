// Package engine is the central orchestrator (C15) of the trading bot.
//
// It wires together every subsystem in dependency order:
//
//  1. Auth + Client: EIP-712/HMAC-authenticated CLOB REST client.
//  2. Store: SQLite-backed persistence (trades, daily volume, flip
//     cycles, synth signals, KV state).
//  3. Ledger: in-memory cash/position book, refreshed from the exchange
//     at boot.
//  4. Gate + execution.Manager: the single order pipeline every
//     strategy's signals flow through.
//  5. One runtime.Strategy per enabled config block (LP selector, LP
//     flip, arbitrage, copy, synth-edge), run by runtime.Supervisor.
//  6. An optional dashboard projection consuming the event bus.
//
// Lifecycle: New() → Run(ctx) → blocks until ctx is cancelled → graceful
// shutdown (cancel all resting orders unless dry-run, close the store).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/dashboard"
	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/execution"
	"polymarket-mm/internal/forecast"
	"polymarket-mm/internal/ledger"
	"polymarket-mm/internal/persist"
	"polymarket-mm/internal/risk"
	"polymarket-mm/internal/runtime"
	"polymarket-mm/internal/strategy"
)

// Engine owns the lifecycle of every component and goroutine in the bot.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	auth   *exchange.Auth
	client *exchange.Client
	store  *persist.Store
	ledger *ledger.Ledger
	bus    *eventbus.Bus
	gate   *risk.Gate
	exec   *execution.Manager

	strategies []runtime.Strategy
	supervisor *runtime.Supervisor

	dashState *dashboard.State
	dashProj  *dashboard.Projection
}

// New wires every component. It opens the store, constructs and
// authenticates the exchange client (deriving L2 API credentials via L1
// EIP-712 signing if none are configured), and builds one strategy per
// enabled config block. It does not refresh the ledger from the exchange
// or start any goroutine — that happens in Run.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("construct auth: %w", err)
	}

	client := exchange.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials configured, deriving API key via L1 auth")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, fmt.Errorf("derive API key: %w", err)
		}
		auth.SetCredentials(*creds)
	}

	st, err := persist.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	led := ledger.New(cfg.Risk.StartingBalanceUSD)
	bus := eventbus.New(logger)

	gate := risk.NewGate(risk.GateConfig{
		StartingBalanceUSD:   cfg.Risk.StartingBalanceUSD,
		MaxDrawdownUSD:       cfg.Risk.MaxDrawdownUSD,
		MaxTradeSizeUSD:      cfg.Risk.MaxTradeSizeUSD,
		MaxDailyVolumeUSD:    cfg.Risk.DailyVolumeCapUSD,
		MaxOpenPositions:     cfg.Risk.MaxOpenPositions,
		MaxPositionPerMarket: cfg.Risk.MaxPerMarketUSD,
		MaxPortfolioExposure: cfg.Risk.MaxPortfolioExposure,
	}, logger)

	var exec execution.Executor
	if cfg.DryRun {
		exec = execution.NewDryRunExecutor()
	} else {
		exec = execution.NewLiveExecutor(client)
	}
	mgr := execution.NewManager(gate, exec, led, st, bus, cfg.DryRun, logger)

	strategies := buildStrategies(cfg, client, led, st, bus, gate, logger)
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no strategy enabled in config")
	}
	sup := runtime.New(strategies, mgr, bus, logger)

	var dashState *dashboard.State
	var dashProj *dashboard.Projection
	if cfg.Dashboard.Enabled {
		dashState = dashboard.NewState(cfg.Risk.StartingBalanceUSD)
		dashProj = dashboard.NewProjection(dashState, led, bus, logger)
	}

	return &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		auth:       auth,
		client:     client,
		store:      st,
		ledger:     led,
		bus:        bus,
		gate:       gate,
		exec:       mgr,
		strategies: strategies,
		supervisor: sup,
		dashState:  dashState,
		dashProj:   dashProj,
	}, nil
}

// buildStrategies constructs one runtime.Strategy per enabled config
// block. A disabled block is simply omitted rather than constructed and
// never scanned, matching C15's "skip optional ones when disabled" boot
// sequence.
func buildStrategies(cfg config.Config, client *exchange.Client, led *ledger.Ledger, st *persist.Store, bus *eventbus.Bus, gate *risk.Gate, logger *slog.Logger) []runtime.Strategy {
	var strategies []runtime.Strategy

	if cfg.LP.Enabled {
		strategies = append(strategies, strategy.NewLPSelector(client, led, st, bus, gate, cfg.LP, cfg.Jitter, logger))
	}
	if cfg.Flip.Enabled {
		strategies = append(strategies, strategy.NewLPFlip(client, led, st, bus, gate, cfg.Flip, cfg.LP, cfg.Jitter, logger))
	}
	if cfg.Arbitrage.Enabled {
		strategies = append(strategies, strategy.NewArbitrage(client, bus, cfg.Arbitrage, logger))
	}
	if cfg.Copy.Enabled {
		strategies = append(strategies, strategy.NewCopy(client, st, bus, cfg.Copy, logger))
	}
	if cfg.Synth.Enabled {
		fc := forecast.NewClient(cfg.Synth.Host, cfg.Synth.ApiKey)
		strategies = append(strategies, strategy.NewSynthEdge(fc, st, bus, cfg.Synth, logger))
	}

	return strategies
}

// Run refreshes the ledger from the exchange's authoritative balance and
// position endpoints, then launches the strategy supervisor and (if
// enabled) the dashboard projection. It blocks until ctx is cancelled,
// then runs the graceful-shutdown sequence: cancel every resting order
// (skipped in dry-run, since nothing was ever placed) and close the
// store.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.refreshLedger(ctx); err != nil {
		e.logger.Warn("initial ledger refresh failed, starting from configured balance only", "error", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.supervisor.Run(ctx)
	}()

	if e.dashProj != nil {
		go e.dashProj.Run(ctx)
	}

	<-ctx.Done()
	e.logger.Info("shutdown signal received, draining strategies")
	<-done

	return e.shutdown()
}

// refreshLedger overwrites the ledger's cash balance and positions from
// the exchange's authoritative balance/positions endpoints, per C6's
// refresh_from_api. Called once at boot; C11 performs its own
// legacy-position seeding into its filled-positions set from whatever
// this leaves in the ledger.
func (e *Engine) refreshLedger(ctx context.Context) error {
	balance, err := e.client.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	e.ledger.SetCash(balance)

	positions, err := e.client.GetPositions(ctx, e.auth.Address().Hex())
	if err != nil {
		return fmt.Errorf("get positions: %w", err)
	}
	for _, pos := range positions {
		e.ledger.SetPosition(pos)
	}

	e.logger.Info("ledger refreshed from exchange", "balance", balance, "open_positions", len(positions))
	return nil
}

// shutdown cancels every resting order this process may have placed
// (skipped in dry-run) and closes the store. Each strategy has already
// had its own Shutdown hook run by the supervisor before this is called,
// so CancelAll here is a last-resort safety net, not the primary unwind
// path.
func (e *Engine) shutdown() error {
	if !e.cfg.DryRun {
		cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if resp, err := e.client.CancelAll(cancelCtx); err != nil {
			e.logger.Error("cancel all orders on shutdown failed", "error", err)
		} else {
			e.logger.Info("cancelled resting orders on shutdown", "count", len(resp.Canceled))
		}
	}

	if err := e.store.Close(); err != nil {
		e.logger.Error("close store failed", "error", err)
	}

	e.logger.Info("shutdown complete")
	return nil
}

// DashboardSnapshot returns the current dashboard projection, or the
// zero value if the dashboard is disabled.
func (e *Engine) DashboardSnapshot() dashboard.Snapshot {
	if e.dashState == nil {
		return dashboard.Snapshot{}
	}
	return e.dashState.Snapshot()
}
