// Package runtime is the strategy supervisor (C10): one long-lived
// goroutine per strategy, each scanning on its own jittered interval and
// submitting whatever signals it finds to the shared execution manager.
// Each strategy runs its own ticker + ctx.Done select-loop, generalized
// to N independent strategies instead of one per market.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-mm/internal/clock"
	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/execution"
	"polymarket-mm/pkg/types"
)

// Strategy is implemented by every trading strategy the supervisor runs.
// Scan is called once per tick and may return zero or more signals; any
// error is logged and published, never treated as fatal. Shutdown runs
// once when the supervisor is stopping, giving the strategy a chance to
// unwind its own resting orders.
type Strategy interface {
	Name() types.Strategy
	ScanInterval() time.Duration
	Scan(ctx context.Context) ([]types.Signal, error)
	Shutdown(ctx context.Context) error
}

// Supervisor runs a fixed set of strategies concurrently and feeds their
// signals through the shared execution manager.
type Supervisor struct {
	strategies []Strategy
	exec       *execution.Manager
	bus        *eventbus.Bus
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// New creates a supervisor over the given strategies.
func New(strategies []Strategy, exec *execution.Manager, bus *eventbus.Bus, logger *slog.Logger) *Supervisor {
	return &Supervisor{strategies: strategies, exec: exec, bus: bus, logger: logger.With("component", "runtime")}
}

// Run launches one goroutine per strategy and blocks until ctx is
// cancelled and every worker has returned its Shutdown hook.
func (s *Supervisor) Run(ctx context.Context) {
	for _, strat := range s.strategies {
		s.wg.Add(1)
		go s.runStrategy(ctx, strat)
	}
	s.wg.Wait()
}

func (s *Supervisor) runStrategy(ctx context.Context, strat Strategy) {
	defer s.wg.Done()

	interval := time.Duration(clock.JitterDuration(int64(strat.ScanInterval()), 0.1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := s.logger.With("strategy", strat.Name())

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := strat.Shutdown(shutdownCtx); err != nil {
				log.Error("strategy shutdown failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			s.scanOnce(ctx, strat, log)
		}
	}
}

func (s *Supervisor) scanOnce(ctx context.Context, strat Strategy, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("scan panicked", "panic", r)
			s.bus.Publish(types.BotEvent{Type: types.EventStrategyError, Strategy: strat.Name(), Data: fmt.Sprint(r), Timestamp: time.Now()})
		}
	}()

	signals, err := strat.Scan(ctx)
	if err != nil {
		log.Error("scan failed", "error", err)
		s.bus.Publish(types.BotEvent{Type: types.EventStrategyError, Strategy: strat.Name(), Data: err.Error(), Timestamp: time.Now()})
		return
	}
	for _, sig := range signals {
		result, err := s.exec.Submit(ctx, sig)
		if err != nil {
			log.Error("submit failed", "error", err, "condition_id", sig.ConditionID)
			continue
		}
		if result.Accepted {
			s.bus.Publish(types.BotEvent{Type: types.EventEdgeDetected, Strategy: strat.Name(), ConditionID: sig.ConditionID, Data: sig.Reason, Timestamp: time.Now()})
		}
	}
}
