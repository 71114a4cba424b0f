package execution

import (
	"context"
	"log/slog"
	"time"

	"polymarket-mm/internal/clock"
	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/ledger"
	"polymarket-mm/internal/persist"
	"polymarket-mm/internal/risk"
	"polymarket-mm/pkg/types"
)

// MaxBatch bounds how many signals ExecuteBatch submits per call.
const MaxBatch = 20

// SizeJitterPct perturbs every approved order's size by up to ±this
// fraction right before execution, so resting liquidity never looks
// perfectly periodic to a watching counterparty.
const SizeJitterPct = 0.05

// Manager is the single execution pipeline every strategy signal flows
// through: risk gate → size jitter → execute (dry-run or live) →
// inventory update → persist trade + daily volume → publish
// TRADE_EXECUTED. It applies immediate fills to the ledger; resting GTC
// fills are applied by the LP selector and flip strategy that detect them,
// and the engine loads exchange balances into it.
type Manager struct {
	gate   *risk.Gate
	exec   Executor
	inv    *ledger.Ledger
	store  *persist.Store
	bus    *eventbus.Bus
	dryRun bool
	logger *slog.Logger
}

// NewManager wires the execution pipeline. exec should be a DryRunExecutor
// when cfg.DryRun is set, else a LiveExecutor.
func NewManager(gate *risk.Gate, exec Executor, inv *ledger.Ledger, store *persist.Store, bus *eventbus.Bus, dryRun bool, logger *slog.Logger) *Manager {
	return &Manager{gate: gate, exec: exec, inv: inv, store: store, bus: bus, dryRun: dryRun, logger: logger.With("component", "order_manager")}
}

// Submit runs sig through the full pipeline and returns the resulting
// OrderResult. Failures at any stage (risk rejection, exchange error) are
// surfaced as a non-accepted OrderResult rather than returned as a
// Go error, except for unexpected exchange transport errors which are
// returned alongside the rejected result so the caller can decide whether
// to retry at a higher level.
func (m *Manager) Submit(ctx context.Context, sig types.Signal) (types.OrderResult, error) {
	dailyVolume, err := m.store.DailyVolumeUSD(ctx, sig.Strategy, time.Now())
	if err != nil {
		m.logger.Warn("daily volume lookup failed, proceeding as if zero", "error", err)
	}

	verdict := m.gate.Check(sig, m.inv, dailyVolume)
	if verdict.Halted {
		m.bus.Publish(types.BotEvent{Type: types.EventDrawdownHalt, Strategy: sig.Strategy, ConditionID: sig.ConditionID, Data: verdict.Reason, Timestamp: time.Now()})
	}
	if !verdict.Approved {
		result := types.OrderResult{Signal: sig, Accepted: false, Reason: verdict.Reason, Timestamp: time.Now()}
		m.recordRejected(ctx, result)
		return result, nil
	}
	if verdict.Adjusted != nil {
		sig = *verdict.Adjusted
	}
	if verdict.Warning != "" {
		m.logger.Warn(verdict.Warning, "strategy", sig.Strategy, "condition_id", sig.ConditionID)
		m.bus.Publish(types.BotEvent{Type: types.EventDrawdownWarning, Strategy: sig.Strategy, ConditionID: sig.ConditionID, Data: verdict.Warning, Timestamp: time.Now()})
	}

	sig.Size = clock.Jitter(sig.Size, SizeJitterPct)

	result, err := m.exec.Execute(ctx, sig)
	if err != nil {
		m.logger.Error("execution failed", "strategy", sig.Strategy, "error", err)
		m.bus.Publish(types.BotEvent{Type: types.EventStrategyError, Strategy: sig.Strategy, ConditionID: sig.ConditionID, Data: err.Error(), Timestamp: time.Now()})
		if rerr := m.store.RecordTrade(ctx, result, m.dryRun); rerr != nil {
			m.logger.Error("record failed trade", "error", rerr)
		}
		return result, err
	}

	if !result.IsResting && result.FilledSize > 0 {
		m.inv.OnFill(sig.Strategy, sig.ConditionID, sig.TokenID, sig.Side, result.FillPrice, result.FilledSize)
		if verr := m.store.UpsertDailyVolume(ctx, sig.Strategy, result.Signal.NotionalUSD(), result.Timestamp); verr != nil {
			m.logger.Warn("upsert daily volume failed", "error", verr)
		}
	}

	if rerr := m.store.RecordTrade(ctx, result, m.dryRun); rerr != nil {
		m.logger.Error("record trade failed", "error", rerr)
	}

	m.bus.Publish(types.BotEvent{Type: types.EventTradeExecuted, Strategy: sig.Strategy, ConditionID: sig.ConditionID, Data: result, Timestamp: time.Now()})
	return result, nil
}

// ExecuteBatch submits up to MaxBatch signals serially, stopping neither on
// an individual rejection nor a transport error — each signal gets its own
// independent verdict.
func (m *Manager) ExecuteBatch(ctx context.Context, signals []types.Signal) []types.OrderResult {
	if len(signals) > MaxBatch {
		signals = signals[:MaxBatch]
	}
	results := make([]types.OrderResult, 0, len(signals))
	for _, sig := range signals {
		result, _ := m.Submit(ctx, sig)
		results = append(results, result)
	}
	return results
}

func (m *Manager) recordRejected(ctx context.Context, result types.OrderResult) {
	if err := m.store.RecordTrade(ctx, result, m.dryRun); err != nil {
		m.logger.Error("record rejected trade", "error", err)
	}
}
