// Forecast-edge trading (C14b): for each configured crypto asset, compares
// Synth's hourly probability forecast against Polymarket's own implied
// probability. A meaningful edge is sized with fractional Kelly and
// traded as a GTC BUY on whichever side the edge favors. Every evaluation
// is persisted regardless of outcome, so the decision history is
// auditable even on ticks that don't trade.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/forecast"
	"polymarket-mm/internal/persist"
	"polymarket-mm/pkg/types"
)

// SynthEdge implements runtime.Strategy for C14b.
type SynthEdge struct {
	forecast *forecast.Client
	store    *persist.Store
	bus      *eventbus.Bus
	cfg      config.SynthConfig
	logger   *slog.Logger
}

// NewSynthEdge wires the forecast-edge strategy.
func NewSynthEdge(fc *forecast.Client, store *persist.Store, bus *eventbus.Bus, cfg config.SynthConfig, logger *slog.Logger) *SynthEdge {
	return &SynthEdge{forecast: fc, store: store, bus: bus, cfg: cfg, logger: logger.With("component", "synth_edge")}
}

func (s *SynthEdge) Name() types.Strategy { return types.StrategySynthEdge }

func (s *SynthEdge) ScanInterval() time.Duration {
	if s.cfg.PollInterval <= 0 {
		return 300 * time.Second
	}
	return s.cfg.PollInterval * time.Second
}

// Scan evaluates every configured asset independently; one asset's
// forecast failure doesn't block the others.
func (s *SynthEdge) Scan(ctx context.Context) ([]types.Signal, error) {
	var signals []types.Signal
	for _, asset := range s.cfg.Assets {
		sig, err := s.evaluate(ctx, asset)
		if err != nil {
			s.logger.Error("evaluate asset failed", "asset", asset.Symbol, "error", err)
			continue
		}
		if sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals, nil
}

func (s *SynthEdge) Shutdown(ctx context.Context) error { return nil }

func (s *SynthEdge) evaluate(ctx context.Context, asset config.SynthAsset) (*types.Signal, error) {
	fc, err := s.forecast.GetHourlyUpDown(ctx, asset.Symbol)
	if err != nil {
		return nil, fmt.Errorf("get hourly up/down: %w", err)
	}

	edge := fc.SynthProbUp - fc.PolyProbUp
	absEdge := edge
	if absEdge < 0 {
		absEdge = -absEdge
	}

	upTokenID := asset.UpTokenID
	downTokenID := asset.DownTokenID
	if fc.UpTokenID != "" {
		upTokenID = fc.UpTokenID
	}
	if fc.DownTokenID != "" {
		downTokenID = fc.DownTokenID
	}

	record := types.SynthForecast{
		ConditionID:   asset.ConditionID,
		FairProb:      fc.SynthProbUp,
		MarketPrice:   fc.PolyProbUp,
		Edge:          edge,
		KellyFraction: s.cfg.KellyFraction,
		GeneratedAt:   time.Now(),
	}

	if absEdge < s.cfg.Threshold {
		s.persist(ctx, record, "skip")
		return nil, nil
	}

	var tokenID string
	var price float64
	var reason string
	if edge > 0 {
		tokenID, price, reason = upTokenID, fc.PolyProbUp, fmt.Sprintf("synth UP edge=%+.4f", edge)
	} else {
		tokenID, price, reason = downTokenID, 1-fc.PolyProbUp, fmt.Sprintf("synth DOWN edge=%+.4f", -edge)
	}
	record.TokenID = tokenID

	if tokenID == "" || price <= 0 || price >= 1 {
		s.persist(ctx, record, "invalid")
		return nil, nil
	}

	kellyFrac := KellyCriterion(absEdge, price, s.cfg.KellyFraction)
	sizeUSD := Clamp(kellyFrac*s.cfg.StartingBalanceUSD, 0, s.cfg.MaxTradeSizeUSD)
	if sizeUSD <= 0 {
		s.persist(ctx, record, "kelly_zero")
		return nil, nil
	}

	s.persist(ctx, record, "trade")
	s.bus.Publish(types.BotEvent{Type: types.EventEdgeDetected, Strategy: s.Name(), ConditionID: asset.ConditionID, Data: edge, Timestamp: time.Now()})

	return &types.Signal{
		Strategy:    s.Name(),
		ConditionID: asset.ConditionID,
		TokenID:     tokenID,
		Side:        types.BUY,
		OrderType:   types.OrderTypeGTC,
		Price:       price,
		Size:        sizeUSD / price,
		TickSize:    types.Tick001,
		Reason:      reason,
		GeneratedAt: time.Now(),
	}, nil
}

func (s *SynthEdge) persist(ctx context.Context, f types.SynthForecast, outcome string) {
	if err := s.store.RecordSynthSignal(ctx, f, outcome); err != nil {
		s.logger.Error("record synth signal failed", "error", err)
	}
}
