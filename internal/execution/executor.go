// Package execution implements the order manager (C8) and its two
// executors: a dry-run executor that never touches the network (C9), and
// a live executor backed by the exchange client.
package execution

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/pkg/types"
)

// Executor places a single signal and reports what happened. It never
// retries — callers that want retry semantics wrap Execute with
// internal/retry, though order placement itself should not be retried
// beyond a couple of attempts since the exchange may silently accept a
// duplicate.
type Executor interface {
	Execute(ctx context.Context, sig types.Signal) (types.OrderResult, error)
}

// DryRunExecutor is a pure function: every signal "fills" instantly and in
// full at its quoted price, with no fee and a synthetic monotonically
// increasing order id. It never constructs an HTTP request.
type DryRunExecutor struct {
	seq atomic.Int64
}

// NewDryRunExecutor creates a dry-run executor.
func NewDryRunExecutor() *DryRunExecutor {
	return &DryRunExecutor{}
}

// Execute always succeeds, filling sig completely at its quoted price.
func (d *DryRunExecutor) Execute(_ context.Context, sig types.Signal) (types.OrderResult, error) {
	id := fmt.Sprintf("dryrun-%d", d.seq.Add(1))
	return types.OrderResult{
		Signal:     sig,
		Accepted:   true,
		OrderID:    id,
		FilledSize: sig.Size,
		FillPrice:  sig.Price,
		Timestamp:  time.Now(),
	}, nil
}

// LiveExecutor places real orders through the exchange client. GTC orders
// that don't cross the book rest unfilled (IsResting=true, FilledSize=0);
// FOK orders either fill completely or the exchange rejects them outright.
type LiveExecutor struct {
	client *exchange.Client
}

// NewLiveExecutor wraps an authenticated exchange client.
func NewLiveExecutor(client *exchange.Client) *LiveExecutor {
	return &LiveExecutor{client: client}
}

// Execute submits sig as a single order. The CLOB's placement response
// doesn't report matched size synchronously for resting GTC orders, so a
// "live" status with no immediate match is reported as a resting order;
// any other accepted status is treated as an immediate fill at the quoted
// price, matching how FOK signals are used by this bot (they either fill
// completely or the batch call returns an error/rejection).
func (l *LiveExecutor) Execute(ctx context.Context, sig types.Signal) (types.OrderResult, error) {
	order := types.UserOrder{
		TokenID:   sig.TokenID,
		Price:     sig.Price,
		Size:      sig.Size,
		Side:      sig.Side,
		OrderType: sig.OrderType,
		TickSize:  sig.TickSize,
	}

	responses, err := l.client.PostOrders(ctx, []types.UserOrder{order}, false)
	if err != nil {
		return types.OrderResult{Signal: sig, Accepted: false, Reason: err.Error(), Timestamp: time.Now()}, err
	}
	if len(responses) == 0 {
		return types.OrderResult{Signal: sig, Accepted: false, Reason: "empty response", Timestamp: time.Now()}, fmt.Errorf("post orders: empty response")
	}

	resp := responses[0]
	if !resp.Success {
		return types.OrderResult{Signal: sig, Accepted: false, OrderID: resp.OrderID, Reason: resp.ErrorMsg, Timestamp: time.Now()}, nil
	}

	result := types.OrderResult{Signal: sig, Accepted: true, OrderID: resp.OrderID, Timestamp: time.Now()}
	if resp.Status == "live" && sig.OrderType == types.OrderTypeGTC {
		result.IsResting = true
		return result, nil
	}
	result.FilledSize = sig.Size
	result.FillPrice = sig.Price
	return result, nil
}
