// Package tasks runs pricing work on asynq queues.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/order"
	"github.com/noah-isme/toko-pricing/internal/tenant"
)

// Task types.
const (
	TypeRecalculate = "pricing:recalculate"
	TypeRedeem      = "coupon:redeem"
)

// QueuePricing is the queue both task types are published to.
const QueuePricing = "pricing"

// RecalculatePayload carries the order snapshot to price.
type RecalculatePayload struct {
	Order order.Order `json:"order"`
}

// NewRecalculateTask builds a pricing:recalculate task.
func NewRecalculateTask(o order.Order) (*asynq.Task, error) {
	if o.ID == "" {
		return nil, errors.New("recalculate task requires an order id")
	}
	payload, err := json.Marshal(RecalculatePayload{Order: o})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", TypeRecalculate, err)
	}
	return asynq.NewTask(TypeRecalculate, payload, asynq.Queue(QueuePricing), asynq.MaxRetry(3)), nil
}

// NewRedeemTask builds a coupon:redeem task. The task id is derived from the
// order so duplicate submissions are rejected by the queue.
func NewRedeemTask(req discount.RedeemRequest) (*asynq.Task, error) {
	code := discount.NormalizeCode(req.Code)
	if req.OrderID == "" || code == "" {
		return nil, errors.New("redeem task requires order id and code")
	}
	req.Code = code
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", TypeRedeem, err)
	}
	return asynq.NewTask(TypeRedeem, payload,
		asynq.Queue(QueuePricing),
		asynq.MaxRetry(10),
		asynq.TaskID(RedeemTaskID(req)),
	), nil
}

// RedeemTaskID is the queue-level identity of a redemption.
func RedeemTaskID(req discount.RedeemRequest) string {
	return tenant.Key(req.StoreID, "redeem", req.OrderID, discount.NormalizeCode(req.Code))
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer publishes pricing tasks.
type Enqueuer struct {
	Client TaskEnqueuer
}

// EnqueueRecalculate schedules a recalculation of the order.
func (e Enqueuer) EnqueueRecalculate(ctx context.Context, o order.Order) (*asynq.TaskInfo, error) {
	if e.Client == nil {
		return nil, errors.New("task enqueuer not configured")
	}
	task, err := NewRecalculateTask(o)
	if err != nil {
		return nil, err
	}
	return e.Client.EnqueueContext(ctx, task)
}

// EnqueueRedeem schedules a coupon redemption. A redemption already queued
// for the order is not an error.
func (e Enqueuer) EnqueueRedeem(ctx context.Context, req discount.RedeemRequest) (*asynq.TaskInfo, error) {
	if e.Client == nil {
		return nil, errors.New("task enqueuer not configured")
	}
	task, err := NewRedeemTask(req)
	if err != nil {
		return nil, err
	}
	info, err := e.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, nil
	}
	return info, err
}
