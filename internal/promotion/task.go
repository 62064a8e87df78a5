package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskConsume is the asynq task type that records a redemption after an order is persisted.
const TaskConsume = "promotion:consume"

// QueueName is the asynq queue consumption tasks are enqueued on.
const QueueName = "promotions"

// ConsumePayload is the body of a TaskConsume task.
type ConsumePayload struct {
	TenantID   string     `json:"tenantId"`
	Redemption Redemption `json:"redemption"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewConsumeTask builds a consumption task. The task id is derived from tenant, promotion and
// order so a second enqueue for the same order is rejected by the broker.
func NewConsumeTask(tenantID string, r Redemption) (*asynq.Task, error) {
	payload, err := json.Marshal(ConsumePayload{TenantID: tenantID, Redemption: r})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsume, payload,
		asynq.TaskID(fmt.Sprintf("%s:%s:%s:%s", TaskConsume, tenantID, r.PromoID, r.OrderID)),
		asynq.Queue(QueueName),
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second),
	), nil
}

// EnqueueConsume schedules consumption for an order. Duplicate enqueues are not errors.
func EnqueueConsume(ctx context.Context, q Enqueuer, tenantID string, r Redemption) error {
	if q == nil {
		return errors.New("promotion task queue not configured")
	}
	task, err := NewConsumeTask(tenantID, r)
	if err != nil {
		return err
	}
	if _, err := q.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", TaskConsume, err)
	}
	return nil
}

// HandleConsumeTask is the asynq handler for TaskConsume. Rejections are final and skip retry;
// storage failures are retried by the broker.
func (s *Service) HandleConsumeTask(ctx context.Context, t *asynq.Task) error {
	var p ConsumePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskConsume, err, asynq.SkipRetry)
	}
	res, err := s.Consume(ctx, p.TenantID, p.Redemption)
	if err != nil {
		if _, rejected := ReasonOf(err); rejected {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	s.logger().Info().
		Str("tenant_id", p.TenantID).
		Str("promo_id", p.Redemption.PromoID).
		Str("order_id", p.Redemption.OrderID).
		Bool("duplicate", res.AlreadyConsumed).
		Int64("times_redeemed", res.TimesRedeemed).
		Msg("promotion consumed")
	return nil
}
