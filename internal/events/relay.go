package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/resto-order-engine/internal/obs"
)

// Source is the outbox table.
type Source interface {
	FetchUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []int64) error
}

// Locker guards a pass so only one relay publishes at a time.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error)
}

// RelayLockKey is the redis key held while a relay pass runs.
const RelayLockKey = "outbox:relay"

// Relay polls the outbox and publishes pending rows in id order.
type Relay struct {
	Source    Source
	Publisher Publisher
	Lock      Locker
	Interval  time.Duration
	Batch     int
	Logger    *zerolog.Logger
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r == nil || r.Source == nil || r.Publisher == nil {
		return errors.New("events: relay not configured")
	}
	interval := r.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger().Warn().Err(err).Msg("outbox relay pass failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch and returns how many rows were marked published. When another
// relay holds the lock it returns 0 without touching the outbox.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var published int
	pass := func(ctx context.Context) error {
		n, err := r.publishBatch(ctx)
		published = n
		return err
	}
	if r.Lock == nil {
		err := pass(ctx)
		return published, err
	}
	ttl := 4 * r.Interval
	if ttl < 10*time.Second {
		ttl = 10 * time.Second
	}
	acquired, err := r.Lock.TryWithLock(ctx, RelayLockKey, ttl, pass)
	if err != nil {
		return published, err
	}
	if !acquired {
		r.logger().Debug().Msg("outbox relay lock held elsewhere")
	}
	return published, nil
}

func (r *Relay) publishBatch(ctx context.Context) (int, error) {
	batch := r.Batch
	if batch <= 0 {
		batch = 100
	}
	pending, err := r.Source.FetchUnpublished(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := r.Publisher.Publish(ctx, pending...); err != nil {
		obs.CountOutcome(obs.OutboxPublishTotal, "error")
		return 0, fmt.Errorf("publish outbox: %w", err)
	}
	ids := make([]int64, 0, len(pending))
	for _, ev := range pending {
		ids = append(ids, ev.ID)
	}
	if err := r.Source.MarkPublished(ctx, ids); err != nil {
		// rows are re-published on the next pass; consumers dedupe on event id
		return 0, fmt.Errorf("mark outbox published: %w", err)
	}
	for range pending {
		obs.CountOutcome(obs.OutboxPublishTotal, "published")
	}
	r.logger().Debug().Int("count", len(pending)).Msg("outbox batch published")
	return len(pending), nil
}

func (r *Relay) logger() *zerolog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
