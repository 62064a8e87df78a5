package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/resto-order-engine/internal/events"
	"github.com/noah-isme/resto-order-engine/internal/lock"
)

func TestNewEncodesPayload(t *testing.T) {
	ev, err := events.New("t1", events.TopicOrderPlaced, "o1", map[string]any{"orderId": "o1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"orderId":"o1"}`, string(ev.Payload))

	ev, err = events.New("t1", events.TopicOrderPlaced, "o1", nil)
	require.NoError(t, err)
	require.Equal(t, "{}", string(ev.Payload))

	ev, err = events.New("t1", events.TopicOrderPlaced, "o1", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(ev.Payload))

	_, err = events.New("t1", events.TopicOrderPlaced, "o1", "not json")
	require.Error(t, err)
	_, err = events.New("t1", " ", "o1", nil)
	require.Error(t, err)
	_, err = events.New("t1", events.TopicOrderPlaced, "", nil)
	require.Error(t, err)
}

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaPublisherKeysByTenantAndAggregate(t *testing.T) {
	w := &captureWriter{}
	pub := &events.KafkaPublisher{Writer: w}
	require.NoError(t, pub.Publish(context.Background()))
	require.Empty(t, w.msgs)

	ev, err := events.New("t1", events.TopicInvoiceIssued, "o9", map[string]string{"invoiceNumber": "INV-1"})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "t1:o9", string(w.msgs[0].Key))
	require.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	require.Equal(t, events.TopicInvoiceIssued, string(w.msgs[0].Headers[0].Value))
}

type memOutbox struct {
	mu        sync.Mutex
	rows      []events.Event
	published map[int64]bool
	markErr   error
}

func newOutbox(n int) *memOutbox {
	o := &memOutbox{published: map[int64]bool{}}
	for i := 1; i <= n; i++ {
		o.rows = append(o.rows, events.Event{ID: int64(i), TenantID: "t1", Topic: events.TopicOrderPlaced, Key: "o", Payload: json.RawMessage(`{}`), CreatedAt: time.Now()})
	}
	return o
}

func (o *memOutbox) FetchUnpublished(_ context.Context, limit int) ([]events.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []events.Event
	for _, r := range o.rows {
		if !o.published[r.ID] && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (o *memOutbox) MarkPublished(_ context.Context, ids []int64) error {
	if o.markErr != nil {
		return o.markErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		o.published[id] = true
	}
	return nil
}

type countingPublisher struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (p *countingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range evs {
		p.ids = append(p.ids, ev.ID)
	}
	return nil
}

func TestRelayFlushPublishesInBatches(t *testing.T) {
	outbox := newOutbox(5)
	pub := &countingPublisher{}
	relay := &events.Relay{Source: outbox, Publisher: pub, Batch: 2}

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	for {
		n, err = relay.Flush(context.Background())
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, pub.ids)
}

func TestRelayLeavesRowsPendingOnPublishFailure(t *testing.T) {
	outbox := newOutbox(2)
	relay := &events.Relay{Source: outbox, Publisher: &countingPublisher{err: errors.New("broker down")}}
	_, err := relay.Flush(context.Background())
	require.Error(t, err)
	require.Empty(t, outbox.published)
}

func TestRelaySkipsPassWhileLockIsHeld(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	outbox := newOutbox(3)
	pub := &countingPublisher{}
	relay := &events.Relay{Source: outbox, Publisher: pub, Lock: lock.Locker{R: client}, Interval: time.Second}

	require.NoError(t, mr.Set(events.RelayLockKey, "someone-else"))
	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, pub.ids)

	mr.Del(events.RelayLockKey)
	n, err = relay.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	outbox := newOutbox(1)
	pub := &countingPublisher{}
	relay := &events.Relay{Source: outbox, Publisher: pub, Interval: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.ids) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
