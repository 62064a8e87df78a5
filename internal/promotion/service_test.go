package promotion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/resto-order-engine/internal/pricing"
)

type memStore struct {
	mu          sync.Mutex
	promos      map[string]*Promotion
	redemptions map[string]Redemption
	failInsert  error
}

func newMemStore(promos ...Promotion) *memStore {
	s := &memStore{promos: map[string]*Promotion{}, redemptions: map[string]Redemption{}}
	for i := range promos {
		p := promos[i]
		s.promos[p.ID] = &p
	}
	return s
}

func (s *memStore) GetPromotionByCode(_ context.Context, _ string, code string) (Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.promos {
		if p.Code == code {
			return *p, nil
		}
	}
	return Promotion{}, ErrNotFound
}

func (s *memStore) CountRedemptionsByCustomer(_ context.Context, _ string, promoID, customerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countCustomer(promoID, customerID), nil
}

func (s *memStore) countCustomer(promoID, customerID string) int64 {
	var n int64
	for _, r := range s.redemptions {
		if r.PromoID == promoID && r.CustomerID == customerID {
			n++
		}
	}
	return n
}

// InTx serialises transactions and restores the previous state when fn fails.
func (s *memStore) InTx(ctx context.Context, _ string, fn func(context.Context, ConsumeTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	promos := make(map[string]Promotion, len(s.promos))
	for id, p := range s.promos {
		promos[id] = *p
	}
	redemptions := make(map[string]Redemption, len(s.redemptions))
	for k, v := range s.redemptions {
		redemptions[k] = v
	}
	if err := fn(ctx, memTx{s}); err != nil {
		for id, p := range promos {
			p := p
			s.promos[id] = &p
		}
		s.redemptions = redemptions
		return err
	}
	return nil
}

type memTx struct{ s *memStore }

func (t memTx) LockPromotion(_ context.Context, promoID string) (Promotion, error) {
	p, ok := t.s.promos[promoID]
	if !ok {
		return Promotion{}, ErrNotFound
	}
	return *p, nil
}

func (t memTx) RedemptionExists(_ context.Context, promoID, orderID string) (bool, error) {
	_, ok := t.s.redemptions[promoID+"/"+orderID]
	return ok, nil
}

func (t memTx) CountCustomerRedemptions(_ context.Context, promoID, customerID string) (int64, error) {
	return t.s.countCustomer(promoID, customerID), nil
}

func (t memTx) InsertRedemption(_ context.Context, r Redemption) error {
	if t.s.failInsert != nil {
		return t.s.failInsert
	}
	t.s.redemptions[r.PromoID+"/"+r.OrderID] = r
	return nil
}

func (t memTx) IncrementRedeemed(_ context.Context, promoID string) (int64, error) {
	p := t.s.promos[promoID]
	p.TimesRedeemed++
	return p.TimesRedeemed, nil
}

func fixedNow() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }

func TestServiceValidateNormalizesAndAllocates(t *testing.T) {
	store := newMemStore(Promotion{ID: "p1", Code: "LUNCH10", Kind: KindPercent, Value: 10, Active: true})
	svc := &Service{Store: store, Now: fixedNow}
	lines, err := pricing.PriceAll([]pricing.CartLine{{BasePriceCents: 1234, Quantity: 1}, {BasePriceCents: 500, Quantity: 2}})
	require.NoError(t, err)

	applied, err := svc.Validate(context.Background(), "t1", Request{Code: " lunch 10 ", Lines: lines})
	require.NoError(t, err)
	require.Equal(t, "p1", applied.PromoID)
	require.EqualValues(t, 223, applied.DiscountTotalCents)
	require.EqualValues(t, 0, store.promos["p1"].TimesRedeemed, "validation never increments")
}

func TestServiceValidateUnknownCode(t *testing.T) {
	svc := &Service{Store: newMemStore(), Now: fixedNow}
	_, err := svc.Validate(context.Background(), "t1", Request{Code: "NOPE"})
	reason, ok := ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, ReasonNotFound, reason)

	_, err = svc.Validate(context.Background(), "t1", Request{Code: "  "})
	reason, _ = ReasonOf(err)
	require.Equal(t, ReasonNotFound, reason)
}

func TestServiceValidateCountsCustomerUsage(t *testing.T) {
	store := newMemStore(Promotion{ID: "p1", Code: "ONCE", Kind: KindFixed, Value: 100, Active: true, Constraints: Constraints{PerUserLimit: int64Ptr(1)}})
	store.redemptions["p1/o-old"] = Redemption{PromoID: "p1", OrderID: "o-old", CustomerID: "alice"}
	svc := &Service{Store: store, Now: fixedNow}
	lines := []pricing.PricedLine{line("a", 1000, "")}

	_, err := svc.Validate(context.Background(), "t1", Request{Code: "ONCE", CustomerID: "alice", Lines: lines})
	reason, _ := ReasonOf(err)
	require.Equal(t, ReasonLimitReached, reason)

	_, err = svc.Validate(context.Background(), "t1", Request{Code: "ONCE", CustomerID: "bob", Lines: lines})
	require.NoError(t, err)
}

func TestConsumeIsIdempotentPerOrder(t *testing.T) {
	store := newMemStore(Promotion{ID: "p1", Code: "LUNCH10", Active: true})
	svc := &Service{Store: store, Now: fixedNow}
	ctx := context.Background()

	res, err := svc.Consume(ctx, "t1", Redemption{PromoID: "p1", Code: "lunch10", OrderID: "o1"})
	require.NoError(t, err)
	require.False(t, res.AlreadyConsumed)
	require.EqualValues(t, 1, res.TimesRedeemed)

	res, err = svc.Consume(ctx, "t1", Redemption{PromoID: "p1", Code: "LUNCH10", OrderID: "o1"})
	require.NoError(t, err)
	require.True(t, res.AlreadyConsumed)
	require.EqualValues(t, 1, store.promos["p1"].TimesRedeemed)
	require.Equal(t, fixedNow(), store.redemptions["p1/o1"].RedeemedAt)
}

func TestConsumeRechecksGlobalLimitTransactionally(t *testing.T) {
	store := newMemStore(Promotion{ID: "p1", Code: "LAST", Active: true, Constraints: Constraints{GlobalLimit: int64Ptr(3)}})
	svc := &Service{Store: store, Now: fixedNow}

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Consume(context.Background(), "t1", Redemption{PromoID: "p1", OrderID: string(rune('a' + i))})
		}(i)
	}
	wg.Wait()

	var ok, limited int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		reason, _ := ReasonOf(err)
		require.Equal(t, ReasonLimitReached, reason)
		limited++
	}
	require.Equal(t, 3, ok)
	require.Equal(t, 7, limited)
	require.EqualValues(t, 3, store.promos["p1"].TimesRedeemed)
	require.Len(t, store.redemptions, 3)
}

func TestConsumeRollsBackOnFailure(t *testing.T) {
	store := newMemStore(Promotion{ID: "p1", Code: "X", Active: true})
	store.failInsert = errors.New("disk full")
	svc := &Service{Store: store, Now: fixedNow}
	_, err := svc.Consume(context.Background(), "t1", Redemption{PromoID: "p1", OrderID: "o1"})
	require.Error(t, err)
	require.EqualValues(t, 0, store.promos["p1"].TimesRedeemed)
	require.Empty(t, store.redemptions)
}

func TestConsumeRejectsMismatchedCodeAndMissingIDs(t *testing.T) {
	svc := &Service{Store: newMemStore(Promotion{ID: "p1", Code: "X", Active: true}), Now: fixedNow}
	_, err := svc.Consume(context.Background(), "t1", Redemption{PromoID: "p1", Code: "Y", OrderID: "o1"})
	reason, _ := ReasonOf(err)
	require.Equal(t, ReasonNotFound, reason)

	_, err = svc.Consume(context.Background(), "t1", Redemption{PromoID: "p1"})
	require.Error(t, err)
	_, rejected := ReasonOf(err)
	require.False(t, rejected)
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "x"}, nil
}

func TestEnqueueConsumeAndHandleTask(t *testing.T) {
	store := newMemStore(Promotion{ID: "p1", Code: "X", Active: true, Constraints: Constraints{GlobalLimit: int64Ptr(1)}})
	svc := &Service{Store: store, Now: fixedNow}
	q := &recordingEnqueuer{}

	require.NoError(t, EnqueueConsume(context.Background(), q, "t1", Redemption{PromoID: "p1", OrderID: "o1"}))
	require.Len(t, q.tasks, 1)
	require.Equal(t, TaskConsume, q.tasks[0].Type())
	require.NoError(t, svc.HandleConsumeTask(context.Background(), q.tasks[0]))
	require.NoError(t, svc.HandleConsumeTask(context.Background(), q.tasks[0]), "redelivery is a no-op")
	require.EqualValues(t, 1, store.promos["p1"].TimesRedeemed)

	task, err := NewConsumeTask("t1", Redemption{PromoID: "p1", OrderID: "o2"})
	require.NoError(t, err)
	err = svc.HandleConsumeTask(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	require.NoError(t, EnqueueConsume(context.Background(), &recordingEnqueuer{err: asynq.ErrTaskIDConflict}, "t1", Redemption{PromoID: "p1", OrderID: "o1"}))
	require.Error(t, EnqueueConsume(context.Background(), nil, "t1", Redemption{}))
}
