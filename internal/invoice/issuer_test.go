package invoice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

type orderRow struct {
	number  string
	date    time.Time
	version int
}

type counterRow struct {
	next    int64
	version int
}

// optimisticStore validates read versions at commit time, like a document store with
// optimistic transactions.
type optimisticStore struct {
	mu       sync.Mutex
	counters map[string]*counterRow
	orders   map[string]map[string]*orderRow
	commits  int
	// conflictsLeft forces the next N commits to fail.
	conflictsLeft int
	txCount       int
}

func newOptimisticStore() *optimisticStore {
	return &optimisticStore{counters: map[string]*counterRow{}, orders: map[string]map[string]*orderRow{}}
}

func (s *optimisticStore) addOrder(tenantID, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orders[tenantID] == nil {
		s.orders[tenantID] = map[string]*orderRow{}
	}
	s.orders[tenantID][orderID] = &orderRow{}
}

func (s *optimisticStore) addIssuedOrder(tenantID, orderID, number string) {
	s.addOrder(tenantID, orderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[tenantID][orderID].number = number
}

type memTx struct {
	s              *optimisticStore
	tenantID       string
	counterVersion int
	counterRead    bool
	orderVersions  map[string]int
	newCounter     *int64
	orderWrites    map[string]orderRow
}

func (s *optimisticStore) RunInTx(ctx context.Context, tenantID string, fn func(context.Context, Tx) error) error {
	s.mu.Lock()
	s.txCount++
	s.mu.Unlock()
	tx := &memTx{s: s, tenantID: tenantID, orderVersions: map[string]int{}, orderWrites: map[string]orderRow{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	runtime.Gosched()
	return tx.commit()
}

func (t *memTx) GetOrderInvoice(_ context.Context, orderID string) (string, time.Time, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	row, ok := t.s.orders[t.tenantID][orderID]
	if !ok {
		return "", time.Time{}, ErrOrderNotFound
	}
	t.orderVersions[orderID] = row.version
	return row.number, row.date, nil
}

func (t *memTx) GetCounter(context.Context) (int64, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.counterRead = true
	row, ok := t.s.counters[t.tenantID]
	if !ok {
		t.counterVersion = 0
		return 0, false, nil
	}
	t.counterVersion = row.version
	return row.next, true, nil
}

func (t *memTx) PutCounter(_ context.Context, expected int64, exists bool, next int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	row, ok := t.s.counters[t.tenantID]
	if ok != exists || (ok && row.next != expected) {
		return ErrConflict
	}
	t.newCounter = &next
	return nil
}

func (t *memTx) SetOrderInvoice(_ context.Context, orderID, number string, date time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, row := range t.s.orders[t.tenantID] {
		if id != orderID && row.number == number {
			return ErrNumberTaken
		}
	}
	t.orderWrites[orderID] = orderRow{number: number, date: date}
	return nil
}

func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictsLeft > 0 && (t.newCounter != nil || len(t.orderWrites) > 0) {
		s.conflictsLeft--
		return ErrConflict
	}
	if t.counterRead {
		version := 0
		if row, ok := s.counters[t.tenantID]; ok {
			version = row.version
		}
		if version != t.counterVersion {
			return ErrConflict
		}
	}
	for id, v := range t.orderVersions {
		if s.orders[t.tenantID][id].version != v {
			return ErrConflict
		}
	}
	for id := range t.orderWrites {
		if s.orders[t.tenantID][id].number != "" {
			return ErrConflict
		}
	}
	if t.newCounter != nil {
		row, ok := s.counters[t.tenantID]
		if !ok {
			row = &counterRow{}
			s.counters[t.tenantID] = row
		}
		row.next = *t.newCounter
		row.version++
	}
	for id, w := range t.orderWrites {
		row := s.orders[t.tenantID][id]
		row.number, row.date = w.number, w.date
		row.version++
	}
	s.commits++
	return nil
}

type staticConfigs struct {
	cfg Config
	err error
}

func (c staticConfigs) InvoiceConfig(context.Context, string) (Config, error) { return c.cfg, c.err }

var enabled = Config{Enabled: true, Prefix: "INV", Series: "2026", Padding: 5}

func newIssuer(s Store) *Issuer {
	return &Issuer{
		Store:       s,
		Configs:     staticConfigs{cfg: enabled},
		Now:         func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("X", 3600)) },
		MaxAttempts: 50,
	}
}

func TestFormat(t *testing.T) {
	require.Equal(t, "INV-2026-00042", Format(enabled, 42))
	require.Equal(t, "INV-42-A", Format(Config{Prefix: "INV", Suffix: "A"}, 42))
	require.Equal(t, "123456", Format(Config{Padding: 3}, 123456))
	require.Equal(t, "S1-007", Format(Config{Prefix: "  ", Series: "S1", Padding: 3}, 7))
}

func TestSequence(t *testing.T) {
	n, ok := Sequence(enabled, "INV-2026-00042")
	require.True(t, ok)
	require.EqualValues(t, 42, n)

	n, ok = Sequence(Config{Prefix: "INV", Suffix: "A"}, "INV-7-A")
	require.True(t, ok)
	require.EqualValues(t, 7, n)

	n, ok = Sequence(Config{}, "15")
	require.True(t, ok)
	require.EqualValues(t, 15, n)

	for _, number := range []string{"INV-2025-00042", "INV-2026-42", "INV-2026-0042x", "INV-2026-00000", "OLD/42"} {
		_, ok := Sequence(enabled, number)
		require.False(t, ok, number)
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	store := newOptimisticStore()
	store.addOrder("t1", "o1")
	issuer := newIssuer(store)

	first, err := issuer.Ensure(context.Background(), "t1", "o1")
	require.NoError(t, err)
	require.Equal(t, "INV-2026-00001", first.Number)
	require.False(t, first.Reused)
	require.Equal(t, time.UTC, first.Date.Location())

	second, err := issuer.Ensure(context.Background(), "t1", "o1")
	require.NoError(t, err)
	require.Equal(t, first.Number, second.Number)
	require.True(t, second.Reused)
	require.EqualValues(t, 2, store.counters["t1"].next, "counter incremented exactly once")
	require.Equal(t, 2, store.commits)
}

func TestEnsureConcurrentDistinctOrdersAreGapFree(t *testing.T) {
	const n = 20
	store := newOptimisticStore()
	for i := 0; i < n; i++ {
		store.addOrder("t1", fmt.Sprintf("o%d", i))
	}
	store.addOrder("t2", "other")
	issuer := newIssuer(store)

	var wg sync.WaitGroup
	numbers := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			issued, err := issuer.Ensure(context.Background(), "t1", fmt.Sprintf("o%d", i))
			errs[i] = err
			if issued != nil {
				numbers[i] = issued.Number
			}
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Strings(numbers)
	for i, num := range numbers {
		require.Equal(t, Format(enabled, int64(i+1)), num)
	}
	require.EqualValues(t, n+1, store.counters["t1"].next)

	other, err := issuer.Ensure(context.Background(), "t2", "other")
	require.NoError(t, err)
	require.Equal(t, "INV-2026-00001", other.Number, "counters are per tenant")
}

func TestEnsureConcurrentSameOrderIssuesOnce(t *testing.T) {
	store := newOptimisticStore()
	store.addOrder("t1", "o1")
	issuer := newIssuer(store)

	var wg sync.WaitGroup
	results := make([]string, 10)
	errs := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			issued, err := issuer.Ensure(context.Background(), "t1", "o1")
			errs[i] = err
			if issued != nil {
				results[i] = issued.Number
			}
		}(i)
	}
	wg.Wait()
	for i, r := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "INV-2026-00001", r)
	}
	require.EqualValues(t, 2, store.counters["t1"].next)
}

func TestEnsureSkipsNumbersHeldByImportedOrders(t *testing.T) {
	store := newOptimisticStore()
	store.addIssuedOrder("t1", "legacy-1", "INV-2026-00001")
	store.addIssuedOrder("t1", "legacy-2", "INV-2026-00002")
	store.addOrder("t1", "o1")
	store.addOrder("t1", "o2")
	issuer := newIssuer(store)
	issuer.MaxAttempts = 1

	first, err := issuer.Ensure(context.Background(), "t1", "o1")
	require.NoError(t, err)
	require.Equal(t, "INV-2026-00003", first.Number)
	require.EqualValues(t, 4, store.counters["t1"].next)

	second, err := issuer.Ensure(context.Background(), "t1", "o2")
	require.NoError(t, err)
	require.Equal(t, "INV-2026-00004", second.Number)
	require.Equal(t, 2, store.txCount, "taken numbers are skipped without retrying the transaction")
}

func TestEnsureStopsAfterTooManyTakenNumbers(t *testing.T) {
	store := newOptimisticStore()
	for n := int64(1); n <= maxSkips+1; n++ {
		store.addIssuedOrder("t1", fmt.Sprintf("legacy-%d", n), Format(enabled, n))
	}
	store.addOrder("t1", "o1")
	issuer := newIssuer(store)

	_, err := issuer.Ensure(context.Background(), "t1", "o1")
	require.ErrorIs(t, err, ErrNumberTaken)
	require.NotErrorIs(t, err, ErrTransient)
	require.Equal(t, 1, store.txCount)
	require.Empty(t, store.counters)

	rec := httptest.NewRecorder()
	common.WriteError(rec, ToAppError(err))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestEnsureRetriesConflictsThenSucceeds(t *testing.T) {
	store := newOptimisticStore()
	store.addOrder("t1", "o1")
	store.conflictsLeft = 3
	issuer := newIssuer(store)
	issuer.MaxAttempts = 4
	issuer.Backoff = time.Millisecond

	issued, err := issuer.Ensure(context.Background(), "t1", "o1")
	require.NoError(t, err)
	require.Equal(t, "INV-2026-00001", issued.Number)
	require.Equal(t, 4, store.txCount)
}

func TestEnsureSurfacesTransientAfterBoundedRetries(t *testing.T) {
	store := newOptimisticStore()
	store.addOrder("t1", "o1")
	store.conflictsLeft = 100
	issuer := newIssuer(store)
	issuer.MaxAttempts = 3

	_, err := issuer.Ensure(context.Background(), "t1", "o1")
	require.ErrorIs(t, err, ErrTransient)
	require.Equal(t, 3, store.txCount)
	require.Empty(t, store.counters, "no partial counter writes")
	require.Empty(t, store.orders["t1"]["o1"].number)
}

func TestEnsureDisabledSkipsTransaction(t *testing.T) {
	store := newOptimisticStore()
	issuer := newIssuer(store)
	issuer.Configs = staticConfigs{cfg: Config{Enabled: false}}
	issued, err := issuer.Ensure(context.Background(), "t1", "o1")
	require.NoError(t, err)
	require.Nil(t, issued)
	require.Zero(t, store.txCount)
}

func TestEnsureOrderNotFound(t *testing.T) {
	issuer := newIssuer(newOptimisticStore())
	_, err := issuer.Ensure(context.Background(), "t1", "missing")
	require.ErrorIs(t, err, ErrOrderNotFound)

	issuer.Configs = staticConfigs{err: errors.New("boom")}
	_, err = issuer.Ensure(context.Background(), "t1", "missing")
	require.Error(t, err)
}

func TestEnsureHonoursContextDuringBackoff(t *testing.T) {
	store := newOptimisticStore()
	store.addOrder("t1", "o1")
	store.conflictsLeft = 100
	issuer := newIssuer(store)
	issuer.Backoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := issuer.Ensure(ctx, "t1", "o1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestIssueHandler(t *testing.T) {
	store := newOptimisticStore()
	store.addOrder("t1", "o1")
	h := &Handler{Issuer: newIssuer(store)}
	r := chi.NewRouter()
	r.Post("/orders/{id}/invoice", h.Issue)

	call := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders/"+id+"/invoice", nil)
		req = req.WithContext(tenant.WithTenant(req.Context(), "t1"))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}
	rec := call("o1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "INV-2026-00001")

	require.Equal(t, http.StatusNotFound, call("nope").Code)

	store.conflictsLeft = 1000
	store.addOrder("t1", "o2")
	h.Issuer.MaxAttempts = 2
	require.Equal(t, http.StatusServiceUnavailable, call("o2").Code)
}
