package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/gateway/orders"
	"github.com/mekedron/orderboard/internal/kvstore"
	"github.com/mekedron/orderboard/internal/service/diagnostics"
	"github.com/mekedron/orderboard/internal/service/snapshot"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeAPI struct {
	mu        sync.Mutex
	queries   []orders.QueryOptions
	bulk      []orders.QueryResult
	bulkErr   error
	records   map[string]domain.RawOrder
	orderErrs map[string]error
	fetches   map[string]int
	menu      any
	menuErr   error
	config    any
	block     chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		records:   map[string]domain.RawOrder{},
		orderErrs: map[string]error{},
		fetches:   map[string]int{},
		menu:      map[string]any{"menus": []any{}},
		config:    map[string]any{"diningOptions": []any{}},
	}
}

func (f *fakeAPI) QueryOrders(ctx context.Context, opts orders.QueryOptions) (orders.QueryResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, opts)
	block := f.block
	f.block = nil
	err := f.bulkErr
	result := orders.QueryResult{Success: true}
	if len(f.bulk) > 0 {
		result = f.bulk[0]
		f.bulk = f.bulk[1:]
	}
	f.mu.Unlock()
	if block != nil {
		close(block)
		<-ctx.Done()
		return orders.QueryResult{}, ctx.Err()
	}
	if err != nil {
		return orders.QueryResult{}, err
	}
	return result, nil
}

func (f *fakeAPI) OrderByGUID(_ context.Context, guid string) (domain.RawOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[guid]++
	if err := f.orderErrs[guid]; err != nil {
		return nil, err
	}
	record, ok := f.records[guid]
	if !ok {
		return nil, &orders.UpstreamRequestError{StatusCode: 404}
	}
	return record, nil
}

func (f *fakeAPI) Menu(context.Context) (orders.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.menuErr != nil {
		return orders.Payload{}, f.menuErr
	}
	return orders.Payload{Body: f.menu}, nil
}

func (f *fakeAPI) Config(context.Context) (orders.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return orders.Payload{Body: f.config}, nil
}

func (f *fakeAPI) fetchCount(guid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[guid]
}

func (f *fakeAPI) queueBulk(results ...orders.QueryResult) {
	f.mu.Lock()
	f.bulk = append(f.bulk, results...)
	f.mu.Unlock()
}

func record(guid string, created time.Time, status string) domain.RawOrder {
	return domain.RawOrder{
		"guid":              guid,
		"createdDate":       created.Format(time.RFC3339),
		"fulfillmentStatus": status,
	}
}

type harness struct {
	api      *fakeAPI
	clock    *fakeClock
	recorder *diagnostics.Recorder
	store    *kvstore.Memory
	engine   *Engine
}

func newHarness(t *testing.T, cfg domain.SyncConfig) *harness {
	t.Helper()
	h := &harness{
		api:      newFakeAPI(),
		clock:    &fakeClock{now: base},
		recorder: &diagnostics.Recorder{},
		store:    kvstore.NewMemory(),
	}
	h.engine = h.newEngine(cfg)
	return h
}

func (h *harness) newEngine(cfg domain.SyncConfig) *Engine {
	if cfg.QueryLimit == 0 {
		cfg.QueryLimit = 50
	}
	return New(Options{
		Config: cfg,
		API:    h.api,
		Store:  h.store,
		Sink:   h.recorder,
		Now:    h.clock.Now,
		Sleep:  func(context.Context, time.Duration) error { return nil },
	})
}

func cachedGUIDs(e *Engine) []string {
	return e.cache.GUIDs()
}

func TestOmittedOrderIsRemovedOnlyAfterConfirmation(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailIDs})
	for i, guid := range []string{"A", "B", "C"} {
		h.api.records[guid] = record(guid, base.Add(time.Duration(i-3)*10*time.Minute), "READY")
	}
	h.api.queueBulk(
		orders.QueryResult{Success: true, Detail: domain.DetailIDs, GUIDs: []string{"A", "B", "C"}},
		orders.QueryResult{Success: true, Detail: domain.DetailIDs, GUIDs: []string{"A", "B"}},
	)

	_, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, cachedGUIDs(h.engine))

	delete(h.api.records, "C")
	h.clock.Advance(time.Minute)
	snap, err := h.engine.Refresh(context.Background(), TriggerTimer)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, cachedGUIDs(h.engine))
	assert.Len(t, snap.Orders, 2)
	assert.Equal(t, 1, h.api.fetchCount("A"))
	assert.Equal(t, 2, h.api.fetchCount("C"))

	events := h.recorder.OfType(diagnostics.TypeOmissionDetected)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Payload["count"])
	assert.Equal(t, 1, events[0].Payload["confirmed"])
}

func TestOmittedOldReadyOrderIsReverified(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailIDs})
	h.api.records["A"] = record("A", base.Add(-time.Minute), "READY")
	h.api.records["B"] = record("B", base.Add(-time.Minute), "READY")
	h.api.records["C"] = record("C", base.Add(-40*time.Minute), "READY")
	h.api.queueBulk(
		orders.QueryResult{Success: true, Detail: domain.DetailIDs, GUIDs: []string{"A", "B", "C"}},
		orders.QueryResult{Success: true, Detail: domain.DetailIDs, GUIDs: []string{"A", "B"}},
	)
	_, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)
	require.NotNil(t, h.engine.Snapshot().Cursor)

	delete(h.api.records, "C")
	h.clock.Advance(time.Minute)
	_, err = h.engine.Refresh(context.Background(), TriggerTimer)
	require.NoError(t, err)

	require.NotNil(t, h.api.queries[1].Since)
	assert.True(t, h.api.queries[1].Since.After(base.Add(-40*time.Minute)))
	assert.Equal(t, 2, h.api.fetchCount("C"))
	assert.Equal(t, []string{"A", "B"}, cachedGUIDs(h.engine))
}

func TestOmittedOrderSurvivesUnresolvedVerification(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailIDs})
	h.api.records["A"] = record("A", base.Add(-5*time.Minute), "READY")
	h.api.records["C"] = record("C", base.Add(-time.Minute), "READY")
	h.api.queueBulk(
		orders.QueryResult{Success: true, Detail: domain.DetailIDs, GUIDs: []string{"A", "C"}},
		orders.QueryResult{Success: true, Detail: domain.DetailIDs, GUIDs: []string{"A"}},
	)
	_, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)

	h.api.orderErrs["C"] = &orders.UpstreamRequestError{StatusCode: 503}
	_, err = h.engine.Refresh(context.Background(), TriggerTimer)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, cachedGUIDs(h.engine))
}

func TestFullDetailIsNotCrossCheckedForOmissions(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailFull})
	a := record("A", base.Add(-5*time.Minute), "READY")
	c := record("C", base.Add(-time.Minute), "READY")
	h.api.queueBulk(
		orders.QueryResult{Success: true, Detail: domain.DetailFull, Orders: []domain.RawOrder{a, c}},
		orders.QueryResult{Success: true, Detail: domain.DetailFull, Orders: []domain.RawOrder{a}},
	)
	_, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)
	_, err = h.engine.Refresh(context.Background(), TriggerTimer)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "C"}, cachedGUIDs(h.engine))
	assert.Equal(t, 0, h.api.fetchCount("C"))
	assert.Empty(t, h.recorder.OfType(diagnostics.TypeOmissionDetected))
}

func TestCursorAdvancesToMaxObservedAndNeverRegresses(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailFull, DriftBufferSec: 120})
	h.clock.now = base.Add(time.Hour)
	windowEnd := base.Add(200 * time.Second)
	h.api.queueBulk(
		orders.QueryResult{
			Success: true,
			Detail:  domain.DetailFull,
			Orders: []domain.RawOrder{
				record("t1", base.Add(100*time.Second), "READY"),
				record("t2", base.Add(250*time.Second), "READY"),
			},
			Window: &orders.Window{End: &windowEnd},
		},
		orders.QueryResult{
			Success: true,
			Detail:  domain.DetailFull,
			Orders:  []domain.RawOrder{record("t0", base.Add(50*time.Second), "READY")},
		},
	)

	snap, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)
	require.NotNil(t, snap.Cursor)
	assert.Equal(t, base.Add(250*time.Second), *snap.Cursor)

	snap, err = h.engine.Refresh(context.Background(), TriggerTimer)
	require.NoError(t, err)
	assert.Equal(t, base.Add(250*time.Second), *snap.Cursor)

	require.Len(t, h.api.queries, 2)
	assert.Nil(t, h.api.queries[0].Since)
	assert.Equal(t, 120, h.api.queries[0].LookbackMinutes)
	require.NotNil(t, h.api.queries[1].Since)
	assert.Equal(t, base.Add(250*time.Second-2*time.Minute), *h.api.queries[1].Since)
}

func TestQueryClampsToMaxLookback(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailFull, MaxLookbackMinutes: 180, LookbackMinutes: 60})
	old := base.Add(-10 * time.Hour)
	h.engine.cursor = &old
	query := h.engine.buildQuery(base)
	require.NotNil(t, query.Since)
	assert.Equal(t, base.Add(-3*time.Hour), *query.Since)
}

func TestActiveOrdersAreRepolledUntilReady(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailIDs})
	h.api.records["A"] = record("A", base, "SENT")
	h.api.queueBulk(orders.QueryResult{Success: true, Detail: domain.DetailIDs, GUIDs: []string{"A"}})

	snap, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)
	require.Len(t, snap.Orders, 1)
	assert.False(t, snap.Orders[0].IsReady())
	assert.Equal(t, domain.FulfillmentInProgress, snap.Orders[0].FulfillmentStatus)

	h.api.records["A"] = record("A", base, "READY")
	_, err = h.engine.Refresh(context.Background(), TriggerTimer)
	require.NoError(t, err)
	assert.Equal(t, 2, h.api.fetchCount("A"))

	_, err = h.engine.Refresh(context.Background(), TriggerTimer)
	require.NoError(t, err)
	assert.Equal(t, 2, h.api.fetchCount("A"))
}

func TestVoidedBulkRecordIsRemoved(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailFull})
	h.api.queueBulk(
		orders.QueryResult{Success: true, Detail: domain.DetailFull, Orders: []domain.RawOrder{record("A", base, "READY")}},
		orders.QueryResult{Success: true, Detail: domain.DetailFull, Orders: []domain.RawOrder{{"guid": "A", "voided": true}}},
	)
	_, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)
	snap, err := h.engine.Refresh(context.Background(), TriggerTimer)
	require.NoError(t, err)
	assert.Empty(t, snap.Orders)
}

func TestLookupChangeRenormalizesCache(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailFull})
	order := domain.RawOrder{
		"guid":      "A",
		"createdAt": base.Format(time.RFC3339),
		"items":     []any{map[string]any{"item": map[string]any{"guid": "i-1"}, "name": "raw", "status": "READY"}},
	}
	h.api.queueBulk(
		orders.QueryResult{Success: true, Detail: domain.DetailFull, Orders: []domain.RawOrder{order}},
		orders.QueryResult{Success: true, Detail: domain.DetailFull},
	)
	snap, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.LookupVersion)
	assert.Equal(t, "raw", snap.Orders[0].Items[0].Name)

	h.api.menu = map[string]any{"menuItems": []any{map[string]any{"guid": "i-1", "kitchenName": "KITCHEN"}}}
	snap, err = h.engine.Refresh(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.LookupVersion)
	assert.Equal(t, "KITCHEN", snap.Orders[0].Items[0].Name)
	assert.Len(t, h.recorder.OfType(diagnostics.TypeLookupRebuilt), 2)
}

func TestFailureWithoutUsableSnapshot(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{})
	h.api.bulkErr = &orders.UpstreamRequestError{StatusCode: 502}

	_, err := h.engine.Refresh(context.Background(), TriggerTimer)
	require.ErrorIs(t, err, ErrNoUsableSnapshot)
	assert.NoError(t, h.engine.Snapshot().Err)

	snap, err := h.engine.Refresh(context.Background(), TriggerManual)
	require.ErrorIs(t, err, ErrNoUsableSnapshot)
	assert.ErrorIs(t, snap.Err, orders.ErrUpstream)
	assert.ErrorIs(t, h.engine.Snapshot().Err, ErrNoUsableSnapshot)
}

func TestLookupFailureWithoutSnapshotFailsCycle(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailIDs})
	h.api.menuErr = &orders.UpstreamRequestError{StatusCode: 503}

	_, err := h.engine.Refresh(context.Background(), TriggerTimer)
	require.ErrorIs(t, err, ErrNoUsableSnapshot)
	assert.NoError(t, h.engine.Snapshot().Err)

	snap, err := h.engine.Refresh(context.Background(), TriggerManual)
	require.ErrorIs(t, err, ErrNoUsableSnapshot)
	assert.ErrorIs(t, snap.Err, snapshot.ErrNoSnapshot)
	assert.ErrorIs(t, h.engine.Snapshot().Err, ErrNoUsableSnapshot)
	assert.Empty(t, h.recorder.OfType(diagnostics.TypeRefreshSuccess))

	var stages []any
	for _, event := range h.recorder.OfType(diagnostics.TypeRefreshError) {
		if event.Level == diagnostics.LevelError {
			stages = append(stages, event.Payload["stage"])
		}
	}
	assert.Equal(t, []any{"menu", "menu"}, stages)
}

func TestLookupFailureWithHeldSnapshotKeepsTables(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailIDs})
	_, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)

	h.api.menuErr = &orders.UpstreamRequestError{StatusCode: 503}
	snap, err := h.engine.Refresh(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.NoError(t, snap.Err)
	assert.Equal(t, 1, snap.LookupVersion)
	assert.Len(t, h.recorder.OfType(diagnostics.TypeSnapshotFallback), 1)
}

func TestFailureWithUsableSnapshotKeepsView(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailFull})
	h.api.queueBulk(orders.QueryResult{Success: true, Detail: domain.DetailFull, Orders: []domain.RawOrder{record("A", base, "SENT")}})
	h.api.records["A"] = record("A", base, "SENT")
	_, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)

	h.api.bulkErr = errors.New("network down")
	snap, err := h.engine.Refresh(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.NoError(t, snap.Err)
	assert.Len(t, snap.Orders, 1)
	assert.Equal(t, 1, h.api.fetchCount("A"))

	var fallback bool
	for _, event := range h.recorder.OfType(diagnostics.TypeRefreshError) {
		if event.Payload["fallback"] == true {
			fallback = true
		}
	}
	assert.True(t, fallback)
}

func TestSaturationEmitsWarning(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailIDs, QueryLimit: 2})
	h.api.records["A"] = record("A", base, "READY")
	h.api.records["B"] = record("B", base, "READY")
	h.api.queueBulk(orders.QueryResult{Success: true, Detail: domain.DetailIDs, GUIDs: []string{"A", "B"}})
	_, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)

	events := h.recorder.OfType(diagnostics.TypeLimitSaturated)
	require.Len(t, events, 1)
	assert.Equal(t, diagnostics.LevelWarn, events[0].Level)
	assert.Equal(t, "limit_reached", events[0].Payload["reason"])

	saturated, reason := isSaturated(orders.QueryResult{Debug: map[string]any{"nextPageToken": "abc"}}, 10)
	assert.True(t, saturated)
	assert.Equal(t, "next_page_token", reason)
}

func TestNewCycleCancelsInFlightCycle(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailIDs})
	started := make(chan struct{})
	h.api.block = started
	h.api.queueBulk(orders.QueryResult{Success: true, Detail: domain.DetailIDs})

	firstErr := make(chan error, 1)
	go func() {
		_, err := h.engine.Refresh(context.Background(), TriggerTimer)
		firstErr <- err
	}()
	<-started

	_, err := h.engine.Refresh(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	assert.Len(t, h.recorder.OfType(diagnostics.TypeRefreshSuccess), 1)
	assert.Empty(t, h.recorder.OfType(diagnostics.TypeRefreshError))
}

func TestRestoreResumesFromStore(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailFull})
	h.api.queueBulk(orders.QueryResult{Success: true, Detail: domain.DetailFull, Orders: []domain.RawOrder{record("A", base, "READY")}})
	_, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)

	restarted := h.newEngine(domain.SyncConfig{Detail: domain.DetailFull})
	var published []Snapshot
	restarted.Subscribe(func(s Snapshot) { published = append(published, s) })
	restarted.Restore(context.Background())

	require.Len(t, published, 1)
	require.Len(t, published[0].Orders, 1)
	assert.Equal(t, "A", published[0].Orders[0].ID)
	require.NotNil(t, published[0].Cursor)
	assert.Equal(t, base, *published[0].Cursor)
	assert.Equal(t, 1, restarted.cache.Tables().Version)
}

func TestRestoreDropsCorruptOrderCache(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailFull})
	require.NoError(t, h.store.Set(context.Background(), KeyOrderCache, []byte(`{"entries":`)))

	h.engine.Restore(context.Background())

	_, ok, err := h.store.Get(context.Background(), KeyOrderCache)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.engine.Snapshot().Orders)
	events := h.recorder.OfType(diagnostics.TypeStoreError)
	require.Len(t, events, 1)
	assert.Equal(t, "decode", events[0].Payload["op"])
}

func TestEvictionDropsUnseenReadyOrders(t *testing.T) {
	h := newHarness(t, domain.SyncConfig{Detail: domain.DetailFull, ReadyTTLSec: 60, ActiveTTLSec: 600})
	h.api.queueBulk(
		orders.QueryResult{Success: true, Detail: domain.DetailFull, Orders: []domain.RawOrder{record("A", base, "READY")}},
		orders.QueryResult{Success: true, Detail: domain.DetailFull},
	)
	_, err := h.engine.Refresh(context.Background(), TriggerMount)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	snap, err := h.engine.Refresh(context.Background(), TriggerTimer)
	require.NoError(t, err)
	assert.Empty(t, snap.Orders)
	assert.Len(t, h.recorder.OfType(diagnostics.TypeOrdersEvicted), 1)
}
