package ordercache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/service/lookup"
)

var (
	t0   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ttls = TTLs{Ready: 5 * time.Minute, Active: 45 * time.Minute}
)

func rawOrder(t *testing.T, raw string) domain.RawOrder {
	t.Helper()
	var out domain.RawOrder
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestApplyRawIsIdempotent(t *testing.T) {
	cache := New(nil, ttls)
	order := rawOrder(t, `{"guid":"g-1","items":[{"name":"Tea","status":"SENT"}]}`)

	guid, outcome := cache.ApplyRaw(order, t0)
	require.Equal(t, "g-1", guid)
	require.Equal(t, OutcomeInserted, outcome)
	first, _ := cache.Get("g-1")

	_, outcome = cache.ApplyRaw(rawOrder(t, `{"items":[{"status":"SENT","name":"Tea"}],"guid":"g-1"}`), t0.Add(time.Minute))
	assert.Equal(t, OutcomeTouched, outcome)
	second, _ := cache.Get("g-1")

	assert.Equal(t, t0.Add(time.Minute), second.LastSeenAt)
	second.LastSeenAt = first.LastSeenAt
	second.Raw = first.Raw
	assert.Equal(t, first, second)
}

func TestApplyRawRenormalizesOnChange(t *testing.T) {
	cache := New(nil, ttls)
	cache.ApplyRaw(rawOrder(t, `{"guid":"g-1","items":[{"name":"Tea","status":"SENT"}]}`), t0)
	_, outcome := cache.ApplyRaw(rawOrder(t, `{"guid":"g-1","items":[{"name":"Tea","status":"READY"}]}`), t0)
	assert.Equal(t, OutcomeUpdated, outcome)
	entry, _ := cache.Get("g-1")
	assert.True(t, entry.IsReady)
}

func TestVoidedOrdersNeverStay(t *testing.T) {
	cache := New(nil, ttls)
	_, outcome := cache.ApplyRaw(rawOrder(t, `{"guid":"g-1","voided":true}`), t0)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.False(t, cache.Has("g-1"))

	cache.ApplyRaw(rawOrder(t, `{"guid":"g-2"}`), t0)
	seen := cache.ApplyBatch([]domain.RawOrder{rawOrder(t, `{"guid":"g-2","voided":true}`)}, t0)
	assert.Contains(t, seen, "g-2")
	assert.Equal(t, 0, cache.Len())
}

func TestApplyRawIgnoresOrdersWithoutGUID(t *testing.T) {
	cache := New(nil, ttls)
	guid, outcome := cache.ApplyRaw(rawOrder(t, `{"displayNumber":"4"}`), t0)
	assert.Empty(t, guid)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestEvictStaleUsesReadinessTTL(t *testing.T) {
	cache := New(nil, ttls)
	cache.ApplyRaw(rawOrder(t, `{"guid":"ready","fulfillmentStatus":"READY"}`), t0)
	cache.ApplyRaw(rawOrder(t, `{"guid":"active","fulfillmentStatus":"SENT"}`), t0)
	cache.ApplyRaw(rawOrder(t, `{"guid":"seen","fulfillmentStatus":"READY"}`), t0)

	later := t0.Add(10 * time.Minute)
	evicted := cache.EvictStale(later, map[string]struct{}{"seen": {}})
	assert.Equal(t, []string{"ready"}, evicted)
	assert.True(t, cache.Has("active"))
	assert.True(t, cache.Has("seen"))

	evicted = cache.EvictStale(t0.Add(46*time.Minute), map[string]struct{}{})
	assert.Equal(t, []string{"active", "seen"}, evicted)
}

func TestReconcileLookupVersionConverges(t *testing.T) {
	cache := New(nil, ttls)
	cache.ApplyRaw(rawOrder(t, `{"guid":"g-1","items":[{"item":{"guid":"i-1"},"name":"raw name"}]}`), t0)
	entry, _ := cache.Get("g-1")
	assert.Equal(t, "raw name", entry.Normalized.Items[0].Name)

	registry := lookup.NewRegistry()
	tables, _ := registry.Refresh(
		lookup.Source{Payload: map[string]any{"menuItems": []any{map[string]any{"guid": "i-1", "name": "Menu Name"}}}},
		lookup.Source{Payload: map[string]any{}},
	)
	require.Equal(t, 1, tables.Version)
	cache.SetTables(tables)

	renormalized, removed := cache.ReconcileLookupVersion()
	assert.Equal(t, 1, renormalized)
	assert.Equal(t, 0, removed)
	entry, _ = cache.Get("g-1")
	assert.Equal(t, "Menu Name", entry.Normalized.Items[0].Name)
	assert.Equal(t, tables.Version, entry.NormalizedVersion)

	renormalized, _ = cache.ReconcileLookupVersion()
	assert.Equal(t, 0, renormalized)
}

func TestPublishSortsByCreatedAtThenFirstSeen(t *testing.T) {
	cache := New(nil, ttls)
	cache.ApplyRaw(rawOrder(t, `{"guid":"no-ts-1"}`), t0)
	cache.ApplyRaw(rawOrder(t, `{"guid":"late","createdAt":"2024-03-01T11:00:00Z"}`), t0)
	cache.ApplyRaw(rawOrder(t, `{"guid":"early","createdAt":"2024-03-01T10:00:00Z"}`), t0)
	cache.ApplyRaw(rawOrder(t, `{"guid":"no-ts-2","fulfillmentStatus":"READY"}`), t0)

	published := cache.Publish()
	ids := make([]string, 0, len(published))
	for _, order := range published {
		ids = append(ids, order.ID)
	}
	assert.Equal(t, []string{"early", "late", "no-ts-1", "no-ts-2"}, ids)
	assert.Equal(t, []string{"no-ts-1", "late", "early"}, cache.ActiveGUIDs())
	assert.Equal(t, 1, cache.ReadyCount())
}

func TestExportRestoreKeepsLastSeen(t *testing.T) {
	cache := New(nil, ttls)
	cache.ApplyRaw(rawOrder(t, `{"guid":"g-1"}`), t0)
	cache.ApplyRaw(rawOrder(t, `{"guid":"g-2"}`), t0.Add(time.Minute))

	encoded, err := json.Marshal(cache.Export())
	require.NoError(t, err)
	var persisted []PersistedEntry
	require.NoError(t, json.Unmarshal(encoded, &persisted))

	restored := New(nil, ttls)
	assert.Equal(t, 2, restored.Restore(persisted))
	assert.Equal(t, []string{"g-1", "g-2"}, restored.GUIDs())
	entry, _ := restored.Get("g-2")
	assert.True(t, entry.LastSeenAt.Equal(t0.Add(time.Minute)))
}
