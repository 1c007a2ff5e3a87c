package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mekedron/orderboard/internal/service/diagnostics"
	"github.com/mekedron/orderboard/internal/service/lookup"
	"github.com/mekedron/orderboard/internal/service/ordercache"
)

type persistedOrders struct {
	Cursor  *time.Time                  `json:"cursor,omitempty"`
	Entries []ordercache.PersistedEntry `json:"entries"`
}

// Restore loads persisted lookup snapshots and the order cache, then
// publishes what was restored so consumers have something to render before
// the first network round trip. Failures leave the engine cold.
func (e *Engine) Restore(ctx context.Context) {
	e.cycleM.Lock()
	defer e.cycleM.Unlock()
	if e.store == nil {
		return
	}

	menuOK := e.menu.Restore(ctx)
	configOK := e.config.Restore(ctx)
	if menuOK || configOK {
		var menu, config lookup.Source
		if snap, ok := e.menu.Current(); ok {
			menu = lookup.Source{Payload: snap.Payload, Signature: snap.Signature}
		}
		if snap, ok := e.config.Current(); ok {
			config = lookup.Source{Payload: snap.Payload, Signature: snap.Signature}
		}
		tables, _ := e.registry.Refresh(menu, config)
		e.cache.SetTables(tables)
	}

	raw, ok, err := e.store.Get(ctx, KeyOrderCache)
	if err != nil {
		e.storeError(ctx, "restore", err)
		return
	}
	if !ok {
		return
	}
	var persisted persistedOrders
	if err := json.Unmarshal(raw, &persisted); err != nil {
		e.storeError(ctx, "decode", err)
		// an undecodable blob would fail every later restore too
		if err := e.store.Delete(ctx, KeyOrderCache); err != nil {
			e.storeError(ctx, "delete", err)
		}
		return
	}
	restored := e.cache.Restore(persisted.Entries)
	e.cursor = persisted.Cursor
	if restored == 0 {
		return
	}
	e.usable = true
	e.logger.Info("restored order cache", "orders", restored)
	e.publish(e.snapshotNow(&cycle{id: uuid.NewString(), trigger: TriggerMount}, e.now(), nil))
}

func (e *Engine) persistOrders(ctx context.Context) {
	if e.store == nil {
		return
	}
	payload, err := json.Marshal(persistedOrders{Cursor: e.cursor, Entries: e.cache.Export()})
	if err != nil {
		e.storeError(ctx, "encode", err)
		return
	}
	if err := e.store.Set(context.WithoutCancel(ctx), KeyOrderCache, payload); err != nil {
		e.storeError(ctx, "persist", err)
	}
}

func (e *Engine) storeError(ctx context.Context, op string, err error) {
	e.logger.Warn("order cache store failure", "op", op, "error", err)
	e.emit(ctx, diagnostics.TypeStoreError, diagnostics.LevelWarn, map[string]any{
		"op":    op,
		"key":   KeyOrderCache,
		"error": err.Error(),
	})
}
