package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/gateway/orders"
	"github.com/mekedron/orderboard/internal/service/canon"
	"github.com/mekedron/orderboard/internal/service/diagnostics"
	"github.com/mekedron/orderboard/internal/service/lookup"
	"github.com/mekedron/orderboard/internal/service/normalize"
	"github.com/mekedron/orderboard/internal/service/snapshot"
)

// cycle accumulates the state of one refresh between suspension points.
type cycle struct {
	id        string
	trigger   Trigger
	startedAt time.Time
	seen      map[string]struct{}
	// applied holds GUIDs whose full record arrived in the bulk response.
	applied  map[string]struct{}
	observed []time.Time
	bulkErr  error
}

func (c *cycle) markSeen(guids map[string]struct{}) {
	for guid := range guids {
		c.seen[guid] = struct{}{}
	}
}

func (c *cycle) observe(raws []domain.RawOrder) {
	for _, raw := range raws {
		if ts, ok := normalize.LatestTimestamp(raw); ok {
			c.observed = append(c.observed, ts)
		}
	}
}

func (e *Engine) runCycle(ctx context.Context, trigger Trigger) (Snapshot, error) {
	c := &cycle{
		id:        uuid.NewString(),
		trigger:   trigger,
		startedAt: e.now(),
		seen:      map[string]struct{}{},
		applied:   map[string]struct{}{},
	}
	log := e.logger.With("cycle_id", c.id, "trigger", string(trigger))
	e.emit(ctx, diagnostics.TypeRefreshStart, diagnostics.LevelInfo, map[string]any{
		"cycle_id": c.id,
		"trigger":  string(trigger),
	})

	query := e.buildQuery(c.startedAt)
	log.Debug("querying orders", "since", query.Since, "minutes", query.LookbackMinutes, "limit", query.Limit)
	bulk, err := e.api.QueryOrders(ctx, query)
	if err == nil && !bulk.Success {
		err = fmt.Errorf("%w: orders query reported failure", orders.ErrUpstream)
	}
	if ctx.Err() != nil {
		return e.Snapshot(), ctx.Err()
	}
	if err != nil {
		if !e.usable {
			return e.fail(ctx, c, "query", fmt.Errorf("%w: %w", ErrNoUsableSnapshot, err))
		}
		c.bulkErr = err
		log.Warn("orders query failed, reusing cached orders", "error", err)
		e.emit(ctx, diagnostics.TypeRefreshError, diagnostics.LevelWarn, map[string]any{
			"cycle_id": c.id,
			"stage":    "query",
			"fallback": true,
			"error":    err.Error(),
		})
	}

	var hydrate, suspicious []string
	if c.bulkErr == nil {
		hydrate, suspicious = e.reconcileBulk(ctx, c, query, bulk)
	}

	targets := make([]string, 0, len(hydrate)+len(suspicious))
	targets = append(targets, hydrate...)
	targets = append(targets, suspicious...)
	for _, guid := range e.cache.ActiveGUIDs() {
		if _, ok := c.applied[guid]; !ok {
			targets = append(targets, guid)
		}
	}
	if len(targets) > 0 {
		result, err := e.fetcher.FetchByGUIDs(ctx, targets)
		if err != nil {
			return e.Snapshot(), err
		}
		if ctx.Err() != nil {
			return e.Snapshot(), ctx.Err()
		}
		c.markSeen(e.cache.ApplyBatch(result.Orders, e.now()))
		c.observe(result.Orders)
		removed := 0
		for _, guid := range result.NotFound {
			if e.cache.Delete(guid) {
				removed++
			}
		}
		if len(result.Unresolved) > 0 {
			log.Warn("targeted fetch left orders unresolved", "count", len(result.Unresolved))
		}
		if len(suspicious) > 0 {
			e.emit(ctx, diagnostics.TypeOmissionDetected, diagnostics.LevelWarn, map[string]any{
				"cycle_id":  c.id,
				"count":     len(suspicious),
				"confirmed": confirmedRemovals(suspicious, result.NotFound, result.Voided),
				"guids":     suspicious,
			})
		}
		log.Debug("targeted fetch done", "requested", len(targets), "orders", len(result.Orders), "removed", removed)
	}

	if stage, err := e.refreshLookups(ctx, c, log); err != nil {
		if ctx.Err() != nil {
			return e.Snapshot(), ctx.Err()
		}
		return e.fail(ctx, c, stage, fmt.Errorf("%w: %w", ErrNoUsableSnapshot, err))
	}

	e.advanceCursor(c, bulk)

	now := e.now()
	if evicted := e.cache.EvictStale(now, c.seen); len(evicted) > 0 {
		e.emit(ctx, diagnostics.TypeOrdersEvicted, diagnostics.LevelInfo, map[string]any{
			"cycle_id": c.id,
			"count":    len(evicted),
			"guids":    evicted,
		})
	}

	e.usable = true
	e.lastSuccess = &now
	snap := e.snapshotNow(c, now, nil)
	e.publish(snap)
	e.persistOrders(ctx)

	e.emit(ctx, diagnostics.TypeRefreshSuccess, diagnostics.LevelInfo, map[string]any{
		"cycle_id":         c.id,
		"trigger":          string(trigger),
		"orders":           e.cache.Len(),
		"ready":            e.cache.ReadyCount(),
		"lookup_version":   e.cache.Tables().Version,
		"duration_seconds": now.Sub(c.startedAt).Seconds(),
		"degraded":         c.bulkErr != nil,
	})
	return snap, nil
}

// reconcileBulk applies the bulk response and returns the GUIDs to hydrate and
// the cached GUIDs the listing unexpectedly omitted.
func (e *Engine) reconcileBulk(ctx context.Context, c *cycle, query orders.QueryOptions, bulk orders.QueryResult) (hydrate, suspicious []string) {
	if len(bulk.Orders) > 0 {
		applied := e.cache.ApplyBatch(bulk.Orders, e.now())
		c.markSeen(applied)
		for guid := range applied {
			c.applied[guid] = struct{}{}
		}
		c.observe(bulk.Orders)
	}

	listed := map[string]struct{}{}
	for _, guid := range bulk.GUIDs {
		listed[guid] = struct{}{}
		c.seen[guid] = struct{}{}
		if !e.cache.Has(guid) {
			hydrate = append(hydrate, guid)
		}
	}

	if saturated, reason := isSaturated(bulk, query.Limit); saturated {
		e.emit(ctx, diagnostics.TypeLimitSaturated, diagnostics.LevelWarn, map[string]any{
			"cycle_id": c.id,
			"limit":    query.Limit,
			"returned": bulk.Count(),
			"reason":   reason,
		})
	}

	// Only an ids listing is treated as authoritative; full responses are
	// never cross-checked.
	if bulk.Detail != domain.DetailIDs {
		return hydrate, nil
	}
	for guid := range c.applied {
		listed[guid] = struct{}{}
	}
	// Every unlisted cached order is re-verified, however old. Age alone
	// never explains an omission from an authoritative listing.
	for _, guid := range e.cache.GUIDs() {
		if _, ok := listed[guid]; !ok {
			suspicious = append(suspicious, guid)
		}
	}
	return hydrate, suspicious
}

// refreshLookups consults the menu and config snapshot caches and rebuilds
// the lookup tables when either signature changed. It fails, naming the
// payload, on cancellation or when a payload has never been fetched.
func (e *Engine) refreshLookups(ctx context.Context, c *cycle, log *slog.Logger) (string, error) {
	force := c.trigger == TriggerManual
	menu, menuOK, err := e.lookupSource(ctx, c, e.menu, "menu", force, log)
	if err != nil {
		return "menu", err
	}
	config, configOK, err := e.lookupSource(ctx, c, e.config, "config", force, log)
	if err != nil {
		return "config", err
	}
	if !menuOK && !configOK {
		return "", nil
	}
	tables, rebuilt := e.registry.Refresh(menu, config)
	if !rebuilt {
		return "", nil
	}
	e.cache.SetTables(tables)
	renormalized, removed := e.cache.ReconcileLookupVersion()
	log.Info("lookup tables rebuilt", "version", tables.Version, "renormalized", renormalized, "removed", removed)
	e.emit(ctx, diagnostics.TypeLookupRebuilt, diagnostics.LevelInfo, map[string]any{
		"cycle_id":     c.id,
		"version":      tables.Version,
		"renormalized": renormalized,
		"removed":      removed,
	})
	return "", nil
}

func (e *Engine) lookupSource(ctx context.Context, c *cycle, cache *snapshot.Cache, name string, force bool, log *slog.Logger) (lookup.Source, bool, error) {
	result, err := cache.Get(ctx, force)
	if ctx.Err() != nil {
		return lookup.Source{}, false, ctx.Err()
	}
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		return lookup.Source{}, false, err
	}
	if err != nil {
		log.Warn("lookup payload unavailable", "payload", name, "error", err)
		e.emit(ctx, diagnostics.TypeRefreshError, diagnostics.LevelWarn, map[string]any{
			"cycle_id": c.id,
			"stage":    name,
			"fallback": false,
			"error":    err.Error(),
		})
		return lookup.Source{}, false, nil
	}
	if result.Stale() {
		e.emit(ctx, diagnostics.TypeSnapshotFallback, diagnostics.LevelWarn, map[string]any{
			"cycle_id":   c.id,
			"payload":    name,
			"fetched_at": result.Snapshot.FetchedAt,
			"error":      result.FetchErr.Error(),
		})
	}
	return lookup.Source{Payload: result.Snapshot.Payload, Signature: result.Snapshot.Signature}, true, nil
}

// buildQuery asks for everything since the cursor minus the drift buffer,
// clamped to the max lookback, or for the initial lookback without a cursor.
func (e *Engine) buildQuery(now time.Time) orders.QueryOptions {
	query := orders.QueryOptions{
		LookbackMinutes: e.cfg.LookbackMinutes,
		Limit:           e.cfg.QueryLimit,
		Detail:          e.cfg.Detail,
	}
	if e.cursor == nil {
		return query
	}
	since := e.cursor.Add(-e.cfg.DriftBuffer())
	if floor := now.Add(-e.cfg.MaxLookback()); since.Before(floor) {
		since = floor
	}
	query.Since = &since
	return query
}

// isSaturated reports whether the bulk response was likely truncated.
func isSaturated(bulk orders.QueryResult, limit int) (bool, string) {
	if limit > 0 && bulk.Count() >= limit {
		return true, "limit_reached"
	}
	if bulk.Debug == nil {
		return false, ""
	}
	if canon.AsBool(bulk.Debug["hasMore"]) || canon.AsBool(bulk.Debug["has_more"]) || canon.AsBool(bulk.Debug["truncated"]) {
		return true, "has_more"
	}
	if token := canon.FirstString(bulk.Debug["nextPageToken"], bulk.Debug["next_page_token"]); token != "" {
		return true, "next_page_token"
	}
	return false, ""
}

// advanceCursor moves the cursor to the newest timestamp observed in this
// cycle, including the server's window end. It never moves backwards or past
// the current time.
func (e *Engine) advanceCursor(c *cycle, bulk orders.QueryResult) {
	candidates := c.observed
	if c.bulkErr == nil && bulk.Window != nil && bulk.Window.End != nil {
		candidates = append(candidates, *bulk.Window.End)
	}
	now := e.now()
	for _, ts := range candidates {
		if ts.After(now) {
			ts = now
		}
		if e.cursor == nil || ts.After(*e.cursor) {
			next := ts
			e.cursor = &next
		}
	}
}

// fail publishes a terminal failure for non-silent triggers. The orders
// already on display are kept.
func (e *Engine) fail(ctx context.Context, c *cycle, stage string, err error) (Snapshot, error) {
	e.logger.Error("refresh failed", "cycle_id", c.id, "trigger", string(c.trigger), "stage", stage, "error", err)
	e.emit(ctx, diagnostics.TypeRefreshError, diagnostics.LevelError, map[string]any{
		"cycle_id": c.id,
		"stage":    stage,
		"fallback": false,
		"error":    err.Error(),
	})
	if c.trigger.Silent() {
		return e.Snapshot(), err
	}
	snap := e.snapshotNow(c, e.now(), err)
	e.publish(snap)
	return snap, err
}

func (e *Engine) snapshotNow(c *cycle, now time.Time, err error) Snapshot {
	snap := Snapshot{
		Orders:        e.cache.Publish(),
		GeneratedAt:   now,
		Err:           err,
		CycleID:       c.id,
		Trigger:       c.trigger,
		LookupVersion: e.cache.Tables().Version,
	}
	if e.cursor != nil {
		cursor := *e.cursor
		snap.Cursor = &cursor
	}
	if e.lastSuccess != nil {
		last := *e.lastSuccess
		snap.LastSuccessAt = &last
	}
	return snap
}

func confirmedRemovals(suspicious, notFound, voided []string) int {
	gone := make(map[string]struct{}, len(notFound)+len(voided))
	for _, guid := range notFound {
		gone[guid] = struct{}{}
	}
	for _, guid := range voided {
		gone[guid] = struct{}{}
	}
	n := 0
	for _, guid := range suspicious {
		if _, ok := gone[guid]; ok {
			n++
		}
	}
	return n
}
