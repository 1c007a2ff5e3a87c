// Package ordercache holds the fingerprinted GUID -> order map that the sync
// engine reconciles and the renderer reads through Publish.
//
// A Cache is not safe for concurrent use. The engine mutates it from a single
// cycle at a time and hands consumers the slice returned by Publish.
package ordercache

import (
	"sort"
	"time"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/service/canon"
	"github.com/mekedron/orderboard/internal/service/lookup"
	"github.com/mekedron/orderboard/internal/service/normalize"
)

// Entry is one cached order.
type Entry struct {
	GUID              string
	Raw               domain.RawOrder
	Normalized        domain.NormalizedOrder
	Fingerprint       string
	LastSeenAt        time.Time
	IsReady           bool
	NormalizedVersion int
	seq               uint64
}

// Outcome reports what ApplyRaw did.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeInserted
	OutcomeUpdated
	OutcomeTouched
	OutcomeDeleted
)

// TTLs bounds how long an unseen entry is retained.
type TTLs struct {
	Ready  time.Duration
	Active time.Duration
}

// Cache maps order GUIDs to entries.
type Cache struct {
	entries map[string]*Entry
	tables  *lookup.Tables
	ttls    TTLs
	nextSeq uint64
}

func New(tables *lookup.Tables, ttls TTLs) *Cache {
	if tables == nil {
		tables = lookup.Empty()
	}
	return &Cache{entries: map[string]*Entry{}, tables: tables, ttls: ttls}
}

// SetTables swaps the lookup tables used for subsequent normalization. Entries
// normalized under an older version are refreshed by ReconcileLookupVersion.
func (c *Cache) SetTables(tables *lookup.Tables) {
	if tables == nil {
		tables = lookup.Empty()
	}
	c.tables = tables
}

// Tables returns the lookup tables currently in use.
func (c *Cache) Tables() *lookup.Tables {
	return c.tables
}

// Len returns the number of cached orders.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Get returns a copy of the entry for guid.
func (c *Cache) Get(guid string) (Entry, bool) {
	entry, ok := c.entries[guid]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Has reports whether guid is cached.
func (c *Cache) Has(guid string) bool {
	_, ok := c.entries[guid]
	return ok
}

// Delete removes guid and reports whether it was present.
func (c *Cache) Delete(guid string) bool {
	if _, ok := c.entries[guid]; !ok {
		return false
	}
	delete(c.entries, guid)
	return true
}

// ApplyRaw upserts one raw order. Voided orders are removed. A record whose
// fingerprint and lookup version are unchanged only refreshes LastSeenAt.
func (c *Cache) ApplyRaw(raw domain.RawOrder, now time.Time) (string, Outcome) {
	guid := normalize.ExtractGUID(raw)
	if guid == "" {
		return "", OutcomeIgnored
	}
	if normalize.IsVoided(raw) {
		if c.Delete(guid) {
			return guid, OutcomeDeleted
		}
		return guid, OutcomeIgnored
	}

	fingerprint := canon.Fingerprint(raw)
	existing, ok := c.entries[guid]
	if ok && existing.Fingerprint == fingerprint && existing.NormalizedVersion == c.tables.Version {
		existing.LastSeenAt = now
		return guid, OutcomeTouched
	}

	normalized, valid := normalize.NormalizeOne(raw, 0, c.tables)
	if !valid {
		if c.Delete(guid) {
			return guid, OutcomeDeleted
		}
		return guid, OutcomeIgnored
	}

	entry := &Entry{
		GUID:              guid,
		Raw:               raw,
		Normalized:        normalized,
		Fingerprint:       fingerprint,
		LastSeenAt:        now,
		IsReady:           normalized.IsReady(),
		NormalizedVersion: c.tables.Version,
	}
	if ok {
		entry.seq = existing.seq
		c.entries[guid] = entry
		return guid, OutcomeUpdated
	}
	c.nextSeq++
	entry.seq = c.nextSeq
	c.entries[guid] = entry
	return guid, OutcomeInserted
}

// ApplyBatch applies every order and returns the set of GUIDs seen, voided
// ones included.
func (c *Cache) ApplyBatch(raws []domain.RawOrder, now time.Time) map[string]struct{} {
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		if guid, _ := c.ApplyRaw(raw, now); guid != "" {
			seen[guid] = struct{}{}
		}
	}
	return seen
}

// ReconcileLookupVersion re-normalizes entries produced under an older lookup
// version and drops those that no longer normalize. It returns the number of
// entries re-normalized and removed.
func (c *Cache) ReconcileLookupVersion() (renormalized int, removed int) {
	for guid, entry := range c.entries {
		if entry.NormalizedVersion == c.tables.Version {
			continue
		}
		normalized, ok := normalize.NormalizeOne(entry.Raw, 0, c.tables)
		if !ok {
			delete(c.entries, guid)
			removed++
			continue
		}
		entry.Normalized = normalized
		entry.IsReady = normalized.IsReady()
		entry.NormalizedVersion = c.tables.Version
		renormalized++
	}
	return renormalized, removed
}

// EvictStale removes entries absent from seen whose age exceeds the TTL for
// their readiness. It returns the evicted GUIDs in sorted order.
func (c *Cache) EvictStale(now time.Time, seen map[string]struct{}) []string {
	evicted := []string{}
	for guid, entry := range c.entries {
		if _, ok := seen[guid]; ok {
			continue
		}
		ttl := c.ttls.Active
		if entry.IsReady {
			ttl = c.ttls.Ready
		}
		if now.Sub(entry.LastSeenAt) > ttl {
			delete(c.entries, guid)
			evicted = append(evicted, guid)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// GUIDs returns every cached GUID in insertion order.
func (c *Cache) GUIDs() []string {
	return c.guidsWhere(func(*Entry) bool { return true })
}

// ActiveGUIDs returns cached GUIDs not yet ready, in insertion order.
func (c *Cache) ActiveGUIDs() []string {
	return c.guidsWhere(func(e *Entry) bool { return !e.IsReady })
}

func (c *Cache) guidsWhere(keep func(*Entry) bool) []string {
	entries := c.ordered()
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if keep(entry) {
			out = append(out, entry.GUID)
		}
	}
	return out
}

func (c *Cache) ordered() []*Entry {
	entries := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

// ReadyCount returns the number of ready entries.
func (c *Cache) ReadyCount() int {
	n := 0
	for _, entry := range c.entries {
		if entry.IsReady {
			n++
		}
	}
	return n
}

// Publish returns the normalized orders sorted by creation time, unresolved
// timestamps last, ties in first-seen order.
func (c *Cache) Publish() []domain.NormalizedOrder {
	entries := c.ordered()
	out := make([]domain.NormalizedOrder, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Normalized)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return normalize.Less(out[i], out[j])
	})
	return out
}
