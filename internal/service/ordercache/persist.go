package ordercache

import (
	"time"

	"github.com/mekedron/orderboard/internal/domain"
)

// PersistedEntry is the durable form of an Entry. Normalized output is not
// stored; it is rebuilt against the lookup tables in use at restore time.
type PersistedEntry struct {
	GUID       string          `json:"guid"`
	Raw        domain.RawOrder `json:"raw"`
	LastSeenAt time.Time       `json:"last_seen_at"`
}

// Export returns every entry in insertion order.
func (c *Cache) Export() []PersistedEntry {
	entries := c.ordered()
	out := make([]PersistedEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, PersistedEntry{GUID: entry.GUID, Raw: entry.Raw, LastSeenAt: entry.LastSeenAt})
	}
	return out
}

// Restore re-applies persisted entries, keeping their original LastSeenAt so
// that eviction ages continue across restarts.
func (c *Cache) Restore(entries []PersistedEntry) int {
	restored := 0
	for _, persisted := range entries {
		if persisted.Raw == nil {
			continue
		}
		if _, outcome := c.ApplyRaw(persisted.Raw, persisted.LastSeenAt); outcome == OutcomeInserted || outcome == OutcomeUpdated {
			restored++
		}
	}
	return restored
}
