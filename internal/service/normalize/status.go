package normalize

import (
	"strings"

	"github.com/mekedron/orderboard/internal/domain"
)

type statusClass struct {
	status  string
	phrases []string
}

// Classes are tried in this order for a single string; the order differs
// from urgency rank so that "picked up" or "prepared" are not read as
// pending or in-progress.
var statusClasses = []statusClass{
	{domain.FulfillmentCancelled, []string{"cancel", "cancelled", "canceled", "void", "voided", "reject", "rejected", "refunded", "deleted"}},
	{domain.FulfillmentDelayed, []string{"delay", "delayed", "hold", "on hold", "late", "paused", "snoozed"}},
	{domain.FulfillmentCompleted, []string{"complete", "completed", "closed", "done", "fulfilled", "picked up", "delivered", "served", "bumped"}},
	{domain.FulfillmentReady, []string{"ready", "ready for pickup", "prepared"}},
	{domain.FulfillmentInProgress, []string{"sent", "in progress", "preparing", "in preparation", "cooking", "fired", "active", "accepted", "approved", "started", "making"}},
	{domain.FulfillmentPending, []string{"pending", "new", "received", "open", "needs approval", "not approved", "awaiting", "scheduled", "future", "queued"}},
}

// ClassifyStatus maps an upstream status string to the canonical vocabulary.
func ClassifyStatus(raw string) (string, bool) {
	normalized := statusTokens(raw)
	if normalized == "  " {
		return "", false
	}
	for _, class := range statusClasses {
		for _, phrase := range class.phrases {
			if strings.Contains(normalized, " "+phrase+" ") {
				return class.status, true
			}
		}
	}
	return "", false
}

// statusTokens lower-cases s and pads every word with single spaces, so that
// phrase matching works on whole words.
func statusTokens(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	return " " + strings.Join(words, " ") + " "
}

// ResolveStatus picks the most urgent classified candidate. When nothing
// classifies, the first non-empty raw candidate is returned unchanged.
func ResolveStatus(candidates []string) string {
	best := ""
	bestRank := len(statusClasses)
	fallback := ""
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if fallback == "" {
			fallback = candidate
		}
		status, ok := ClassifyStatus(candidate)
		if !ok {
			continue
		}
		if rank, _ := domain.FulfillmentRank(status); rank < bestRank {
			best = status
			bestRank = rank
		}
	}
	if best != "" {
		return best
	}
	return fallback
}
