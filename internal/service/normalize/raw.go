package normalize

import (
	"time"

	"github.com/mekedron/orderboard/internal/service/canon"
)

// ExtractGUID returns the upstream identifier of a raw order, or "".
func ExtractGUID(raw any) string {
	if guid := firstStringAt(raw, guidPaths...); guid != "" {
		return guid
	}
	for _, value := range stringsAt(raw, looseGUIDPaths...) {
		if canon.IsLikelyGuid(value) {
			return value
		}
	}
	return ""
}

// IsVoided reports whether the upstream marks the whole order as removed.
func IsVoided(raw any) bool {
	m := canon.AsMap(raw)
	if m == nil {
		return false
	}
	for _, key := range []string{"voided", "deleted", "isVoided", "is_voided"} {
		if canon.AsBool(m[key]) {
			return true
		}
	}
	return false
}

// createdAt resolves the creation timestamp and the raw value it came from.
func createdAt(raw any) (time.Time, string, bool) {
	for _, tier := range timestampTiers {
		var best time.Time
		bestRaw := ""
		found := false
		for _, path := range tier {
			for _, value := range canon.ExtractAtPath(raw, path) {
				ts, ok := canon.ParseDateLike(value)
				if !ok || !plausible(ts) {
					continue
				}
				if !found || ts.Before(best) {
					best = ts
					bestRaw, _ = canon.ToStringValue(value)
					found = true
				}
			}
		}
		if found {
			return best, bestRaw, true
		}
	}
	return time.Time{}, "", false
}

// LatestTimestamp returns the newest plausible creation or modification
// timestamp carried by a raw order. It drives cursor advancement.
func LatestTimestamp(raw any) (time.Time, bool) {
	var latest time.Time
	found := false
	consider := func(paths []string) {
		for _, path := range paths {
			for _, value := range canon.ExtractAtPath(raw, path) {
				ts, ok := canon.ParseDateLike(value)
				if !ok || !plausible(ts) {
					continue
				}
				if !found || ts.After(latest) {
					latest = ts
					found = true
				}
			}
		}
	}
	consider(modifiedPaths)
	for _, tier := range timestampTiers {
		consider(tier)
	}
	return latest, found
}
