// Package normalize turns heterogeneous upstream order payloads into
// domain.NormalizedOrder values.
package normalize

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/service/canon"
	"github.com/mekedron/orderboard/internal/service/lookup"
)

// Normalize converts raw orders, skipping entries that are not objects, and
// returns them sorted by creation time. Orders without a timestamp sort last;
// ties keep input order.
func Normalize(raw []domain.RawOrder, tables *lookup.Tables) []domain.NormalizedOrder {
	orders := make([]domain.NormalizedOrder, 0, len(raw))
	usedIDs := map[string]int{}
	for index, entry := range raw {
		order, ok := NormalizeOne(entry, index, tables)
		if !ok {
			continue
		}
		order.ID = uniqueID(order.ID, usedIDs)
		orders = append(orders, order)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return Less(orders[i], orders[j])
	})
	return orders
}

// Less orders by creation time; orders without a timestamp come last.
func Less(a, b domain.NormalizedOrder) bool {
	switch {
	case a.CreatedAt == nil:
		return false
	case b.CreatedAt == nil:
		return true
	default:
		return a.CreatedAt.Before(*b.CreatedAt)
	}
}

// NormalizeOne converts a single raw order. index is the position within the
// enclosing payload and seeds the fallback identifier.
func NormalizeOne(raw any, index int, tables *lookup.Tables) (domain.NormalizedOrder, bool) {
	obj := canon.AsMap(raw)
	if len(obj) == 0 {
		return domain.NormalizedOrder{}, false
	}
	if tables == nil {
		tables = lookup.Empty()
	}

	guid := ExtractGUID(obj)
	displayID := firstStringAt(obj, displayIDPaths...)
	if displayID == guid {
		displayID = ""
	}
	id := guid
	switch {
	case id != "":
	case displayID != "":
		id = "display-" + displayID
	default:
		id = "order-" + strconv.Itoa(index+1)
	}

	order := domain.NormalizedOrder{
		ID:           id,
		DisplayID:    displayID,
		GUID:         guid,
		Status:       firstStringAt(obj, rawStatusPaths...),
		Currency:     firstStringAt(obj, currencyPaths...),
		CustomerName: customerName(obj),
		TabName:      firstStringAt(obj, tabNamePaths...),
		DiningOption: diningOption(obj, tables),
		Notes:        firstStringAt(obj, notesPaths...),
	}
	if ts, rawTS, ok := createdAt(obj); ok {
		order.CreatedAt = &ts
		order.CreatedAtRaw = rawTS
	}
	if total, ok := orderTotal(obj); ok {
		order.Total = &total
	}
	order.FulfillmentStatus = ResolveStatus(stringsAt(obj, fulfillmentStatusPaths...))
	order.Items = extractItems(obj, id, order.Currency, order.FulfillmentStatus, tables)
	return order, true
}

// orderTotal prefers an explicit order-level total and falls back to the sum
// of check totals.
func orderTotal(obj map[string]any) (float64, bool) {
	if total, ok := firstNumberAt(obj, totalPaths...); ok {
		return total, true
	}
	sum := 0.0
	found := false
	for _, value := range canon.ExtractAtPath(obj, checkTotalPath) {
		if n, ok := canon.ToNumber(value); ok {
			sum += n
			found = true
		}
	}
	return sum, found
}

func customerName(obj map[string]any) string {
	if name := firstStringAt(obj, customerNames...); name != "" {
		return name
	}
	for _, path := range customerPaths {
		for _, value := range canon.ExtractAtPath(obj, path) {
			if name, ok := canon.ToStringValue(value); ok {
				return name
			}
			person := canon.AsMap(value)
			if person == nil {
				continue
			}
			if name := canon.FirstString(person["name"], person["fullName"], person["full_name"], person["displayName"]); name != "" {
				return name
			}
			first := canon.FirstString(person["firstName"], person["first_name"])
			last := canon.FirstString(person["lastName"], person["last_name"])
			if full := strings.TrimSpace(first + " " + last); full != "" {
				return full
			}
		}
	}
	return ""
}

// diningOption resolves identifiers first, then labels, through the lookup
// tables. Without a match, the first label that does not look like a GUID is
// used as-is.
func diningOption(obj map[string]any, tables *lookup.Tables) string {
	for _, candidate := range stringsAt(obj, diningIDPaths...) {
		if label, ok := tables.DiningOption(candidate); ok {
			return label
		}
	}
	labels := stringsAt(obj, diningLabelPaths...)
	for _, candidate := range labels {
		if label, ok := tables.DiningOption(candidate); ok {
			return label
		}
	}
	for _, candidate := range labels {
		if !canon.IsLikelyGuid(candidate) {
			return candidate
		}
	}
	return ""
}
