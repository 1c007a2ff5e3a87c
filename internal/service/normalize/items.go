package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/service/canon"
	"github.com/mekedron/orderboard/internal/service/lookup"
)

var (
	itemCollectionPaths = []string{
		"checks[*].selections[*]",
		"selections[*]",
		"items[*]",
		"line_items[*]",
		"lineItems[*]",
		"orderItems[*]",
		"order.items[*]",
	}
	itemRefPaths = []string{
		"item.guid", "itemGuid", "item_guid", "menuItemGuid", "menu_item_guid",
		"item.multiLocationId", "item.externalId", "itemId", "item_id",
		"menuItemId", "menu_item_id",
	}
	itemLineIDPaths  = []string{"guid", "lineId", "line_id", "id"}
	itemNamePaths    = []string{"displayName", "display_name", "name", "item.name", "title", "menuItemName", "itemName"}
	itemPricePaths   = []string{"price", "unitPrice", "unit_price", "preDiscountPrice", "amount"}
	itemNotesPaths   = []string{"specialRequest", "special_request", "notes", "note", "instructions"}
	itemStatusPaths  = []string{"fulfillmentStatus", "fulfillment_status", "status", "kitchenStatus", "itemStatus", "preparationStatus", "state"}
	quantityPaths    = []string{"quantity", "qty", "count"}
	modifierPaths    = []string{
		"modifiers[*]",
		"modifiers[*].modifiers[*]",
		"modifiers[*].modifiers[*].modifiers[*]",
		"options[*]",
		"selectedOptions[*]",
		"selected_options[*]",
		"modifierOptions[*]",
		"addons[*]",
		"add_ons[*]",
	}
	modifierIDPaths = []string{
		"identifier", "item.guid", "itemGuid", "optionGuid", "option_guid",
		"optionId", "option_id", "modifierId", "modifier_id",
		"item.multiLocationId", "multiLocationId", "guid", "id",
	}
	modifierNamePaths = []string{"displayName", "display_name", "name", "item.name", "title", "optionName", "option_name"}
)

func isRemoved(obj map[string]any) bool {
	return canon.AsBool(obj["voided"]) || canon.AsBool(obj["deleted"])
}

func quantityOf(obj map[string]any) (float64, bool) {
	n, ok := firstNumberAt(obj, quantityPaths...)
	if !ok {
		return 1, false
	}
	return n, true
}

func extractItems(raw any, orderID string, currency string, orderStatus string, tables *lookup.Tables) []domain.NormalizedOrderItem {
	items := []domain.NormalizedOrderItem{}
	seen := canon.NewVisited()
	usedIDs := map[string]int{}
	for _, path := range itemCollectionPaths {
		for _, value := range canon.ExtractAtPath(raw, path) {
			obj := canon.AsMap(value)
			if obj == nil || !seen.Add(obj) || isRemoved(obj) {
				continue
			}
			position := len(items) + 1
			items = append(items, buildItem(obj, position, orderID, currency, orderStatus, tables, usedIDs))
		}
	}
	return items
}

func buildItem(
	obj map[string]any,
	position int,
	orderID string,
	currency string,
	orderStatus string,
	tables *lookup.Tables,
	usedIDs map[string]int,
) domain.NormalizedOrderItem {
	refs := stringsAt(obj, itemRefPaths...)
	name := ""
	if entry, ok := tables.MenuItem(refs...); ok {
		name = entry.Name()
	}
	if name == "" {
		name = firstStringAt(obj, itemNamePaths...)
	}
	if name == "" {
		name = fmt.Sprintf("Item %d", position)
	}

	id := firstStringAt(obj, itemLineIDPaths...)
	if id == "" && len(refs) > 0 {
		id = refs[0]
	}
	if id == "" {
		id = fmt.Sprintf("%s-item-%d", orderID, position)
	}
	id = uniqueID(id, usedIDs)

	quantity, _ := quantityOf(obj)
	if quantity <= 0 {
		quantity = 1
	}

	item := domain.NormalizedOrderItem{
		ID:        id,
		Name:      name,
		Quantity:  quantity,
		Currency:  firstStringAt(obj, "currency", "currencyCode"),
		Notes:     firstStringAt(obj, itemNotesPaths...),
		Modifiers: extractModifiers(obj, id, tables),
	}
	if item.Currency == "" {
		item.Currency = currency
	}
	if price, ok := firstNumberAt(obj, itemPricePaths...); ok {
		item.Price = &price
	}
	item.FulfillmentStatus = ResolveStatus(stringsAt(obj, itemStatusPaths...))
	if item.FulfillmentStatus == "" {
		item.FulfillmentStatus = orderStatus
	}
	return item
}

func uniqueID(id string, used map[string]int) string {
	count := used[id]
	used[id] = count + 1
	if count == 0 {
		return id
	}
	return id + "-" + strconv.Itoa(count+1)
}

type modifierAccumulator struct {
	modifier   domain.NormalizedModifier
	hasMeta    bool
	rank       int
	hasRank    bool
	occurrence int
}

func extractModifiers(item map[string]any, itemID string, tables *lookup.Tables) []domain.NormalizedModifier {
	byKey := map[string]*modifierAccumulator{}
	ordered := []*modifierAccumulator{}
	seen := canon.NewVisited()

	for _, path := range modifierPaths {
		for _, value := range canon.ExtractAtPath(item, path) {
			obj := canon.AsMap(value)
			if obj == nil || !seen.Add(obj) || isRemoved(obj) || isDeselected(obj) {
				continue
			}
			quantity, explicit := quantityOf(obj)
			if explicit && quantity <= 0 {
				continue
			}

			ids := stringsAt(obj, modifierIDPaths...)
			identifier := ""
			if len(ids) > 0 {
				identifier = ids[0]
			}
			name := ""
			entry, hasEntry := tables.MenuItem(ids...)
			if hasEntry {
				name = entry.Name()
			}
			if name == "" {
				name = firstStringAt(obj, modifierNamePaths...)
			}
			if identifier == "" && name == "" {
				continue
			}

			key := "id:" + identifier
			if identifier == "" {
				key = "name:" + canon.NormalizeKey(name)
			}
			if acc, ok := byKey[key]; ok {
				acc.modifier.Quantity += quantity
				continue
			}

			modifierID := identifier
			if modifierID == "" {
				modifierID = itemID + "-mod-" + strings.ReplaceAll(canon.NormalizeKey(name), " ", "-")
			}
			acc := &modifierAccumulator{
				modifier: domain.NormalizedModifier{
					ID:         modifierID,
					Identifier: identifier,
					Name:       name,
					Quantity:   quantity,
				},
				rank:       entry.Rank,
				hasRank:    hasEntry,
				occurrence: len(ordered),
			}
			if meta, ok := tables.Modifier(ids...); ok {
				groupOrder := meta.GroupOrder
				optionOrder := meta.OptionOrder
				acc.modifier.GroupName = meta.GroupName
				acc.modifier.GroupID = meta.GroupID
				acc.modifier.GroupOrder = &groupOrder
				acc.modifier.OptionOrder = &optionOrder
				acc.hasMeta = true
			}
			byKey[key] = acc
			ordered = append(ordered, acc)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return modifierLess(ordered[i], ordered[j])
	})
	out := make([]domain.NormalizedModifier, 0, len(ordered))
	for _, acc := range ordered {
		if acc.modifier.Name == "" {
			acc.modifier.Name = acc.modifier.Identifier
		}
		out = append(out, acc.modifier)
	}
	return out
}

func isDeselected(obj map[string]any) bool {
	if canon.AsBool(obj["deselected"]) {
		return true
	}
	for _, key := range []string{"selected", "isSelected", "is_selected"} {
		if value, ok := obj[key].(bool); ok && !value {
			return true
		}
	}
	return false
}

// modifierLess orders modifiers with group metadata by (group, option), then
// modifiers known only by menu rank, then everything else by occurrence.
func modifierLess(a, b *modifierAccumulator) bool {
	ca, cb := modifierClass(a), modifierClass(b)
	if ca != cb {
		return ca < cb
	}
	switch ca {
	case 0:
		if *a.modifier.GroupOrder != *b.modifier.GroupOrder {
			return *a.modifier.GroupOrder < *b.modifier.GroupOrder
		}
		if *a.modifier.OptionOrder != *b.modifier.OptionOrder {
			return *a.modifier.OptionOrder < *b.modifier.OptionOrder
		}
	case 1:
		if a.rank != b.rank {
			return a.rank < b.rank
		}
	}
	return a.occurrence < b.occurrence
}

func modifierClass(acc *modifierAccumulator) int {
	switch {
	case acc.hasMeta:
		return 0
	case acc.hasRank:
		return 1
	default:
		return 2
	}
}
