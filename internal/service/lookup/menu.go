package lookup

import (
	"sort"

	"github.com/mekedron/orderboard/internal/service/canon"
)

var (
	menuGroupKeys = []string{"menus", "menuGroups", "menu_groups", "groups", "subgroups", "categories", "children"}
	menuItemKeys  = []string{"menuItems", "menu_items", "items"}
	entryIDKeys   = []string{"guid", "multiLocationId", "multi_location_id", "masterId", "externalId", "external_id", "id", "item_id"}
	groupRefKeys  = []string{"modifierGroupReferences", "modifier_group_references", "modifierGroups", "modifier_groups", "optionGroups", "option_groups"}
	optionRefKeys = []string{"modifierOptionReferences", "modifier_option_references", "modifierOptions", "modifier_options", "options"}
)

type menuBuilder struct {
	tables   *Tables
	visited  *canon.Visited
	groups   map[string]map[string]any
	options  map[string]map[string]any
	items    []map[string]any
	nextRank int
}

// referenceTable indexes a top-level reference table, given either as an
// object keyed by reference id or as a list, by reference id and guid.
func referenceTable(payload any, keys ...string) map[string]map[string]any {
	out := map[string]map[string]any{}
	root := canon.AsMap(payload)
	if root == nil {
		return out
	}
	index := func(key string, obj map[string]any) {
		if key != "" {
			out[key] = obj
		}
		for _, id := range []any{obj["referenceId"], obj["reference_id"], obj["guid"]} {
			if s, ok := canon.ToStringValue(id); ok {
				if _, exists := out[s]; !exists {
					out[s] = obj
				}
			}
		}
	}
	for _, key := range keys {
		raw := root[key]
		if table := canon.AsMap(raw); table != nil {
			refKeys := make([]string, 0, len(table))
			for refKey := range table {
				refKeys = append(refKeys, refKey)
			}
			sort.Strings(refKeys)
			for _, refKey := range refKeys {
				if obj := canon.AsMap(table[refKey]); obj != nil {
					index(refKey, obj)
				}
			}
		}
		for _, value := range canon.AsSlice(raw) {
			if obj := canon.AsMap(value); obj != nil {
				index("", obj)
			}
		}
	}
	return out
}

func (b *menuBuilder) walkMenuNode(node any) {
	if node == nil || !b.visited.Add(node) {
		return
	}
	if list := canon.AsSlice(node); list != nil {
		for _, child := range list {
			b.walkMenuNode(child)
		}
		return
	}
	m := canon.AsMap(node)
	if m == nil {
		return
	}
	for _, key := range menuItemKeys {
		for _, value := range canon.AsSlice(m[key]) {
			if item := canon.AsMap(value); item != nil && b.visited.Add(item) {
				if b.registerEntry(item) {
					b.items = append(b.items, item)
				}
			}
		}
	}
	for _, key := range menuGroupKeys {
		b.walkMenuNode(m[key])
	}
}

func entryIDs(obj map[string]any) []string {
	ids := make([]string, 0, 2)
	for _, key := range entryIDKeys {
		if s, ok := canon.ToStringValue(obj[key]); ok {
			ids = append(ids, s)
		}
	}
	return ids
}

func entryFrom(obj map[string]any) MenuEntry {
	return MenuEntry{
		KitchenName:  canon.FirstString(obj["kitchenName"], obj["kitchen_name"]),
		PosName:      canon.FirstString(obj["posName"], obj["pos_name"]),
		DisplayName:  canon.FirstString(obj["name"], obj["displayName"], obj["display_name"], obj["title"]),
		FallbackName: canon.FirstString(obj["shortName"], obj["short_name"], obj["plu"], obj["sku"]),
	}
}

// registerEntry indexes obj under every identifier it carries. When an
// identifier is already registered the earlier entry wins and only its blank
// fields are filled in.
func (b *menuBuilder) registerEntry(obj map[string]any) bool {
	ids := entryIDs(obj)
	if len(ids) == 0 {
		return false
	}
	incoming := entryFrom(obj)
	incoming.Rank = b.nextRank
	registered := false
	for _, id := range ids {
		existing, ok := b.tables.Menu[id]
		if !ok {
			b.tables.Menu[id] = incoming
			registered = true
			continue
		}
		b.tables.Menu[id] = mergeEntry(existing, incoming)
	}
	if registered {
		b.nextRank++
	}
	return true
}

func mergeEntry(existing MenuEntry, incoming MenuEntry) MenuEntry {
	if existing.KitchenName == "" {
		existing.KitchenName = incoming.KitchenName
	}
	if existing.PosName == "" {
		existing.PosName = incoming.PosName
	}
	if existing.DisplayName == "" {
		existing.DisplayName = incoming.DisplayName
	}
	if existing.FallbackName == "" {
		existing.FallbackName = incoming.FallbackName
	}
	return existing
}

// assignModifierOrder gives every referenced modifier option a
// (groupOrder, optionOrder) pair. Groups are ranked by first reference while
// walking menu items in authoring order; an option reachable from several
// groups keeps its lowest pair.
func (b *menuBuilder) assignModifierOrder() {
	groupRank := map[string]int{}
	for _, item := range b.items {
		b.assignGroups(item, groupRank, canon.NewVisited())
	}
}

func (b *menuBuilder) assignGroups(owner map[string]any, groupRank map[string]int, visited *canon.Visited) {
	for _, key := range groupRefKeys {
		for _, ref := range canon.AsSlice(owner[key]) {
			group, groupKey := b.resolveGroup(ref)
			if group == nil || !visited.Add(group) {
				continue
			}
			order, ok := groupRank[groupKey]
			if !ok {
				order = len(groupRank)
				groupRank[groupKey] = order
			}
			groupName := canon.FirstString(group["name"], group["displayName"], group["title"])
			groupID := canon.FirstString(group["guid"], group["id"], groupKey)

			optionOrder := 0
			for _, optionKey := range optionRefKeys {
				for _, optionRef := range canon.AsSlice(group[optionKey]) {
					option := b.resolveOption(optionRef)
					if option == nil {
						continue
					}
					meta := ModifierMeta{
						GroupName:   groupName,
						GroupID:     groupID,
						GroupOrder:  order,
						OptionOrder: optionOrder,
					}
					optionOrder++
					for _, id := range entryIDs(option) {
						if current, exists := b.tables.Modifiers[id]; !exists || meta.before(current) {
							b.tables.Modifiers[id] = meta
						}
					}
					b.registerEntry(option)
					if visited.Add(option) {
						b.assignGroups(option, groupRank, visited)
					}
				}
			}
		}
	}
}

func (b *menuBuilder) resolveGroup(ref any) (map[string]any, string) {
	if obj := canon.AsMap(ref); obj != nil {
		for _, key := range optionRefKeys {
			if _, inline := obj[key]; inline {
				return obj, groupKeyOf(obj)
			}
		}
		for _, id := range []any{obj["referenceId"], obj["reference_id"], obj["guid"]} {
			if s, ok := canon.ToStringValue(id); ok {
				if group, found := b.groups[s]; found {
					return group, groupKeyOf(group)
				}
			}
		}
		return nil, ""
	}
	s, ok := canon.ToStringValue(ref)
	if !ok {
		return nil, ""
	}
	group, found := b.groups[s]
	if !found {
		return nil, ""
	}
	return group, groupKeyOf(group)
}

func groupKeyOf(group map[string]any) string {
	if guid, ok := canon.ToStringValue(group["guid"]); ok {
		return guid
	}
	if ref, ok := canon.ToStringValue(group["referenceId"]); ok {
		return "ref:" + ref
	}
	return "name:" + canon.NormalizeKey(canon.FirstString(group["name"], group["title"]))
}

func (b *menuBuilder) resolveOption(ref any) map[string]any {
	if obj := canon.AsMap(ref); obj != nil {
		if len(entryIDs(obj)) > 0 {
			return obj
		}
		for _, id := range []any{obj["referenceId"], obj["reference_id"]} {
			if s, ok := canon.ToStringValue(id); ok {
				if option, found := b.options[s]; found {
					return option
				}
			}
		}
		return nil
	}
	s, ok := canon.ToStringValue(ref)
	if !ok {
		return nil
	}
	return b.options[s]
}

// registerUnreferencedOptions gives names to options no menu item references,
// after every referenced entry has been ranked.
func (b *menuBuilder) registerUnreferencedOptions() {
	keys := make([]string, 0, len(b.options))
	for key := range b.options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	seen := canon.NewVisited()
	for _, key := range keys {
		option := b.options[key]
		if !seen.Add(option) {
			continue
		}
		b.registerEntry(option)
	}
}
