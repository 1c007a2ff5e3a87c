// Package lookup builds the versioned indexes that enrich raw order
// identifiers with menu names, modifier ordering and dining-option labels.
package lookup

import (
	"strings"

	"github.com/mekedron/orderboard/internal/service/canon"
)

// MenuEntry stores the display names known for one menu item or option.
type MenuEntry struct {
	KitchenName  string `json:"kitchen_name,omitempty"`
	PosName      string `json:"pos_name,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	FallbackName string `json:"fallback_name,omitempty"`
	// Rank is the registration order, i.e. the menu authoring order.
	Rank int `json:"rank"`
}

// Name returns the preferred kitchen-facing name.
func (e MenuEntry) Name() string {
	for _, name := range []string{e.KitchenName, e.PosName, e.DisplayName, e.FallbackName} {
		if strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

// ModifierMeta places a modifier option within menu-authored group order.
type ModifierMeta struct {
	GroupName   string `json:"group_name,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
	GroupOrder  int    `json:"group_order"`
	OptionOrder int    `json:"option_order"`
}

func (m ModifierMeta) before(other ModifierMeta) bool {
	if m.GroupOrder != other.GroupOrder {
		return m.GroupOrder < other.GroupOrder
	}
	return m.OptionOrder < other.OptionOrder
}

// Tables is an immutable set of lookups. A new Tables value replaces the old
// one wholesale whenever the menu or config payload changes.
type Tables struct {
	Menu            map[string]MenuEntry
	Modifiers       map[string]ModifierMeta
	DiningOptions   map[string]string
	Version         int
	MenuSignature   string
	ConfigSignature string
}

// Empty returns tables with no entries at version 0.
func Empty() *Tables {
	return &Tables{
		Menu:          map[string]MenuEntry{},
		Modifiers:     map[string]ModifierMeta{},
		DiningOptions: map[string]string{},
	}
}

// MenuItem returns the entry registered under the first matching identifier.
func (t *Tables) MenuItem(ids ...string) (MenuEntry, bool) {
	if t == nil {
		return MenuEntry{}, false
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if entry, ok := t.Menu[id]; ok {
			return entry, true
		}
	}
	return MenuEntry{}, false
}

// Modifier returns ordering metadata for the first matching identifier.
func (t *Tables) Modifier(ids ...string) (ModifierMeta, bool) {
	if t == nil {
		return ModifierMeta{}, false
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if meta, ok := t.Modifiers[id]; ok {
			return meta, true
		}
	}
	return ModifierMeta{}, false
}

// DiningOption resolves an identifier or label variant to its display label.
func (t *Tables) DiningOption(candidate string) (string, bool) {
	if t == nil {
		return "", false
	}
	key := canon.NormalizeKey(candidate)
	if key == "" {
		return "", false
	}
	label, ok := t.DiningOptions[key]
	return label, ok
}

// Build indexes the menu and config payloads. The result has version 0; the
// Registry assigns versions.
func Build(menuPayload any, configPayload any) *Tables {
	t := Empty()
	b := &menuBuilder{
		tables:  t,
		visited: canon.NewVisited(),
		groups:  referenceTable(menuPayload, "modifierGroupReferences", "modifier_group_references"),
		options: referenceTable(menuPayload, "modifierOptionReferences", "modifier_option_references"),
	}
	b.walkMenuNode(menuPayload)
	b.assignModifierOrder()
	b.registerUnreferencedOptions()
	buildDiningOptions(t, configPayload)
	t.MenuSignature = canon.Fingerprint(menuPayload)
	t.ConfigSignature = canon.Fingerprint(configPayload)
	return t
}
