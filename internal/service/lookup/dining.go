package lookup

import (
	"strings"

	"github.com/mekedron/orderboard/internal/service/canon"
)

var diningOptionPaths = []string{
	"diningOptions[*]",
	"dining_options[*]",
	"data.diningOptions[*]",
	"config.diningOptions[*]",
	"restaurant.diningOptions[*]",
}

var diningOptionKeys = []string{
	"guid", "externalId", "external_id", "id",
	"name", "displayName", "display_name", "label", "title",
	"behavior", "diningBehavior",
}

// buildDiningOptions maps every identifier and label variant of each dining
// option to one display label. Keys are normalized so identifier-style and
// label-style candidates share the index; the first option to claim a key wins.
func buildDiningOptions(t *Tables, configPayload any) {
	candidates := append([]any{}, canon.AsSlice(configPayload)...)
	for _, path := range diningOptionPaths {
		candidates = append(candidates, canon.ExtractAtPath(configPayload, path)...)
	}
	seen := canon.NewVisited()
	for _, value := range candidates {
		option := canon.AsMap(value)
		if option == nil || !seen.Add(option) {
			continue
		}
		label := canon.FirstString(option["name"], option["displayName"], option["display_name"], option["label"], option["title"])
		if label == "" {
			label = humanizeBehavior(canon.FirstString(option["behavior"], option["diningBehavior"]))
		}
		if label == "" {
			continue
		}
		for _, key := range diningOptionKeys {
			candidate, ok := canon.ToStringValue(option[key])
			if !ok {
				continue
			}
			normalized := canon.NormalizeKey(candidate)
			if _, exists := t.DiningOptions[normalized]; exists {
				continue
			}
			t.DiningOptions[normalized] = label
		}
	}
}

// humanizeBehavior turns "TAKE_OUT" into "Take Out".
func humanizeBehavior(behavior string) string {
	words := strings.FieldsFunc(strings.ToLower(behavior), func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
