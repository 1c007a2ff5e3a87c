package canon

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type segmentKind int

const (
	segmentKey segmentKind = iota
	segmentIndex
	segmentWildcard
	segmentDeep
)

type segment struct {
	kind  segmentKind
	key   string
	index int
}

var compiledPaths sync.Map // string -> []segment

// ExtractAtPath resolves a dotted path against nested objects and arrays and
// returns every non-nil value it reaches.
//
// Supported segments: `key`, `key[2]`, `[-1]` (from the end), `*` or `[*]`
// (every array element or object value) and `**` (the current node and all of
// its descendants). Containers reached twice through different branches are
// returned once, and `**` never re-enters a container already on its walk, so
// self-referential payloads terminate.
func ExtractAtPath(source any, path string) []any {
	if source == nil {
		return nil
	}
	current := []any{source}
	for _, seg := range compilePath(path) {
		next := make([]any, 0, len(current))
		seen := identitySet{}
		emit := func(value any) {
			if value == nil {
				return
			}
			if !seen.add(value) {
				return
			}
			next = append(next, value)
		}
		for _, node := range current {
			switch seg.kind {
			case segmentKey:
				if m := AsMap(node); m != nil {
					emit(m[seg.key])
				}
			case segmentIndex:
				list := AsSlice(node)
				idx := seg.index
				if idx < 0 {
					idx += len(list)
				}
				if idx >= 0 && idx < len(list) {
					emit(list[idx])
				}
			case segmentWildcard:
				for _, child := range children(node) {
					emit(child)
				}
			case segmentDeep:
				walk(node, identitySet{}, func(value any) { emit(value) })
			}
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

// FirstAtPaths returns the first value found across paths, in path order.
func FirstAtPaths(source any, paths ...string) any {
	for _, path := range paths {
		if values := ExtractAtPath(source, path); len(values) > 0 {
			return values[0]
		}
	}
	return nil
}

// WalkObjects returns every object nested under node (node included), in a
// deterministic order. Each container is visited at most once.
func WalkObjects(node any) []map[string]any {
	objects := []map[string]any{}
	walk(node, identitySet{}, func(value any) {
		if m := AsMap(value); m != nil {
			objects = append(objects, m)
		}
	})
	return objects
}

func walk(node any, visited identitySet, visit func(any)) {
	if node == nil {
		return
	}
	if !visited.add(node) {
		return
	}
	visit(node)
	for _, child := range children(node) {
		walk(child, visited, visit)
	}
}

func children(node any) []any {
	if m := AsMap(node); m != nil {
		keys := make([]string, 0, len(m))
		for key := range m {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys))
		for _, key := range keys {
			if m[key] != nil {
				out = append(out, m[key])
			}
		}
		return out
	}
	list := AsSlice(node)
	out := make([]any, 0, len(list))
	for _, value := range list {
		if value != nil {
			out = append(out, value)
		}
	}
	return out
}

func compilePath(path string) []segment {
	if cached, ok := compiledPaths.Load(path); ok {
		return cached.([]segment)
	}
	segments := parsePath(path)
	compiledPaths.Store(path, segments)
	return segments
}

func parsePath(path string) []segment {
	segments := []segment{}
	for _, part := range strings.Split(strings.TrimSpace(path), ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := part
		rest := ""
		if open := strings.IndexByte(part, '['); open >= 0 {
			key = part[:open]
			rest = part[open:]
		}
		switch key {
		case "":
		case "*":
			segments = append(segments, segment{kind: segmentWildcard})
		case "**":
			segments = append(segments, segment{kind: segmentDeep})
		default:
			segments = append(segments, segment{kind: segmentKey, key: key})
		}
		for rest != "" {
			closeIdx := strings.IndexByte(rest, ']')
			if rest[0] != '[' || closeIdx < 0 {
				break
			}
			inner := strings.TrimSpace(rest[1:closeIdx])
			rest = rest[closeIdx+1:]
			if inner == "*" || inner == "" {
				segments = append(segments, segment{kind: segmentWildcard})
				continue
			}
			if idx, err := strconv.Atoi(inner); err == nil {
				segments = append(segments, segment{kind: segmentIndex, index: idx})
				continue
			}
			segments = append(segments, segment{kind: segmentKey, key: strings.Trim(inner, `"'`)})
		}
	}
	return segments
}

// identitySet tracks containers by reference. Scalars are never tracked and
// always report as new.
type identitySet map[identity]struct{}

type identity struct {
	kind reflect.Kind
	ptr  uintptr
	len  int
}

func identityOf(value any) (identity, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return identity{}, false
		}
		return identity{kind: reflect.Map, ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return identity{}, false
		}
		return identity{kind: reflect.Slice, ptr: rv.Pointer(), len: rv.Len()}, true
	case reflect.Pointer:
		if rv.IsNil() {
			return identity{}, false
		}
		return identity{kind: reflect.Pointer, ptr: rv.Pointer()}, true
	default:
		return identity{}, false
	}
}

func (s identitySet) add(value any) bool {
	id, ok := identityOf(value)
	if !ok {
		return true
	}
	if _, exists := s[id]; exists {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Visited tracks containers already entered during a caller-driven recursive
// walk.
type Visited struct {
	set identitySet
}

// NewVisited returns an empty Visited set.
func NewVisited() *Visited {
	return &Visited{set: identitySet{}}
}

// Add records value and reports whether it was not seen before. Scalars are
// always reported as new.
func (v *Visited) Add(value any) bool {
	return v.set.add(value)
}
