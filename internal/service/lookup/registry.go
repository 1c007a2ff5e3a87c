package lookup

import "github.com/mekedron/orderboard/internal/service/canon"

// Source is one reference payload with its structural signature. An empty
// Signature is computed from Payload.
type Source struct {
	Payload   any
	Signature string
}

func (s Source) signature() string {
	if s.Signature != "" {
		return s.Signature
	}
	return canon.Fingerprint(s.Payload)
}

// Registry owns the current Tables and its version counter. It is not safe for
// concurrent use; the sync engine drives it from a single goroutine.
type Registry struct {
	current *Tables
}

// NewRegistry starts from empty tables at version 0.
func NewRegistry() *Registry {
	return &Registry{current: Empty()}
}

// Current returns the tables in effect.
func (r *Registry) Current() *Tables {
	return r.current
}

// Refresh rebuilds the tables when either signature differs from the one the
// current tables were built from. The version grows by exactly one per
// rebuild. It reports whether a rebuild happened.
func (r *Registry) Refresh(menu Source, config Source) (*Tables, bool) {
	menuSig := menu.signature()
	configSig := config.signature()
	if r.current.Version > 0 && menuSig == r.current.MenuSignature && configSig == r.current.ConfigSignature {
		return r.current, false
	}
	next := Build(menu.Payload, config.Payload)
	next.MenuSignature = menuSig
	next.ConfigSignature = configSig
	next.Version = r.current.Version + 1
	r.current = next
	return next, true
}
