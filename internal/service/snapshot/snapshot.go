// Package snapshot keeps freshness-checked copies of the menu and config
// payloads. A stale copy is never discarded; it stands in whenever a refetch
// fails.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mekedron/orderboard/internal/gateway/orders"
	"github.com/mekedron/orderboard/internal/kvstore"
	"github.com/mekedron/orderboard/internal/service/canon"
)

// ErrNoSnapshot is returned when a fetch fails and no earlier copy exists.
var ErrNoSnapshot = errors.New("no snapshot available")

// CacheSnapshot is one fetched reference payload.
type CacheSnapshot struct {
	Payload   any        `json:"payload"`
	FetchedAt time.Time  `json:"fetched_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Signature string     `json:"signature"`
}

// Fresh reports whether the snapshot may be used without refetching.
func (s CacheSnapshot) Fresh(now time.Time) bool {
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

// FetchFunc retrieves the current payload from upstream.
type FetchFunc func(ctx context.Context) (orders.Payload, error)

// Result describes how Get satisfied a request.
type Result struct {
	Snapshot CacheSnapshot
	// Fetched is true when the snapshot came from upstream during this call.
	Fetched bool
	// FetchErr is the refetch failure that forced a stale fallback.
	FetchErr error
}

// Stale reports whether a fallback copy was served after a failed refetch.
func (r Result) Stale() bool {
	return r.FetchErr != nil
}

// Options configure a Cache.
type Options struct {
	// Key under which the snapshot is persisted, e.g. "snapshot:menu".
	Key   string
	Fetch FetchFunc
	Store kvstore.Store
	// DefaultTTL applies when neither the response nor the payload declares
	// a lifetime. Zero keeps such snapshots fresh until forced.
	DefaultTTL time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Cache owns one CacheSnapshot.
type Cache struct {
	opts    Options
	mu      sync.Mutex
	current *CacheSnapshot
}

func New(opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{opts: opts}
}

// Current returns the held snapshot, if any.
func (c *Cache) Current() (CacheSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return CacheSnapshot{}, false
	}
	return *c.current, true
}

// Restore loads a persisted snapshot. A missing or unreadable entry leaves the
// cache empty.
func (c *Cache) Restore(ctx context.Context) bool {
	if c.opts.Store == nil {
		return false
	}
	raw, ok, err := c.opts.Store.Get(ctx, c.opts.Key)
	if err != nil {
		c.opts.Logger.Warn("restore snapshot", "key", c.opts.Key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	var snap CacheSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.opts.Logger.Warn("decode persisted snapshot", "key", c.opts.Key, "error", err)
		return false
	}
	c.mu.Lock()
	c.current = &snap
	c.mu.Unlock()
	return true
}

// Get returns a fresh snapshot, refetching when the held one expired or when
// force is set. A failed refetch falls back to the held copy.
func (c *Cache) Get(ctx context.Context, force bool) (Result, error) {
	now := c.opts.Now()
	held, hasHeld := c.Current()
	if hasHeld && !force && held.Fresh(now) {
		return Result{Snapshot: held}, nil
	}

	payload, err := c.opts.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if hasHeld {
			return Result{Snapshot: held, FetchErr: err}, nil
		}
		return Result{}, fmt.Errorf("%w: %s: %w", ErrNoSnapshot, c.opts.Key, err)
	}

	snap := CacheSnapshot{
		Payload:   payload.Body,
		FetchedAt: payload.FetchedAt,
		Signature: canon.Fingerprint(payload.Body),
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = now
	}
	if ttl, ok := c.lifetime(payload); ok {
		expires := snap.FetchedAt.Add(ttl)
		snap.ExpiresAt = &expires
	}

	c.mu.Lock()
	c.current = &snap
	c.mu.Unlock()
	c.persist(ctx, snap)
	return Result{Snapshot: snap, Fetched: true}, nil
}

// lifetime prefers HTTP freshness, then a payload-declared TTL, then the
// configured default.
func (c *Cache) lifetime(payload orders.Payload) (time.Duration, bool) {
	if payload.MaxAge != nil {
		return *payload.MaxAge, true
	}
	if ttl, ok := payloadTTL(payload.Body, payload.FetchedAt); ok {
		return ttl, true
	}
	if c.opts.DefaultTTL > 0 {
		return c.opts.DefaultTTL, true
	}
	return 0, false
}

var (
	ttlSecondsPaths = []string{"ttlSeconds", "ttl_seconds", "ttl", "cacheTtlSeconds", "meta.ttlSeconds", "meta.ttl"}
	expiresAtPaths  = []string{"expiresAt", "expires_at", "meta.expiresAt"}
)

func payloadTTL(body any, fetchedAt time.Time) (time.Duration, bool) {
	for _, path := range ttlSecondsPaths {
		if seconds, ok := canon.ToNumber(canon.FirstAtPaths(body, path)); ok && seconds >= 0 {
			return time.Duration(seconds * float64(time.Second)), true
		}
	}
	if !fetchedAt.IsZero() {
		for _, path := range expiresAtPaths {
			if expires, ok := canon.ParseDateLike(canon.FirstAtPaths(body, path)); ok {
				ttl := expires.Sub(fetchedAt)
				if ttl < 0 {
					ttl = 0
				}
				return ttl, true
			}
		}
	}
	return 0, false
}

func (c *Cache) persist(ctx context.Context, snap CacheSnapshot) {
	if c.opts.Store == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		c.opts.Logger.Warn("encode snapshot", "key", c.opts.Key, "error", err)
		return
	}
	if err := c.opts.Store.Set(context.WithoutCancel(ctx), c.opts.Key, raw); err != nil {
		c.opts.Logger.Warn("persist snapshot", "key", c.opts.Key, "error", err)
	}
}
