// Package syncer drives the polling loop that keeps the order cache converged
// with the upstream API and publishes immutable snapshots for renderers.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/gateway/orders"
	"github.com/mekedron/orderboard/internal/kvstore"
	"github.com/mekedron/orderboard/internal/service/diagnostics"
	"github.com/mekedron/orderboard/internal/service/fetcher"
	"github.com/mekedron/orderboard/internal/service/lookup"
	"github.com/mekedron/orderboard/internal/service/ordercache"
	"github.com/mekedron/orderboard/internal/service/snapshot"
)

// ErrNoUsableSnapshot is returned when a refresh fails and nothing was ever
// loaded that could be shown instead.
var ErrNoUsableSnapshot = errors.New("refresh failed with no usable snapshot")

// Persistence keys.
const (
	KeyMenuSnapshot   = "snapshot:menu"
	KeyConfigSnapshot = "snapshot:config"
	KeyOrderCache     = "orders:cache"
)

// Trigger names what started a refresh cycle.
type Trigger string

const (
	TriggerMount  Trigger = "mount"
	TriggerManual Trigger = "manual"
	TriggerTimer  Trigger = "timer"
)

// Silent reports whether failures of this trigger stay out of the published
// error state.
func (t Trigger) Silent() bool {
	return t == TriggerTimer
}

// Snapshot is the immutable view handed to consumers after every publish.
type Snapshot struct {
	Orders        []domain.NormalizedOrder `json:"orders" yaml:"orders"`
	GeneratedAt   time.Time                `json:"generated_at" yaml:"generated_at"`
	Cursor        *time.Time               `json:"cursor,omitempty" yaml:"cursor,omitempty"`
	Err           error                    `json:"-" yaml:"-"`
	LastSuccessAt *time.Time               `json:"last_success_at,omitempty" yaml:"last_success_at,omitempty"`
	CycleID       string                   `json:"cycle_id,omitempty" yaml:"cycle_id,omitempty"`
	Trigger       Trigger                  `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	LookupVersion int                      `json:"lookup_version" yaml:"lookup_version"`
}

// Options wire an Engine.
type Options struct {
	Config domain.SyncConfig
	API    orders.API
	// Store persists snapshots across restarts; nil disables persistence.
	Store  kvstore.Store
	Sink   diagnostics.Sink
	Logger *slog.Logger
	Now    func() time.Time
	// Sleep is used between targeted-fetch retries.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine is the sync orchestrator. Refresh may be called from any goroutine;
// a new cycle cancels the one in flight and waits for it to unwind before
// touching the cache.
type Engine struct {
	cfg      domain.SyncConfig
	api      orders.API
	store    kvstore.Store
	sink     diagnostics.Sink
	logger   *slog.Logger
	now      func() time.Time
	cache    *ordercache.Cache
	registry *lookup.Registry
	menu     *snapshot.Cache
	config   *snapshot.Cache
	fetcher  *fetcher.Fetcher

	cancelM    sync.Mutex
	cancelPrev context.CancelFunc
	generation uint64

	// cycleM serializes cycles; the fields below it are only touched while
	// holding it.
	cycleM      sync.Mutex
	cursor      *time.Time
	lastSuccess *time.Time
	usable      bool

	published atomic.Pointer[Snapshot]
	subsM     sync.Mutex
	subs      map[int]func(Snapshot)
	nextSub   int
}

func New(opts Options) *Engine {
	cfg := opts.Config.WithDefaults()
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = diagnostics.Discard{}
	}
	e := &Engine{
		cfg:      cfg,
		api:      opts.API,
		store:    opts.Store,
		sink:     opts.Sink,
		logger:   opts.Logger,
		now:      opts.Now,
		registry: lookup.NewRegistry(),
		subs:     map[int]func(Snapshot){},
	}
	e.cache = ordercache.New(e.registry.Current(), ordercache.TTLs{Ready: cfg.ReadyTTL(), Active: cfg.ActiveTTL()})
	e.menu = snapshot.New(snapshot.Options{
		Key:        KeyMenuSnapshot,
		Fetch:      opts.API.Menu,
		Store:      opts.Store,
		DefaultTTL: cfg.LookupTTL(),
		Now:        opts.Now,
		Logger:     opts.Logger,
	})
	e.config = snapshot.New(snapshot.Options{
		Key:        KeyConfigSnapshot,
		Fetch:      opts.API.Config,
		Store:      opts.Store,
		DefaultTTL: cfg.LookupTTL(),
		Now:        opts.Now,
		Logger:     opts.Logger,
	})
	e.fetcher = fetcher.New(opts.API, fetcher.Options{
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		MaxRetries:       cfg.MaxRetries,
		Backoff:          cfg.RetryBackoff(),
		Sleep:            opts.Sleep,
	})
	return e
}

// Snapshot returns the most recently published snapshot.
func (e *Engine) Snapshot() Snapshot {
	if snap := e.published.Load(); snap != nil {
		return *snap
	}
	return Snapshot{Orders: []domain.NormalizedOrder{}}
}

// Subscribe registers fn to run after every publish. The returned func
// removes the subscription.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	e.subsM.Lock()
	defer e.subsM.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.subsM.Lock()
		delete(e.subs, id)
		e.subsM.Unlock()
	}
}

func (e *Engine) publish(snap Snapshot) {
	e.published.Store(&snap)
	e.subsM.Lock()
	subs := make([]func(Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subsM.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// Refresh runs one cycle. Any cycle still in flight is cancelled first; its
// late results are discarded.
func (e *Engine) Refresh(ctx context.Context, trigger Trigger) (Snapshot, error) {
	cycleCtx, cancel := context.WithCancel(ctx)
	e.cancelM.Lock()
	if e.cancelPrev != nil {
		e.cancelPrev()
	}
	e.cancelPrev = cancel
	e.generation++
	generation := e.generation
	e.cancelM.Unlock()
	defer func() {
		e.cancelM.Lock()
		if e.generation == generation {
			e.cancelPrev = nil
		}
		e.cancelM.Unlock()
		cancel()
	}()

	e.cycleM.Lock()
	defer e.cycleM.Unlock()
	if err := cycleCtx.Err(); err != nil {
		return e.Snapshot(), err
	}
	return e.runCycle(cycleCtx, trigger)
}

// Run restores persisted state, performs the mount refresh and then refreshes
// silently on every poll interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.Restore(ctx)
	if _, err := e.Refresh(ctx, TriggerMount); err != nil && !isCancellation(err) {
		e.logger.Warn("mount refresh failed", "error", err)
	}

	ticker := time.NewTicker(e.cfg.PollInterval())
	defer ticker.Stop()
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := e.Refresh(ctx, TriggerTimer); err != nil && !isCancellation(err) {
					e.logger.Debug("background refresh failed", "error", err)
				}
			}()
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) emit(ctx context.Context, eventType string, level diagnostics.Level, payload map[string]any) {
	e.sink.Emit(context.WithoutCancel(ctx), diagnostics.Event{
		Type:    eventType,
		Level:   level,
		Payload: payload,
		At:      e.now(),
	})
}
