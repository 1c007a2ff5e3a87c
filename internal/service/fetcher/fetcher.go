// Package fetcher hydrates and re-polls individual orders with bounded
// concurrency and retry.
package fetcher

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/gateway/orders"
	"github.com/mekedron/orderboard/internal/service/normalize"
)

// Getter fetches one order by GUID. orders.Client implements it.
type Getter interface {
	OrderByGUID(ctx context.Context, guid string) (domain.RawOrder, error)
}

// Options tune a Fetcher.
type Options struct {
	ConcurrencyLimit int
	MaxRetries       int
	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration
	// Sleep waits between attempts; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Retryable classifies failures; defaults to orders.IsRetryable.
	Retryable func(err error) bool
}

// Result groups per-GUID outcomes. Orders holds every fetched record in input
// order, voided ones included.
type Result struct {
	Seen       map[string]struct{}
	Orders     []domain.RawOrder
	NotFound   []string
	Voided     []string
	Unresolved []string
}

type outcome int

const (
	outcomeFound outcome = iota
	outcomeNotFound
	outcomeUnresolved
)

type fetched struct {
	order   domain.RawOrder
	outcome outcome
}

// Fetcher runs targeted fetches.
type Fetcher struct {
	getter Getter
	opts   Options
}

func New(getter Getter, opts Options) *Fetcher {
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Retryable == nil {
		opts.Retryable = orders.IsRetryable
	}
	return &Fetcher{getter: getter, opts: opts}
}

// FetchByGUIDs fetches each distinct GUID in fixed-size batches, never
// exceeding ConcurrencyLimit requests in flight. Cancellation aborts the whole
// call and returns the context error.
func (f *Fetcher) FetchByGUIDs(ctx context.Context, guids []string) (Result, error) {
	result := Result{Seen: map[string]struct{}{}}
	unique := dedupe(guids)
	slots := make([]fetched, len(unique))

	for start := 0; start < len(unique); start += f.opts.ConcurrencyLimit {
		end := min(start+f.opts.ConcurrencyLimit, len(unique))
		group, groupCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			group.Go(func() error {
				res, err := f.fetchOne(groupCtx, unique[i])
				if err != nil {
					return err
				}
				slots[i] = res
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return Result{}, err
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
	}

	for i, guid := range unique {
		switch slots[i].outcome {
		case outcomeFound:
			result.Seen[guid] = struct{}{}
			result.Orders = append(result.Orders, slots[i].order)
			if normalize.IsVoided(slots[i].order) {
				result.Voided = append(result.Voided, guid)
			}
		case outcomeNotFound:
			result.Seen[guid] = struct{}{}
			result.NotFound = append(result.NotFound, guid)
		default:
			result.Unresolved = append(result.Unresolved, guid)
		}
	}
	return result, nil
}

// fetchOne returns an error only for cancellation; every other failure is
// folded into the outcome.
func (f *Fetcher) fetchOne(ctx context.Context, guid string) (fetched, error) {
	for attempt := 0; ; attempt++ {
		order, err := f.getter.OrderByGUID(ctx, guid)
		if err == nil {
			if order == nil {
				return fetched{outcome: outcomeNotFound}, nil
			}
			return fetched{order: order, outcome: outcomeFound}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fetched{}, ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return fetched{}, err
		}
		if errors.Is(err, orders.ErrNotFound) {
			return fetched{outcome: outcomeNotFound}, nil
		}
		if attempt >= f.opts.MaxRetries || !f.opts.Retryable(err) {
			return fetched{outcome: outcomeUnresolved}, nil
		}
		if err := f.opts.Sleep(ctx, f.opts.Backoff*time.Duration(attempt+1)); err != nil {
			return fetched{}, err
		}
	}
}

func dedupe(guids []string) []string {
	seen := make(map[string]struct{}, len(guids))
	out := make([]string, 0, len(guids))
	for _, guid := range guids {
		if guid == "" {
			continue
		}
		if _, ok := seen[guid]; ok {
			continue
		}
		seen[guid] = struct{}{}
		out = append(out, guid)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
