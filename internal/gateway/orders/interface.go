package orders

import (
	"context"
	"time"

	"github.com/mekedron/orderboard/internal/domain"
)

// QueryOptions filters the bulk orders query. Since takes precedence over
// LookbackMinutes when set.
type QueryOptions struct {
	Since           *time.Time
	LookbackMinutes int
	Limit           int
	Detail          domain.Detail
}

// Window is the time range the server declares it answered for.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// QueryResult is the decoded bulk query envelope.
type QueryResult struct {
	Success bool
	Detail  domain.Detail
	GUIDs   []string
	Orders  []domain.RawOrder
	Window  *Window
	Debug   map[string]any
}

// Count is the number of records the server returned.
func (r QueryResult) Count() int {
	return len(r.GUIDs) + len(r.Orders)
}

// Payload is a cacheable reference document (menu or config).
type Payload struct {
	Body      any
	FetchedAt time.Time
	// MaxAge is nil when the response carried no freshness directive.
	MaxAge *time.Duration
}

// API describes every upstream operation the sync engine uses.
type API interface {
	QueryOrders(ctx context.Context, opts QueryOptions) (QueryResult, error)
	OrderByGUID(ctx context.Context, guid string) (domain.RawOrder, error)
	Menu(ctx context.Context) (Payload, error)
	Config(ctx context.Context) (Payload, error)
}
