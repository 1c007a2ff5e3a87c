package cli

import (
	"context"
	"sync"

	"github.com/mekedron/orderboard/internal/config"
	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/gateway/orders"
	"github.com/mekedron/orderboard/internal/kvstore"
)

type testOrdersAPI struct {
	mu       sync.Mutex
	queryErr error
	bulk     orders.QueryResult
	records  map[string]domain.RawOrder
	queries  []orders.QueryOptions
}

func (m *testOrdersAPI) QueryOrders(_ context.Context, opts orders.QueryOptions) (orders.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, opts)
	if m.queryErr != nil {
		return orders.QueryResult{}, m.queryErr
	}
	return m.bulk, nil
}

func (m *testOrdersAPI) OrderByGUID(_ context.Context, guid string) (domain.RawOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[guid]; ok {
		return record, nil
	}
	return nil, &orders.UpstreamRequestError{StatusCode: 404}
}

func (m *testOrdersAPI) Menu(context.Context) (orders.Payload, error) {
	return orders.Payload{Body: map[string]any{"menuItems": []any{
		map[string]any{"guid": "item-1", "kitchenName": "BURGER"},
	}}}, nil
}

func (m *testOrdersAPI) Config(context.Context) (orders.Payload, error) {
	return orders.Payload{Body: map[string]any{"diningOptions": []any{
		map[string]any{"guid": "do-1", "name": "Take Out"},
	}}}, nil
}

func (m *testOrdersAPI) lastQuery() orders.QueryOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queries) == 0 {
		return orders.QueryOptions{}
	}
	return m.queries[len(m.queries)-1]
}

type testConfigManager struct {
	cfg     domain.SyncConfig
	loadErr error
	saved   []domain.SyncConfig
}

func (m *testConfigManager) Path() string { return "/tmp/orderboard-test.yaml" }

func (m *testConfigManager) Load(context.Context) (domain.SyncConfig, error) {
	if m.loadErr != nil {
		return domain.SyncConfig{}, m.loadErr
	}
	return m.cfg, nil
}

func (m *testConfigManager) Save(_ context.Context, cfg domain.SyncConfig) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	m.cfg = cfg
	m.loadErr = nil
	m.saved = append(m.saved, cfg)
	return nil
}

func (m *testConfigManager) Resolve(context.Context) (domain.SyncConfig, error) {
	return m.cfg.WithDefaults(), nil
}

func testDeps(api *testOrdersAPI) Dependencies {
	return Dependencies{
		Config: &testConfigManager{cfg: domain.SyncConfig{BaseURL: "http://orders.test/api", RestaurantGUID: "rest-1"}},
		NewAPI: func(domain.SyncConfig) orders.API { return api },
		OpenStore: func(string) (kvstore.Store, error) {
			return kvstore.NewMemory(), nil
		},
		Version: "test",
	}
}

func fullBoardAPI() *testOrdersAPI {
	return &testOrdersAPI{
		bulk: orders.QueryResult{
			Success: true,
			Detail:  domain.DetailFull,
			Orders: []domain.RawOrder{
				{
					"guid":          "order-a",
					"displayNumber": "42",
					"createdDate":   "2024-03-01T12:00:00Z",
					"diningOption":  map[string]any{"guid": "do-1"},
					"items": []any{map[string]any{
						"item":     map[string]any{"guid": "item-1"},
						"quantity": 2,
						"status":   "READY",
					}},
				},
				{
					"guid":              "order-b",
					"displayNumber":     "43",
					"createdDate":       "2024-03-01T12:05:00Z",
					"fulfillmentStatus": "SENT",
				},
			},
		},
		records: map[string]domain.RawOrder{},
	}
}
