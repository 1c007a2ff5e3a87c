package integration_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/gateway/orders"
	"github.com/mekedron/orderboard/internal/kvstore"
	"github.com/mekedron/orderboard/internal/service/diagnostics"
	"github.com/mekedron/orderboard/internal/service/syncer"
)

const guidPrefix = "9b0c6f2e-41d2-4c6a-b1f0-7d2a11c0a"

type staticHTTPClient struct {
	mu      sync.Mutex
	routes  map[string][]byte
	headers map[string]http.Header
	hits    map[string]int
}

func (c *staticHTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hits == nil {
		c.hits = map[string]int{}
	}
	c.hits[req.URL.Path]++
	payload := c.routes[req.URL.Path]
	if payload == nil {
		return &http.Response{
			StatusCode: 404,
			Body:       io.NopCloser(bytes.NewReader([]byte(`{"error":"not found"}`))),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}
	header := c.headers[req.URL.Path]
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewReader(payload)),
		Header:     header,
		Request:    req,
	}, nil
}

func (c *staticHTTPClient) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

func readFixture(t *testing.T, filename string) []byte {
	t.Helper()
	path := filepath.Join("testdata", "orders", filename)
	bytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture %s: %v", filename, err)
	}
	return bytes
}

func orderPath(suffix string) string {
	return "/api/orders/" + guidPrefix + suffix
}

func newFixtureClient(t *testing.T) (*orders.Client, *staticHTTPClient) {
	t.Helper()
	httpClient := &staticHTTPClient{
		routes: map[string][]byte{
			"/api/orders": readFixture(t, "orders_ids.json"),
			"/api/menu":   readFixture(t, "menu.json"),
			"/api/config": readFixture(t, "config.json"),
		},
		headers: map[string]http.Header{
			"/api/menu": {"Cache-Control": []string{"public, max-age=600"}},
		},
	}
	for _, suffix := range []string{"001", "002", "003"} {
		httpClient.routes[orderPath(suffix)] = readFixture(t, "order_a"+suffix+".json")
	}
	client := orders.NewClient(
		orders.WithHTTPClient(httpClient),
		orders.WithEndpoints(orders.EndpointsFor("https://orders.example.test/api")),
		orders.WithCredentials("token-1", "rest-1"),
	)
	return client, httpClient
}

func TestEngineBuildsBoardFromFixtures(t *testing.T) {
	client, httpClient := newFixtureClient(t)
	recorder := &diagnostics.Recorder{}
	engine := syncer.New(syncer.Options{
		Config: domain.SyncConfig{Detail: domain.DetailIDs},
		API:    client,
		Sink:   recorder,
	})

	snap, err := engine.Refresh(context.Background(), syncer.TriggerMount)
	if err != nil {
		t.Fatalf("refresh returned error: %v", err)
	}
	if len(snap.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d: %+v", len(snap.Orders), snap.Orders)
	}

	burger := snap.Orders[0]
	if burger.DisplayID != "101" || burger.DiningOption != "Take Out" || burger.CustomerName != "Ada Lovelace" {
		t.Fatalf("unexpected first order: %+v", burger)
	}
	if burger.Total == nil || *burger.Total != 18.5 {
		t.Fatalf("expected total from checks, got %v", burger.Total)
	}
	if !burger.IsReady() || len(burger.Items) != 1 || burger.Items[0].Name != "CHZ BRGR" {
		t.Fatalf("unexpected burger items: %+v", burger.Items)
	}
	mods := burger.Items[0].Modifiers
	if len(mods) != 2 || mods[0].Name != "Well Done" || mods[1].Name != "Bacon" || mods[1].Quantity != 2 {
		t.Fatalf("expected menu-ordered aggregated modifiers, got %+v", mods)
	}

	fries := snap.Orders[1]
	if fries.FulfillmentStatus != domain.FulfillmentInProgress || fries.DiningOption != "Dine In" {
		t.Fatalf("unexpected second order: %+v", fries)
	}
	if len(fries.Items) != 1 || fries.Items[0].Name != "FRY" || fries.Items[0].Quantity != 2 {
		t.Fatalf("unexpected fries items: %+v", fries.Items)
	}

	if snap.Cursor == nil || snap.Cursor.Format("15:04") != "12:00" {
		t.Fatalf("expected cursor at window end, got %v", snap.Cursor)
	}
	if snap.LookupVersion != 1 {
		t.Fatalf("expected lookup version 1, got %d", snap.LookupVersion)
	}

	if _, err := engine.Refresh(context.Background(), syncer.TriggerTimer); err != nil {
		t.Fatalf("second refresh returned error: %v", err)
	}
	if got := httpClient.count("/api/menu"); got != 1 {
		t.Fatalf("expected cached menu to be reused, got %d menu requests", got)
	}
	if got := httpClient.count("/api/config"); got != 1 {
		t.Fatalf("expected config without cache headers to live for the lookup ttl, got %d requests", got)
	}
	if got := httpClient.count(orderPath("002")); got != 2 {
		t.Fatalf("expected in-progress order to be re-polled, got %d", got)
	}
	if got := httpClient.count(orderPath("001")); got != 1 {
		t.Fatalf("expected ready order not to be re-polled, got %d", got)
	}

	if _, err := engine.Refresh(context.Background(), syncer.TriggerManual); err != nil {
		t.Fatalf("manual refresh returned error: %v", err)
	}
	if got := httpClient.count("/api/menu"); got != 2 {
		t.Fatalf("expected manual refresh to refetch menu, got %d", got)
	}
	if got := httpClient.count("/api/config"); got != 2 {
		t.Fatalf("expected manual refresh to refetch config, got %d", got)
	}
	if len(recorder.OfType(diagnostics.TypeLookupRebuilt)) != 1 {
		t.Fatalf("expected a single lookup rebuild for unchanged payloads")
	}
}

func TestEngineRestoresFromPebble(t *testing.T) {
	dir := t.TempDir()
	client, _ := newFixtureClient(t)

	store, err := kvstore.NewPebble(dir)
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	engine := syncer.New(syncer.Options{Config: domain.SyncConfig{}, API: client, Store: store})
	if _, err := engine.Refresh(context.Background(), syncer.TriggerMount); err != nil {
		t.Fatalf("refresh returned error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close pebble: %v", err)
	}

	reopened, err := kvstore.NewPebble(dir)
	if err != nil {
		t.Fatalf("reopen pebble: %v", err)
	}
	defer reopened.Close()
	restarted := syncer.New(syncer.Options{Config: domain.SyncConfig{}, API: client, Store: reopened})
	restarted.Restore(context.Background())

	snap := restarted.Snapshot()
	if len(snap.Orders) != 2 || snap.Orders[0].Items[0].Name != "CHZ BRGR" {
		t.Fatalf("expected restored board before any network call, got %+v", snap.Orders)
	}
	if snap.Trigger != syncer.TriggerMount || snap.LookupVersion != 1 {
		t.Fatalf("unexpected restored snapshot metadata: %+v", snap)
	}
}
