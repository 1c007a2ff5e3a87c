package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/service/canon"
)

const (
	defaultBaseURL       = "http://localhost:8787/api"
	headerClientID       = "x-orderboard-client-id"
	headerRequestID      = "x-request-id"
	headerRestaurantGUID = "restaurant-external-id"
)

// HTTPClient is implemented by http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Endpoints stores upstream endpoint urls. Order is a prefix; the order GUID
// is appended as the last path segment.
type Endpoints struct {
	Orders string
	Order  string
	Menu   string
	Config string
}

// EndpointsFor derives the default endpoint layout under baseURL.
func EndpointsFor(baseURL string) Endpoints {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return Endpoints{
		Orders: baseURL + "/orders",
		Order:  baseURL + "/orders/",
		Menu:   baseURL + "/menu",
		Config: baseURL + "/config",
	}
}

// Client queries the orders API.
type Client struct {
	httpClient     HTTPClient
	endpoints      Endpoints
	token          string
	restaurantGUID string
	clientID       string
	now            func() time.Time
	minRequestGap  time.Duration
	requestWindowM sync.Mutex
	nextRequestAt  time.Time
	verboseOutput  io.Writer
	verboseOutputM sync.RWMutex
}

// Option applies Client options.
type Option func(*Client)

// WithHTTPClient replaces default HTTP client.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithEndpoints replaces default endpoint set.
func WithEndpoints(endpoints Endpoints) Option {
	return func(c *Client) {
		c.endpoints = endpoints
	}
}

// WithCredentials sets the bearer token and restaurant scope header.
func WithCredentials(token, restaurantGUID string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
		c.restaurantGUID = strings.TrimSpace(restaurantGUID)
	}
}

// WithClock overrides the clock used to stamp fetched payloads.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRequestMinInterval limits request burst by enforcing minimum delay between upstream calls.
func WithRequestMinInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval < 0 {
			interval = 0
		}
		c.minRequestGap = interval
	}
}

// WithVerboseOutput enables per-request trace output for upstream HTTP calls.
func WithVerboseOutput(out io.Writer) Option {
	return func(c *Client) {
		c.SetVerboseOutput(out)
	}
}

// NewClient creates a production orders API client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		endpoints:  EndpointsFor(defaultBaseURL),
		clientID:   uuid.NewString(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetVerboseOutput sets destination for verbose HTTP request trace lines.
func (c *Client) SetVerboseOutput(out io.Writer) {
	c.verboseOutputM.Lock()
	c.verboseOutput = out
	c.verboseOutputM.Unlock()
}

// QueryOrders runs the bulk orders query.
func (c *Client) QueryOrders(ctx context.Context, opts QueryOptions) (QueryResult, error) {
	params := url.Values{}
	if opts.Since != nil {
		params.Set("since", opts.Since.UTC().Format(time.RFC3339))
	} else if opts.LookbackMinutes > 0 {
		params.Set("minutes", strconv.Itoa(opts.LookbackMinutes))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	detail := opts.Detail
	if detail == "" {
		detail = domain.DetailIDs
	}
	params.Set("detail", string(detail))

	res, err := c.doJSONRequest(ctx, http.MethodGet, c.endpoints.Orders, params)
	if err != nil {
		return QueryResult{}, err
	}
	return decodeQueryResult(res.payload, detail), nil
}

// OrderByGUID fetches one full order. A confirmed absence matches ErrNotFound.
func (c *Client) OrderByGUID(ctx context.Context, guid string) (domain.RawOrder, error) {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return nil, fmt.Errorf("order guid is required")
	}
	rawURL := c.endpoints.Order + url.PathEscape(guid)
	res, err := c.doJSONRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	envelope := canon.AsMap(res.payload)
	if envelope == nil {
		return nil, &UpstreamRequestError{
			Method:     http.MethodGet,
			URL:        rawURL,
			StatusCode: res.statusCode,
			Cause:      fmt.Errorf("order payload is not an object"),
		}
	}
	if found, ok := envelope["found"].(bool); ok && !found {
		return nil, &UpstreamRequestError{Method: http.MethodGet, URL: rawURL, StatusCode: http.StatusNotFound}
	}
	if inner := canon.AsMap(envelope["order"]); inner != nil {
		return inner, nil
	}
	return envelope, nil
}

// Menu fetches the menu document.
func (c *Client) Menu(ctx context.Context) (Payload, error) {
	return c.fetchPayload(ctx, c.endpoints.Menu)
}

// Config fetches the restaurant config document carrying dining options.
func (c *Client) Config(ctx context.Context) (Payload, error) {
	return c.fetchPayload(ctx, c.endpoints.Config)
}

func (c *Client) fetchPayload(ctx context.Context, rawURL string) (Payload, error) {
	res, err := c.doJSONRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Body:      res.payload,
		FetchedAt: c.now(),
		MaxAge:    parseMaxAge(res.header.Get("Cache-Control")),
	}, nil
}

func decodeQueryResult(payload any, requested domain.Detail) QueryResult {
	envelope := canon.AsMap(payload)
	result := QueryResult{Success: true, Detail: requested}
	if envelope == nil {
		// A bare array is a list of ids or records without an envelope.
		collectOrders(&result, canon.AsSlice(payload))
		return result
	}
	if value, ok := envelope["success"]; ok {
		result.Success = canon.AsBool(value)
	}
	if detail, ok := canon.ToStringValue(envelope["detail"]); ok {
		result.Detail = domain.Detail(strings.ToLower(detail))
	}
	for _, key := range []string{"orders", "guids", "ids", "data"} {
		collectOrders(&result, canon.AsSlice(envelope[key]))
	}
	if window := canon.AsMap(envelope["window"]); window != nil {
		result.Window = &Window{}
		if start, ok := canon.ParseDateLike(canon.FirstAtPaths(window, "start", "from", "since")); ok {
			result.Window.Start = &start
		}
		if end, ok := canon.ParseDateLike(canon.FirstAtPaths(window, "end", "to", "until")); ok {
			result.Window.End = &end
		}
	}
	result.Debug = canon.AsMap(envelope["debug"])
	return result
}

func collectOrders(result *QueryResult, entries []any) {
	for _, entry := range entries {
		if guid, ok := canon.ToStringValue(entry); ok {
			result.GUIDs = append(result.GUIDs, guid)
			continue
		}
		if order := canon.AsMap(entry); order != nil {
			result.Orders = append(result.Orders, order)
		}
	}
}

// parseMaxAge reads max-age or s-maxage; no-store and no-cache mean zero.
func parseMaxAge(cacheControl string) *time.Duration {
	if strings.TrimSpace(cacheControl) == "" {
		return nil
	}
	var found *time.Duration
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "no-store", "no-cache":
			zero := time.Duration(0)
			return &zero
		case "max-age", "s-maxage":
			seconds, err := strconv.Atoi(strings.Trim(strings.TrimSpace(value), `"`))
			if err != nil || seconds < 0 {
				continue
			}
			age := time.Duration(seconds) * time.Second
			if found == nil || age < *found {
				found = &age
			}
		}
	}
	return found
}

type jsonResponse struct {
	payload    any
	header     http.Header
	statusCode int
}

func (c *Client) headers() map[string]string {
	headers := map[string]string{
		"Accept":        "application/json",
		headerClientID:  c.clientID,
		headerRequestID: uuid.NewString(),
	}
	if c.token != "" {
		headers["Authorization"] = "Bearer " + c.token
	}
	if c.restaurantGUID != "" {
		headers[headerRestaurantGUID] = c.restaurantGUID
	}
	return headers
}

func (c *Client) doJSONRequest(ctx context.Context, method, rawURL string, params url.Values) (jsonResponse, error) {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return jsonResponse{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
	if err := c.waitForRequestSlot(ctx); err != nil {
		return jsonResponse{}, err
	}

	startedAt := time.Now()
	c.traceRequestStart(method, rawURL)

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.traceRequestDone(method, rawURL, 0, 0, startedAt, ctx.Err())
			return jsonResponse{}, ctx.Err()
		}
		upstreamErr := &UpstreamRequestError{Method: method, URL: rawURL, Cause: err}
		c.traceRequestDone(method, rawURL, 0, 0, startedAt, upstreamErr)
		return jsonResponse{}, upstreamErr
	}
	defer func() {
		_ = res.Body.Close()
	}()

	rawResponse, err := readResponseBody(res, method, rawURL)
	if err != nil {
		c.traceRequestDone(method, rawURL, res.StatusCode, len(rawResponse), startedAt, err)
		return jsonResponse{}, err
	}
	payload, err := decodeResponsePayload(method, rawURL, res.StatusCode, rawResponse)
	if err != nil {
		c.traceRequestDone(method, rawURL, res.StatusCode, len(rawResponse), startedAt, err)
		return jsonResponse{}, err
	}
	c.traceRequestDone(method, rawURL, res.StatusCode, len(rawResponse), startedAt, nil)
	return jsonResponse{payload: payload, header: res.Header, statusCode: res.StatusCode}, nil
}

func (c *Client) traceRequestStart(method, rawURL string) {
	c.tracef("[http] -> %s %s", method, rawURL)
}

func (c *Client) traceRequestDone(method, rawURL string, statusCode int, responseBytes int, startedAt time.Time, reqErr error) {
	duration := time.Since(startedAt).Round(time.Millisecond)
	if reqErr != nil {
		c.tracef("[http] <- %s %s error=%v duration=%s", method, rawURL, reqErr, duration)
		return
	}
	c.tracef(
		"[http] <- %s %s status=%d duration=%s bytes=%d",
		method,
		rawURL,
		statusCode,
		duration,
		responseBytes,
	)
}

func (c *Client) waitForRequestSlot(ctx context.Context) error {
	interval := c.minRequestGap
	if interval <= 0 {
		return nil
	}
	for {
		c.requestWindowM.Lock()
		wait := time.Until(c.nextRequestAt)
		if wait <= 0 {
			c.nextRequestAt = time.Now().Add(interval)
			c.requestWindowM.Unlock()
			return nil
		}
		c.requestWindowM.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) tracef(format string, args ...any) {
	c.verboseOutputM.RLock()
	out := c.verboseOutput
	c.verboseOutputM.RUnlock()
	if out == nil {
		return
	}
	_, _ = fmt.Fprintf(out, format+"\n", args...)
}

func decodeResponsePayload(method string, rawURL string, statusCode int, rawResponse []byte) (any, error) {
	if len(strings.TrimSpace(string(rawResponse))) == 0 {
		return map[string]any{}, nil
	}
	var payload any
	if err := json.Unmarshal(rawResponse, &payload); err != nil {
		return nil, &UpstreamRequestError{
			Method:     method,
			URL:        rawURL,
			StatusCode: statusCode,
			Body:       string(rawResponse),
			Cause:      fmt.Errorf("decode response body: %w", err),
		}
	}
	return payload, nil
}

func readResponseBody(res *http.Response, method string, rawURL string) ([]byte, error) {
	rawResponse, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &UpstreamRequestError{
			Method:     method,
			URL:        rawURL,
			StatusCode: res.StatusCode,
			Cause:      fmt.Errorf("read response body: %w", err),
		}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &UpstreamRequestError{
			Method:     method,
			URL:        rawURL,
			StatusCode: res.StatusCode,
			Body:       string(rawResponse),
		}
	}
	return rawResponse, nil
}
