package printful

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultBaseURL is the public provider API endpoint.
	DefaultBaseURL = "https://api.printful.com"

	defaultTimeout      = 30 * time.Second
	defaultReadAttempts = 3
	defaultRetryInitial = 200 * time.Millisecond
	defaultRetryMax     = 2 * time.Second
	maxResponseBytes    = 4 << 20
	meterName           = "github.com/podbridge/fulfillment/internal/printful"

	storeHeader = "X-PF-Store-Id"
)

// Config holds everything the client needs; the API key is never read from the environment.
type Config struct {
	BaseURL      string
	APIKey       string
	StoreID      string
	Timeout      time.Duration
	ReadAttempts int
	RetryInitial time.Duration
	RetryMax     time.Duration
	HTTPClient   *http.Client
	Meter        metric.Meter
}

// Client is an authenticated JSON transport to the provider REST API.
type Client struct {
	baseURL      *url.URL
	apiKey       string
	storeID      string
	timeout      time.Duration
	readAttempts int
	retryInitial time.Duration
	retryMax     time.Duration
	httpClient   *http.Client
	sleep        func(context.Context, time.Duration) error

	latency        metric.Float64Histogram
	latencyEnabled bool
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("printful: api key is required")
	}

	rawBase := strings.TrimSpace(cfg.BaseURL)
	if rawBase == "" {
		rawBase = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(rawBase, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("printful: invalid base url %q", rawBase)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	client := &Client{
		baseURL:      base,
		apiKey:       apiKey,
		storeID:      strings.TrimSpace(cfg.StoreID),
		timeout:      cfg.Timeout,
		readAttempts: cfg.ReadAttempts,
		retryInitial: cfg.RetryInitial,
		retryMax:     cfg.RetryMax,
		httpClient:   httpClient,
		sleep:        gax.Sleep,
	}
	if client.timeout <= 0 {
		client.timeout = defaultTimeout
	}
	if client.readAttempts <= 0 {
		client.readAttempts = defaultReadAttempts
	}
	if client.retryInitial <= 0 {
		client.retryInitial = defaultRetryInitial
	}
	if client.retryMax < client.retryInitial {
		client.retryMax = defaultRetryMax
	}

	meter := cfg.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, latencyErr := meter.Float64Histogram(
		"fulfillment.provider.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of provider API calls"),
	)
	if latencyErr == nil {
		client.latency = latency
		client.latencyEnabled = true
	}

	return client, nil
}

// Get performs an authenticated GET, retrying transient failures with exponential backoff.
func (c *Client) Get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

// Post performs an authenticated POST. It is never retried.
func (c *Client) Post(ctx context.Context, endpoint string, body, out any) error {
	return c.do(ctx, http.MethodPost, endpoint, body, out)
}

// Put performs an authenticated PUT. It is never retried.
func (c *Client) Put(ctx context.Context, endpoint string, body, out any) error {
	return c.do(ctx, http.MethodPut, endpoint, body, out)
}

// Delete performs an authenticated DELETE. It is never retried.
func (c *Client) Delete(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodDelete, endpoint, nil, out)
}

// EstimateCosts asks the provider to price an order without creating it.
func (c *Client) EstimateCosts(ctx context.Context, req OrderRequest) (CostEstimate, error) {
	var estimate CostEstimate
	if err := c.Post(ctx, "/orders/estimate-costs", req, &estimate); err != nil {
		return CostEstimate{}, err
	}
	return estimate, nil
}

// CreateOrder creates the order at the provider. With confirm set the order is
// submitted for fulfillment immediately instead of being kept as a draft.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest, confirm bool) (Order, error) {
	endpoint := "/orders"
	if confirm {
		endpoint += "?confirm=true"
	}
	var order Order
	if err := c.Post(ctx, endpoint, req, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// GetOrder fetches a provider order by the external reference the bridge assigned.
func (c *Client) GetOrder(ctx context.Context, externalID string) (Order, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Order{}, errors.New("printful: external id is required")
	}
	var order Order
	if err := c.Get(ctx, "/orders/@"+url.PathEscape(externalID), &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// StoreInfo fetches store metadata; used as the connection test.
func (c *Client) StoreInfo(ctx context.Context) (Store, error) {
	var store Store
	if err := c.Get(ctx, "/store", &store); err != nil {
		return Store{}, err
	}
	return store, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("printful: encode request: %w", err)
		}
		payload = encoded
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.readAttempts
	}
	backoff := gax.Backoff{
		Initial:    c.retryInitial,
		Max:        c.retryMax,
		Multiplier: 2,
	}

	for attempt := 1; ; attempt++ {
		err := c.roundTrip(ctx, method, endpoint, payload, out)
		if err == nil {
			return nil
		}
		if attempt >= attempts || !err.Retryable() {
			return err
		}
		if sleepErr := c.sleep(ctx, backoff.Pause()); sleepErr != nil {
			return networkError(sleepErr)
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, payload []byte, out any) *Error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target, err := c.resolve(endpoint)
	if err != nil {
		return networkError(err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		return networkError(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.storeID != "" {
		req.Header.Set(storeHeader, c.storeID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordLatency(ctx, endpoint, 0, time.Since(start))
		return networkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.recordLatency(ctx, endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return networkError(err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newStatusError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &Error{Status: resp.StatusCode, Message: "invalid response body", RawBody: string(raw), cause: err}
	}
	if len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &Error{Status: resp.StatusCode, Message: "invalid response body", RawBody: string(raw), cause: err}
	}
	return nil
}

func (c *Client) resolve(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", errors.New("printful: endpoint is required")
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("printful: invalid endpoint %q: %w", endpoint, err)
	}
	if ref.IsAbs() {
		return "", fmt.Errorf("printful: endpoint %q must be relative", endpoint)
	}
	resolved := *c.baseURL
	resolved.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	resolved.RawPath = ""
	if ref.RawPath != "" {
		resolved.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + strings.TrimLeft(ref.RawPath, "/")
	}
	resolved.RawQuery = ref.RawQuery
	return resolved.String(), nil
}

func (c *Client) recordLatency(ctx context.Context, endpoint string, status int, d time.Duration) {
	if !c.latencyEnabled {
		return
	}
	path := endpoint
	if idx := strings.IndexAny(path, "?@"); idx >= 0 {
		path = path[:idx]
	}
	c.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("endpoint", path),
		attribute.String("status", strconv.Itoa(status)),
	))
}
