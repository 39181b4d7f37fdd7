// Package client provides the single-attempt transport for the upstream
// query endpoint, its error classification and the backoff policy applied
// by the page fetcher.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/qbo-backfill/pkg/ratelimit"
)

// Prometheus metrics for query operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbo_requests_total",
		Help: "Total query requests by HTTP status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qbo_request_duration_seconds",
		Help:    "Query request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbo_errors_total",
		Help: "Total failed query attempts by class",
	}, []string{"class"})
)

// Client issues query requests for one realm.
type Client struct {
	httpClient *http.Client
	pacer      *ratelimit.Pacer
	config     Config
	endpoint   string
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API host, e.g. https://quickbooks.api.intuit.com.
	BaseURL string

	// RealmID identifies the company whose data is queried.
	RealmID string

	// MinorVersion is sent as the minorversion parameter.
	MinorVersion int

	// Timeout bounds one attempt. Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client

	// Pacer spaces requests; nil sends them back to back.
	Pacer *ratelimit.Pacer
}

// DefaultConfig returns a production configuration for realmID.
func DefaultConfig(realmID string) Config {
	return Config{
		BaseURL:      "https://quickbooks.api.intuit.com",
		RealmID:      realmID,
		MinorVersion: 65,
		Timeout:      30 * time.Second,
	}
}

// Response is a fully read query response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// New creates a query client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.RealmID == "" {
		return nil, fmt.Errorf("realm id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		pacer:      cfg.Pacer,
		config:     cfg,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/v3/company/" + url.PathEscape(cfg.RealmID) + "/query",
		logger:     log.With().Str("component", "qbo-client").Logger(),
	}, nil
}

// Endpoint returns the query URL without parameters.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Query performs exactly one GET for query using accessToken.
//
// A 200 returns the response and a nil error. Any other status returns the
// response together with a *QueryError carrying its class. A transport
// failure returns a nil response and a *QueryError of ErrorClassNetwork.
// A done ctx is returned as is.
func (c *Client) Query(ctx context.Context, accessToken, query string) (*Response, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("minorversion", strconv.Itoa(c.config.MinorVersion))
	params.Set("query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("query", query).Msg("Executing query request")

	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.networkError(fmt.Errorf("read body: %w", err))
	}

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}

	if class := Classify(resp.StatusCode); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Query request failed")
		return out, &QueryError{StatusCode: resp.StatusCode, Class: class, Body: truncate(string(body), 512)}
	}

	return out, nil
}

func (c *Client) networkError(err error) *QueryError {
	requestsTotal.WithLabelValues("network_error").Inc()
	errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
	c.logger.Debug().Err(err).Msg("Query transport failure")
	return &QueryError{Class: ErrorClassNetwork, Err: err}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
