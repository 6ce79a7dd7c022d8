package servicenow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/observability"
	"go.uber.org/zap"
)

// Record is a raw upstream row as returned by the table API
type Record map[string]interface{}

// Source is the upstream query capability the engine depends on.
// Filter expressions are opaque encoded-query strings; the engine only
// supplies parameters (delta window, limit).
type Source interface {
	FetchByID(ctx context.Context, table, sysID string) (Record, error)
	FetchByFilter(ctx context.Context, table, filter string, limit int) ([]Record, error)
}

// Client talks to the ServiceNow table API
type Client struct {
	instanceURL string
	username    string
	password    string
	httpClient  *http.Client
	logger      *logging.SafeLogger
}

// NewClient creates a new table API client
func NewClient(instanceURL, username, password string, timeout time.Duration, logger *logging.SafeLogger) *Client {
	logger.Info("upstream table API client configured",
		zap.String("instance", instanceURL),
		zap.String("username", observability.MaskCredential(username)))
	return &Client{
		instanceURL: instanceURL,
		username:    username,
		password:    password,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// FetchByID fetches a single record by sys_id
func (c *Client) FetchByID(ctx context.Context, table, sysID string) (Record, error) {
	endpoint := fmt.Sprintf("%s/api/now/table/%s/%s", c.instanceURL, url.PathEscape(table), url.PathEscape(sysID))

	body, status, err := c.do(ctx, endpoint)
	if err != nil {
		observability.UpstreamFetches.WithLabelValues(table, "error").Inc()
		return nil, err
	}
	if status == http.StatusNotFound {
		observability.UpstreamFetches.WithLabelValues(table, "not_found").Inc()
		return nil, models.ErrTicketNotFound
	}
	if status != http.StatusOK {
		observability.UpstreamFetches.WithLabelValues(table, "error").Inc()
		return nil, fmt.Errorf("%w: table API returned status %d", models.ErrUpstreamUnavailable, status)
	}

	var envelope struct {
		Result Record `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		observability.UpstreamFetches.WithLabelValues(table, "error").Inc()
		return nil, fmt.Errorf("failed to decode table API response: %w", err)
	}

	observability.UpstreamFetches.WithLabelValues(table, "ok").Inc()
	return envelope.Result, nil
}

// FetchByFilter fetches up to limit records matching an encoded query
func (c *Client) FetchByFilter(ctx context.Context, table, filter string, limit int) ([]Record, error) {
	query := url.Values{}
	if filter != "" {
		query.Set("sysparm_query", filter)
	}
	if limit > 0 {
		query.Set("sysparm_limit", strconv.Itoa(limit))
	}
	endpoint := fmt.Sprintf("%s/api/now/table/%s?%s", c.instanceURL, url.PathEscape(table), query.Encode())

	body, status, err := c.do(ctx, endpoint)
	if err != nil {
		observability.UpstreamFetches.WithLabelValues(table, "error").Inc()
		return nil, err
	}
	if status != http.StatusOK {
		observability.UpstreamFetches.WithLabelValues(table, "error").Inc()
		return nil, fmt.Errorf("%w: table API returned status %d", models.ErrUpstreamUnavailable, status)
	}

	var envelope struct {
		Result []Record `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		observability.UpstreamFetches.WithLabelValues(table, "error").Inc()
		return nil, fmt.Errorf("failed to decode table API response: %w", err)
	}

	observability.UpstreamFetches.WithLabelValues(table, "ok").Inc()
	c.logger.Debug("fetched records from upstream",
		zap.String("table", table),
		zap.Int("count", len(envelope.Result)))

	return envelope.Result, nil
}

// do performs an authenticated GET and returns the body and status code.
// Transport-level failures are classified as upstream-unavailable so
// callers can fall back to the cache.
func (c *Client) do(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: reading response: %v", models.ErrUpstreamUnavailable, err)
	}

	return body, resp.StatusCode, nil
}
