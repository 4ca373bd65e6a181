// Package billing is the HTTP client for the billing service.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	v1 "flexplan/api/v1"
	"flexplan/core/clients"
	"flexplan/core/types"
	"flexplan/internal/logging"
)

// maxBodySize caps how much of a response is read
const maxBodySize = 4 << 20

// Config configures a Client
type Config struct {
	BaseURL string
	Token   string
	Account string
	Timeout time.Duration
	Retries int
}

// Client talks to the billing API. Reads are retried with exponential
// backoff; writes are sent once.
type Client struct {
	baseURL *url.URL
	token   string
	account string
	retries int
	http    *http.Client
	logger  *zap.Logger

	// backoff is the wait before retry i (0-based)
	backoff func(i int) time.Duration
}

// New creates a client
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("billing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("billing base url %q is not absolute", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: u,
		token:   cfg.Token,
		account: cfg.Account,
		retries: cfg.Retries,
		http:    &http.Client{Timeout: timeout},
		logger:  logging.Named("billing"),
		backoff: func(i int) time.Duration {
			return time.Duration(1<<i) * 200 * time.Millisecond
		},
	}, nil
}

// WithHTTPClient replaces the underlying HTTP client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// HTTPError is a non-2xx response that carried no service error payload
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// response is a fully read reply
type response struct {
	status int
	body   []byte
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*response, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.retries
	}

	requestID := uuid.NewString()
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(i - 1)):
			}
		}

		resp, err := c.once(ctx, method, path, body, requestID)
		if err == nil && resp.status < 500 {
			return resp, nil
		}
		if err == nil {
			err = &HTTPError{Method: method, Path: path, Status: resp.status, Body: truncate(resp.body)}
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i+1 < attempts {
			c.logger.Warn("billing request failed, retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", i+1),
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
	}
	if attempts > 1 {
		return nil, fmt.Errorf("request failed after %d retries: %w", c.retries, lastErr)
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, requestID string) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(v1.HeaderRequestID, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(v1.HeaderAuthorization, "Bearer "+c.token)
	}
	if c.account != "" {
		req.Header.Set(v1.HeaderAccount, c.account)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

// decode turns a reply into a Result. A body carrying an error field is
// the service error variant regardless of status; other non-2xx replies
// are transport errors.
func decode[T any](resp *response, method, path string) (types.Result[T], error) {
	var envelope v1.ErrorResponse
	if json.Unmarshal(resp.body, &envelope) == nil && envelope.Error != "" {
		return types.Fail[T](envelope.Error), nil
	}
	if resp.status < 200 || resp.status >= 300 {
		return types.Result[T]{}, &HTTPError{Method: method, Path: path, Status: resp.status, Body: truncate(resp.body)}
	}
	var v T
	if err := json.Unmarshal(resp.body, &v); err != nil {
		return types.Result[T]{}, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return types.Ok(v), nil
}

func call[T any](ctx context.Context, c *Client, method, path string, payload interface{}) (types.Result[T], error) {
	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		return types.Result[T]{}, err
	}
	return decode[T](resp, method, path)
}

func truncate(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// mapResult converts the success value of a Result
func mapResult[A, B any](r types.Result[A], fn func(A) B) types.Result[B] {
	v, err := r.Unwrap()
	if err != nil {
		return types.Fail[B](err.Error())
	}
	return types.Ok(fn(v))
}

// ListIndexerOffers returns the offers for a deployment. A service error
// payload is reported as a Go error here: callers treat any failure as an
// empty sample.
func (c *Client) ListIndexerOffers(ctx context.Context, projectID, deploymentID string) ([]types.ProviderOffer, error) {
	path := v1.OffersPath(url.PathEscape(projectID), url.PathEscape(deploymentID))
	res, err := call[v1.OffersResponse](ctx, c, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	body, err := res.Unwrap()
	if err != nil {
		return nil, err
	}
	offers := make([]types.ProviderOffer, 0, len(body.Indexers))
	for _, o := range body.Indexers {
		offer, err := o.ToOffer()
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// ListAPIKeys returns the account's keys
func (c *Client) ListAPIKeys(ctx context.Context) (types.Result[[]types.APIKey], error) {
	res, err := call[[]v1.APIKey](ctx, c, http.MethodGet, v1.RouteAPIKeys, nil)
	if err != nil {
		return types.Result[[]types.APIKey]{}, err
	}
	return mapResult(res, func(keys []v1.APIKey) []types.APIKey {
		out := make([]types.APIKey, len(keys))
		for i, k := range keys {
			out[i] = k.ToAPIKey()
		}
		return out
	}), nil
}

// CreateAPIKey issues a key
func (c *Client) CreateAPIKey(ctx context.Context, name string) (types.Result[types.APIKey], error) {
	res, err := call[v1.APIKey](ctx, c, http.MethodPost, v1.RouteAPIKeys, v1.CreateAPIKeyRequest{Name: name})
	if err != nil {
		return types.Result[types.APIKey]{}, err
	}
	return mapResult(res, v1.APIKey.ToAPIKey), nil
}

// ListHostingPlans returns the account's plans
func (c *Client) ListHostingPlans(ctx context.Context) (types.Result[[]types.HostingPlan], error) {
	res, err := call[[]v1.HostingPlan](ctx, c, http.MethodGet, v1.RouteHostingPlans, nil)
	if err != nil {
		return types.Result[[]types.HostingPlan]{}, err
	}
	return mapResult(res, func(plans []v1.HostingPlan) []types.HostingPlan {
		out := make([]types.HostingPlan, len(plans))
		for i, p := range plans {
			out[i] = p.ToHostingPlan()
		}
		return out
	}), nil
}

// CreateHostingPlan opens a plan
func (c *Client) CreateHostingPlan(ctx context.Context, params types.HostingPlanParams) (types.Result[types.HostingPlan], error) {
	res, err := call[v1.HostingPlan](ctx, c, http.MethodPost, v1.RouteHostingPlans, v1.NewHostingPlanRequest(params))
	if err != nil {
		return types.Result[types.HostingPlan]{}, err
	}
	return mapResult(res, v1.HostingPlan.ToHostingPlan), nil
}

// UpdateHostingPlan changes a plan
func (c *Client) UpdateHostingPlan(ctx context.Context, id string, params types.HostingPlanParams) (types.Result[types.HostingPlan], error) {
	params.ID = id
	path := v1.HostingPlanPath(url.PathEscape(id))
	res, err := call[v1.HostingPlan](ctx, c, http.MethodPut, path, v1.NewHostingPlanRequest(params))
	if err != nil {
		return types.Result[types.HostingPlan]{}, err
	}
	return mapResult(res, v1.HostingPlan.ToHostingPlan), nil
}

var _ clients.BillingService = (*Client)(nil)
