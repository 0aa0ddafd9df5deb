package lorekeep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// userIDHeader carries the id of the user the call acts for.
const userIDHeader = "X-User-ID"

// Client is the lorekeep SDK entry point. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	obs        *observer
}

// New creates a lorekeep Client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		// No client-level timeout: streaming queries stay open for the
		// whole generation. Callers bound lifetimes with the context.
		hc = &http.Client{}
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.apiKey,
		httpClient: hc,
		obs:        obs,
	}, nil
}

// Query asks a question and waits for the complete answer.
func (c *Client) Query(ctx context.Context, userID, campaignID string, req QueryRequest) (resp QueryResponse, err error) {
	start := time.Now()
	defer func() { c.obs.observe("query", start, err) }()

	path := fmt.Sprintf("/v1/campaigns/%s/query", campaignID)
	err = c.postJSON(ctx, userID, path, req, &resp)
	return resp, err
}

// Search runs retrieval without answer generation.
func (c *Client) Search(ctx context.Context, userID, campaignID string, req SearchRequest) (resp SearchResponse, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search", start, err) }()

	path := fmt.Sprintf("/v1/campaigns/%s/search", campaignID)
	err = c.postJSON(ctx, userID, path, req, &resp)
	return resp, err
}

// Feedback rates a previously answered query. Rating is 1..5; comment is
// optional. Only the user who asked the query may rate it.
func (c *Client) Feedback(ctx context.Context, userID, queryID string, rating int, comment string) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("feedback", start, err) }()

	body := map[string]any{"rating": rating}
	if comment != "" {
		body["comment"] = comment
	}
	path := fmt.Sprintf("/v1/queries/%s/feedback", queryID)
	return c.postJSON(ctx, userID, path, body, nil)
}

// Health checks the health of all service components. A degraded report is
// returned without error; err is set only when the service is unreachable.
func (c *Client) Health(ctx context.Context) (status HealthStatus, err error) {
	start := time.Now()
	defer func() { c.obs.observe("health", start, err) }()

	httpReq, err := c.newRequest(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return HealthStatus{}, err
	}

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("lorekeep: health: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	// 503 still carries the per-component report.
	if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
		return HealthStatus{}, fmt.Errorf("lorekeep: decode health response: %w", err)
	}
	return status, nil
}

// postJSON sends a JSON POST and decodes the response into out (nil out
// discards the body).
func (c *Client) postJSON(ctx context.Context, userID, path string, body, out any) error {
	httpReq, err := c.newRequest(ctx, http.MethodPost, path, userID, body)
	if err != nil {
		return err
	}

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("lorekeep: request %s: %w", path, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= 400 {
		return decodeError(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("lorekeep: decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path, userID string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("lorekeep: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("lorekeep: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// decodeError turns a non-2xx response into an *APIError.
func decodeError(res *http.Response) error {
	apiErr := &APIError{StatusCode: res.StatusCode}

	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if json.Unmarshal(data, &envelope) == nil && envelope.Code != "" {
		apiErr.Code = envelope.Code
		apiErr.Message = envelope.Message
	} else {
		apiErr.Code = "unknown"
		apiErr.Message = http.StatusText(res.StatusCode)
	}
	return apiErr
}
