package webex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://webexapis.com/v1"

// APIError is a non-2xx response from the Webex API. The server-supplied
// message and tracking ID are included when the error body was parseable.
type APIError struct {
	StatusCode int
	Message    string
	TrackingID string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("webex api: %d %s (tracking %s)", e.StatusCode, e.Message, e.TrackingID)
	}
	return fmt.Sprintf("webex api: status %d", e.StatusCode)
}

// Client is a lightweight Webex REST client using net/http.
// It performs no retries — retry policy belongs to the caller.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Webex API client authenticated with a bot token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetMe returns the bot's own person record.
func (c *Client) GetMe(ctx context.Context) (*Person, error) {
	var p Person
	if err := c.do(ctx, http.MethodGet, "/people/me", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetMessage fetches the full detail of one message by ID.
func (c *Client) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), nil, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns up to max messages for a room, newest first.
func (c *Client) ListMessages(ctx context.Context, roomID string, max int) ([]Message, error) {
	q := url.Values{}
	q.Set("roomId", roomID)
	if max > 0 {
		q.Set("max", strconv.Itoa(max))
	}
	var out struct {
		Items []Message `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListRooms returns up to max rooms the bot belongs to.
// sortBy is typically "lastactivity".
func (c *Client) ListRooms(ctx context.Context, max int, sortBy string) ([]Room, error) {
	q := url.Values{}
	if max > 0 {
		q.Set("max", strconv.Itoa(max))
	}
	if sortBy != "" {
		q.Set("sortBy", sortBy)
	}
	var out struct {
		Items []Room `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/rooms", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateMessage posts a new message.
func (c *Client) CreateMessage(ctx context.Context, req CreateMessageRequest) (*Message, error) {
	var m Message
	if err := c.do(ctx, http.MethodPost, "/messages", nil, req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListWebhooks returns all webhook subscriptions owned by the token.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var out struct {
		Items []Webhook `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/webhooks", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateWebhook registers a new webhook subscription.
func (c *Client) CreateWebhook(ctx context.Context, req CreateWebhookRequest) (*Webhook, error) {
	var w Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks", nil, req, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// DeleteWebhook removes a webhook subscription by ID. A 204 is success.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(id), nil, nil, nil)
}

// do performs one authenticated API call and decodes the response into out
// (out may be nil for empty-body responses such as 204).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webex api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("webex api decode %s %s: %w", method, path, err)
	}
	return nil
}

func parseAPIError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		TrackingID: resp.Header.Get("Trackingid"),
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(data) > 0 {
		var errBody struct {
			Message    string `json:"message"`
			TrackingID string `json:"trackingId"`
		}
		if json.Unmarshal(data, &errBody) == nil {
			if errBody.Message != "" {
				apiErr.Message = errBody.Message
			}
			if errBody.TrackingID != "" {
				apiErr.TrackingID = errBody.TrackingID
			}
		}
	}
	return apiErr
}
