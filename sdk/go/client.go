package gotodosdk

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
)

// Client is a minimal gotodo HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credential is set; servers
	// accept it only in development.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Provider represents the API provider model.
type Provider struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	ServiceTypes []string  `json:"service_types"`
	Location     *Location `json:"location,omitempty"`
	Rating       float64   `json:"rating"`
	HunterMode   bool      `json:"hunter_mode"`
	CreatedAt    string    `json:"created_at"`
}

type Bid struct {
	ID           string  `json:"id"`
	RequestID    string  `json:"request_id"`
	ProviderID   string  `json:"provider_id"`
	ProviderName string  `json:"provider_name"`
	Amount       float64 `json:"bid_amount"`
	Message      string  `json:"message,omitempty"`
	Status       string  `json:"status"`
	Timestamp    string  `json:"timestamp"`
}

// Request represents a service request (partial).
type Request struct {
	ID             string    `json:"id"`
	RequesterID    string    `json:"requester_id"`
	ProviderID     *string   `json:"provider_id,omitempty"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	Status         string    `json:"status"`
	SuggestedPrice float64   `json:"suggested_price"`
	AgreedPrice    *float64  `json:"agreed_price,omitempty"`
	PlatformFee    *float64  `json:"platform_fee,omitempty"`
	Location       *Location `json:"location,omitempty"`
	Bids           []Bid     `json:"bids"`
	CreatedAt      string    `json:"created_at"`
	UpdatedAt      string    `json:"updated_at"`
}

type NearbyRequest struct {
	Request    Request `json:"request"`
	DistanceKm float64 `json:"distance_km"`
}

// NearbyQuery filters a hunter mode search. Coordinates default to the
// provider profile location.
type NearbyQuery struct {
	ProviderID   string   `json:"provider_id,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	RadiusKm     float64  `json:"radius_km,omitempty"`
	ServiceTypes []string `json:"service_types,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// RegisterProviderInput creates a provider profile; UserID defaults to the caller.
type RegisterProviderInput struct {
	UserID       string    `json:"user_id,omitempty"`
	DisplayName  string    `json:"display_name"`
	ServiceTypes []string  `json:"service_types"`
	Location     *Location `json:"location,omitempty"`
	HunterMode   bool      `json:"hunter_mode,omitempty"`
}

// Configuration mirrors the system configuration document.
type Configuration struct {
	Platform struct {
		Name            string `json:"name"`
		MaintenanceMode bool   `json:"maintenance_mode"`
		SupportEmail    string `json:"support_email,omitempty"`
	} `json:"platform"`
	Services struct {
		Catalog map[string]struct {
			Description string `json:"description"`
		} `json:"catalog"`
	} `json:"services"`
	Bidding struct {
		MaxBidsPerRequest  int     `json:"max_bids_per_request"`
		MinBidAmount       float64 `json:"min_bid_amount"`
		PlatformFeePercent float64 `json:"platform_fee_percent"`
	} `json:"bidding"`
	Chat struct {
		MinDelaySeconds    int      `json:"min_delay_seconds"`
		MaxDelaySeconds    int      `json:"max_delay_seconds"`
		IdleTimeoutSeconds int      `json:"idle_timeout_seconds,omitempty"`
		PreviewLength      int      `json:"preview_length"`
		Replies            []string `json:"replies"`
	} `json:"chat"`
	Notifications struct {
		Limit int `json:"limit"`
	} `json:"notifications"`
	Hunter struct {
		DefaultRadiusKm float64 `json:"default_radius_km"`
		MaxRadiusKm     float64 `json:"max_radius_km"`
	} `json:"hunter"`
	Webhooks []Webhook `json:"webhooks,omitempty"`
}

type Webhook struct {
	URL            string   `json:"url"`
	Events         []string `json:"events,omitempty"`
	Secret         string   `json:"secret,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Enabled        *bool    `json:"enabled,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Error returns the server message when
// the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListProviders returns providers, optionally offering serviceType.
func (c *Client) ListProviders(ctx context.Context, serviceType string) ([]Provider, error) {
	endpoint := "providers"
	if serviceType != "" {
		endpoint += "?service_type=" + url.QueryEscape(serviceType)
	}
	var resp []Provider
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetProvider(ctx context.Context, id string) (Provider, error) {
	var resp Provider
	err := c.do(ctx, http.MethodGet, "providers/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) RegisterProvider(ctx context.Context, in RegisterProviderInput) (Provider, error) {
	var resp Provider
	err := c.do(ctx, http.MethodPost, "providers", in, &resp)
	return resp, err
}

// NearbyRequests runs a hunter mode search, nearest first.
func (c *Client) NearbyRequests(ctx context.Context, q NearbyQuery) ([]NearbyRequest, error) {
	var resp []NearbyRequest
	err := c.do(ctx, http.MethodPost, "providers/nearby-requests", q, &resp)
	return resp, err
}

func (c *Client) GetConfiguration(ctx context.Context) (Configuration, error) {
	var resp Configuration
	err := c.do(ctx, http.MethodGet, "admin/configuration", nil, &resp)
	return resp, err
}

func (c *Client) UpdateConfiguration(ctx context.Context, cfg Configuration) (Configuration, error) {
	var resp Configuration
	err := c.do(ctx, http.MethodPut, "admin/configuration", cfg, &resp)
	return resp, err
}

// Broadcast notifies every user, or only those with role, and returns how
// many were reached.
func (c *Client) Broadcast(ctx context.Context, message, notificationType, role string) (int, error) {
	body := map[string]any{"message": message}
	if notificationType != "" {
		body["type"] = notificationType
	}
	if role != "" {
		body["role"] = role
	}
	var resp struct {
		Recipients int `json:"recipients"`
	}
	err := c.do(ctx, http.MethodPost, "admin/broadcast", body, &resp)
	return resp.Recipients, err
}

// CreateRequest posts a new service request.
func (c *Client) CreateRequest(ctx context.Context, serviceType, title, description string, price float64, loc *Location) (Request, error) {
	body := map[string]any{
		"type":  serviceType,
		"title": title,
	}
	if description != "" {
		body["description"] = description
	}
	if price > 0 {
		body["suggested_price"] = price
	}
	if loc != nil {
		body["location"] = loc
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "requests", body, &resp)
	return resp, err
}

func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, "requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) UpdateStatus(ctx context.Context, id, status, reason string) (Request, error) {
	body := map[string]any{"status": status}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Request
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("requests/%s/status", url.PathEscape(id)), body, &resp)
	return resp, err
}

func (c *Client) SubmitBid(ctx context.Context, requestID string, amount float64, message string) (Bid, error) {
	body := map[string]any{"bid_amount": amount}
	if message != "" {
		body["message"] = message
	}
	var resp Bid
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("requests/%s/bids", url.PathEscape(requestID)), body, &resp)
	return resp, err
}

func (c *Client) AcceptBid(ctx context.Context, requestID, bidID string) (Request, error) {
	var resp Request
	endpoint := fmt.Sprintf("requests/%s/bids/%s/accept", url.PathEscape(requestID), url.PathEscape(bidID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing (admin only).
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Code, env.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
