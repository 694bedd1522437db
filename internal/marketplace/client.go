// Package marketplace provides a client for the remote deal service, the
// source of truth for deals, buyers and invitations. The client holds no
// local cache; every read goes to the remote service.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is an API client for the remote deal service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string

	// onAuthExpired runs once per 401 response, before ErrAuthRequired is
	// returned. The web layer wires it to session invalidation.
	onAuthExpired func()
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new deal service client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a new client with the specified bearer token.
func (c *Client) WithToken(token string) *Client {
	return &Client{
		baseURL:       c.baseURL,
		httpClient:    c.httpClient,
		token:         token,
		onAuthExpired: c.onAuthExpired,
	}
}

// WithAuthExpiredHandler returns a new client that runs fn when the remote
// service rejects the token with 401.
func (c *Client) WithAuthExpiredHandler(fn func()) *Client {
	return &Client{
		baseURL:       c.baseURL,
		httpClient:    c.httpClient,
		token:         c.token,
		onAuthExpired: fn,
	}
}

// FetchByStatus lists the deals in one bucket for the requesting buyer.
func (c *Client) FetchByStatus(ctx context.Context, status Status) ([]Deal, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("marketplace: unknown status %q", status)
	}

	var raw []rawDeal
	if err := c.get(ctx, "/buyers/deals/"+string(status), &raw); err != nil {
		return nil, err
	}

	deals := make([]Deal, 0, len(raw))
	for _, r := range raw {
		deals = append(deals, r.normalize())
	}
	return deals, nil
}

// RequestTransition asks the remote service to move a deal into the action's
// target bucket for the requesting buyer. The write is idempotent on the
// remote side. No local state is updated; callers re-fetch afterward.
func (c *Client) RequestTransition(ctx context.Context, dealID string, action TransitionAction, notes string) error {
	if dealID == "" {
		return fmt.Errorf("marketplace: deal id is required")
	}
	if !action.Valid() {
		return fmt.Errorf("marketplace: unknown transition action %q", action)
	}

	body := struct {
		Notes string `json:"notes"`
	}{Notes: notes}

	path := fmt.Sprintf("/buyers/deals/%s/%s", url.PathEscape(dealID), action)
	return c.post(ctx, path, body, nil)
}

// FetchStatusSummaryRaw returns the deal shell and the invitation map for one
// deal. Buyer identities are not included; use FetchBuyerDetail per buyer.
func (c *Client) FetchStatusSummaryRaw(ctx context.Context, dealID string) (*StatusSummaryRaw, error) {
	if dealID == "" {
		return nil, fmt.Errorf("marketplace: deal id is required")
	}

	var raw rawStatusSummary
	if err := c.get(ctx, "/deals/"+url.PathEscape(dealID)+"/status-summary", &raw); err != nil {
		return nil, err
	}

	summary := &StatusSummaryRaw{
		Deal:        raw.Deal.normalize(),
		Invitations: raw.InvitationStatus,
	}
	if summary.Invitations == nil {
		summary.Invitations = map[string]InvitationRecord{}
	}
	return summary, nil
}

// FetchBuyerDetail returns one buyer's identity record. A failure for a
// single buyer is isolated: the result is (nil, nil) so aggregation can
// degrade to a placeholder instead of aborting. A 401 still surfaces as
// ErrAuthRequired since it invalidates the whole session.
func (c *Client) FetchBuyerDetail(ctx context.Context, buyerID string) (*Buyer, error) {
	if buyerID == "" {
		return nil, nil
	}

	var buyer Buyer
	err := c.get(ctx, "/buyers/"+url.PathEscape(buyerID), &buyer)
	switch {
	case err == nil:
		return &buyer, nil
	case errors.Is(err, ErrNoToken) || errors.Is(err, ErrAuthRequired):
		return nil, err
	default:
		return nil, nil
	}
}

// FetchProfile returns the authenticated principal's own buyer profile. The
// session guard uses it to verify the token against the remote service.
func (c *Client) FetchProfile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.get(ctx, "/buyers/profile", &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// get performs a GET request and unmarshals the response.
func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// post performs a POST request with a JSON body.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	if c.token == "" {
		return ErrNoToken
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if c.onAuthExpired != nil {
			c.onAuthExpired()
		}
		return ErrAuthRequired
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &RemoteError{
			StatusCode: resp.StatusCode,
			Message:    remoteMessage(resp.StatusCode, respBody),
		}
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
