// Package tradovate implements the broker capability contract against a
// Tradovate-style futures brokerage REST API. All responses pass through
// penalty-marker detection and a single normalization step before any
// other component sees them.
package tradovate

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ftbridge/internal/config"
	"ftbridge/internal/gateway/broker"
	"ftbridge/internal/logger"
)

// Client wraps the Tradovate REST API interactions required by the
// sync core. It implements broker.Client.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	cfg        config.BrokerConfig

	tokenMu    sync.Mutex
	token      string
	tokenUntil time.Time
}

// tokenRenewMargin renews the access token slightly before the venue
// expires it, so in-flight requests never race the expiry.
const tokenRenewMargin = 2 * time.Minute

// NewClient constructs a Tradovate client from configuration.
func NewClient(cfg config.BrokerConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("broker.api_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing broker.api_url failed: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		cfg:        cfg,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// ListAccounts returns all accounts visible to the credentials.
func (c *Client) ListAccounts(ctx context.Context) ([]broker.Account, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/account/list", nil)
	if err != nil {
		return nil, err
	}
	var dtos []accountDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("parsing account list failed: %w", err)
	}
	accounts := make([]broker.Account, 0, len(dtos))
	for _, dto := range dtos {
		accounts = append(accounts, mapAccount(dto))
	}
	return accounts, nil
}

// GetBalance fetches the cash balance snapshot for one account.
func (c *Client) GetBalance(ctx context.Context, accountID int64) (broker.Balance, error) {
	path := fmt.Sprintf("/cashBalance/snapshot?accountId=%d", accountID)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return broker.Balance{}, err
	}
	var dto cashBalanceDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return broker.Balance{}, fmt.Errorf("parsing balance snapshot failed: %w", err)
	}
	return mapBalance(dto), nil
}

// ListPositions fetches the open positions for one account.
func (c *Client) ListPositions(ctx context.Context, accountID int64) ([]broker.Position, error) {
	path := fmt.Sprintf("/position/deps?masterid=%d", accountID)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var dtos []positionDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("parsing position list failed: %w", err)
	}
	positions := make([]broker.Position, 0, len(dtos))
	for _, dto := range dtos {
		positions = append(positions, mapPosition(dto))
	}
	return positions, nil
}

// ListOrders fetches the order list for one account. Each raw item is
// validated against the order schema before normalization; a malformed
// item fails the whole fetch rather than being silently dropped.
func (c *Client) ListOrders(ctx context.Context, accountID int64) ([]broker.Order, error) {
	path := fmt.Sprintf("/order/deps?masterid=%d", accountID)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing order list failed: %w", err)
	}
	orders := make([]broker.Order, 0, len(raw))
	for i, item := range raw {
		if err := validateOrderPayload(item); err != nil {
			return nil, fmt.Errorf("order item #%d failed validation: %w", i, err)
		}
		orders = append(orders, mapOrder(item, accountID))
	}
	return orders, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("tradovate client not initialized")
	}
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.rawRequest(ctx, method, path, payload, token)
}

func (c *Client) rawRequest(ctx context.Context, method, path string, payload any, token string) ([]byte, error) {
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("serializing request failed: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling brokerage failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response failed: %w", err)
	}

	// Penalty markers can ride on any status code, including 200.
	if err := detectPenalty(data); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &broker.RateLimitError{Status: resp.StatusCode}
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			return nil, fmt.Errorf("brokerage returned %s", resp.Status)
		}
		return nil, fmt.Errorf("brokerage returned %s: %s", resp.Status, msg)
	}
	return data, nil
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenUntil.Add(-tokenRenewMargin)) {
		return c.token, nil
	}
	req := accessTokenRequest{
		Name:       c.cfg.Username,
		Password:   c.cfg.Password,
		AppID:      c.cfg.AppID,
		AppVersion: c.cfg.AppVersion,
		CID:        c.cfg.ClientID,
		Sec:        c.cfg.ClientSecret,
		DeviceID:   c.cfg.DeviceID,
	}
	body, err := c.rawRequest(ctx, http.MethodPost, "/auth/accesstokenrequest", req, "")
	if err != nil {
		return "", fmt.Errorf("access token request failed: %w", err)
	}
	var resp accessTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing access token response failed: %w", err)
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		return "", fmt.Errorf("brokerage returned empty access token")
	}
	c.token = resp.AccessToken
	c.tokenUntil = time.Now().Add(75 * time.Minute)
	if resp.ExpirationTime != "" {
		if t, err := time.Parse(time.RFC3339, resp.ExpirationTime); err == nil {
			c.tokenUntil = t
		}
	}
	logger.Debugf("tradovate access token renewed, valid until %s", c.tokenUntil.Format(time.RFC3339))
	return c.token, nil
}

func (c *Client) resolveEndpoint(path string) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("broker API URL not set")
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = "/"
	}
	query := ""
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		query = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.RawQuery = query
	base.Fragment = ""
	return &base, nil
}
