// Package paypal is a small client for the PayPal OAuth and Orders v2 APIs.
// It never retries: a blind retry of order creation opens a second checkout session.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const (
	LiveBaseURL    = "https://api-m.paypal.com"
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
)

// ErrNotConfigured is returned when client id or secret is missing
var ErrNotConfigured = errors.New("paypal credentials are not configured")

type Config struct {
	ClientID     string
	ClientSecret string
	Mode         string
	BaseURL      string
	Timeout      time.Duration
}

type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	logger       *zap.Logger
}

// BaseURLForMode maps "live" to the production API and everything else to sandbox
func BaseURLForMode(mode string) string {
	if strings.EqualFold(strings.TrimSpace(mode), "live") {
		return LiveBaseURL
	}
	return SandboxBaseURL
}

func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = BaseURLForMode(cfg.Mode)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(base, "/"),
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		logger:       util.GetLogger(),
	}
}

// Configured reports whether credentials are present
func (c *Client) Configured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// BaseURL returns the API root in use
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AccessToken exchanges the client credentials for a bearer token
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("paypal token response had no access_token")
	}
	return out.AccessToken, nil
}

// CreateOrder opens a checkout session and returns PayPal's order resource
func (c *Client) CreateOrder(ctx context.Context, token string, body *CreateOrderRequest) (*Order, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/v2/checkout/orders", token, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")

	var order Order
	if err := c.do(req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CaptureOrder captures an approved order
func (c *Client) CaptureOrder(ctx context.Context, token, orderID string) (*Order, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost,
		"/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", token, []byte("{}"))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")

	var order Order
	if err := c.do(req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches an order's current state
func (c *Client) GetOrder(ctx context.Context, token, orderID string) (*Order, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), token, nil)
	if err != nil {
		return nil, err
	}

	var order Order
	if err := c.do(req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path, token string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends the request and decodes a 2xx body into out. Other statuses become *APIError.
func (c *Client) do(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paypal request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read paypal response: %w", err)
	}

	c.logger.Debug("PayPal call",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(body) > 0 {
			_ = json.Unmarshal(body, apiErr)
		}
		c.logger.Warn("PayPal returned an error",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("name", apiErr.Name),
			zap.String("debug_id", apiErr.DebugID))
		return apiErr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode paypal response: %w", err)
	}
	return nil
}
