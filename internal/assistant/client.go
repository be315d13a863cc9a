package assistant

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

var (
	ErrNotConfigured = errors.New("assistant endpoint or api key not configured")
	ErrEmptyReply    = errors.New("assistant returned no content")
)

const (
	maxTokens   = 800
	temperature = 0.7
	topP        = 0.95
)

// Roles accepted in a conversation
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Config struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
	Timeout    time.Duration
}

// UpstreamError is a non-2xx answer from the completions endpoint
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("assistant upstream returned %d", e.StatusCode)
}

// Client calls an Azure OpenAI chat completions deployment
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Endpoint != "" && !strings.HasSuffix(cfg.Endpoint, "/") {
		cfg.Endpoint += "/"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     util.GetLogger(),
	}
}

func (c *Client) Configured() bool {
	return c.cfg.Endpoint != "" && c.cfg.APIKey != ""
}

func (c *Client) completionsURL() string {
	return fmt.Sprintf("%sopenai/deployments/%s/chat/completions?api-version=%s",
		c.cfg.Endpoint, url.PathEscape(c.cfg.Deployment), url.QueryEscape(c.cfg.APIVersion))
}

type completionRequest struct {
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends the conversation and returns the first choice's trimmed content
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, span := util.StartSpan(ctx, "assistant.Complete")
	defer span.End()

	if !c.Configured() {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(completionRequest{
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call assistant: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read assistant response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Assistant upstream error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(raw)))
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode assistant response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyReply
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyReply
	}
	return content, nil
}
