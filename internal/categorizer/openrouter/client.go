// Package openrouter implements the categorizer port against an
// OpenAI-compatible chat completions API such as OpenRouter.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/factcheck-aggregator/internal/article"
	"github.com/JakeFAU/factcheck-aggregator/internal/categorizer"
	"github.com/JakeFAU/factcheck-aggregator/internal/policy/ratelimit"
	"github.com/JakeFAU/factcheck-aggregator/internal/topics"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel    = "mistralai/mistral-large-24b-instruct:free"
	DefaultTimeout  = 60 * time.Second
)

const maxErrorBody = 1024

// Config holds the connection settings for the categorization service.
type Config struct {
	Endpoint     string           `mapstructure:"endpoint"`
	Model        string           `mapstructure:"model"`
	APIKey       string           `mapstructure:"api_key"`
	Timeout      time.Duration    `mapstructure:"timeout"`
	SystemPrompt string           `mapstructure:"system_prompt"`
	RateLimit    ratelimit.Config `mapstructure:"rate_limit"`
}

// Client classifies articles with a chat completion call.
type Client struct {
	endpoint     string
	model        string
	apiKey       string
	timeout      time.Duration
	systemPrompt string
	httpClient   *http.Client
	limiter      *ratelimit.Limiter
	logger       *zap.Logger
}

var _ categorizer.Categorizer = (*Client)(nil)

// New builds a client from configuration. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("categorizer api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		timeout:      cfg.Timeout,
		systemPrompt: cfg.SystemPrompt,
		httpClient:   httpClient,
		limiter:      ratelimit.New(cfg.RateLimit),
		logger:       logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type topicOutput struct {
	TopicLabel string `json:"topic_label"`
}

// Classify implements categorizer.Categorizer. Every failure wraps
// categorizer.ErrCategorization.
func (c *Client) Classify(ctx context.Context, content article.Content) (topics.Label, error) {
	if err := c.limiter.Wait(ctx, c.model); err != nil {
		return "", fmt.Errorf("%w: %w", categorizer.ErrCategorization, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userContent, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("%w: marshal content: %w", categorizer.ErrCategorization, err)
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: string(userContent)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", categorizer.ErrCategorization, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: new request: %w", categorizer.ErrCategorization, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: send request: %w", categorizer.ErrCategorization, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("%w: upstream %s: %s", categorizer.ErrCategorization, resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", categorizer.ErrCategorization, err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("%w: upstream error: %s", categorizer.ErrCategorization, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", categorizer.ErrCategorization)
	}

	raw := decoded.Choices[0].Message.Content
	var out topicOutput
	if err := json.Unmarshal([]byte(stripFence(raw)), &out); err != nil {
		return "", fmt.Errorf("%w: malformed topic output %q: %w", categorizer.ErrCategorization, truncate(raw, 120), err)
	}
	label, err := topics.Parse(out.TopicLabel)
	if err != nil {
		return "", fmt.Errorf("%w: %w", categorizer.ErrCategorization, err)
	}
	if string(label) != strings.TrimSpace(out.TopicLabel) {
		c.logger.Debug("Consolidated topic label",
			zap.String("raw", out.TopicLabel), zap.String("label", string(label)))
	}
	return label, nil
}

// stripFence removes a Markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
