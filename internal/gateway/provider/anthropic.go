package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"ictbt/internal/logger"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient 调用 Anthropic /v1/messages 接口。
type AnthropicClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTP       *http.Client
}

func (c *AnthropicClient) ID() string { return "anthropic:" + c.Model }

func (c *AnthropicClient) endpoint() string {
	url := strings.TrimRight(c.BaseURL, "/")
	if url == "" {
		url = "https://api.anthropic.com/v1"
	}
	return strings.TrimSuffix(url, "/messages") + "/messages"
}

func (c *AnthropicClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	maxTokens := payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := map[string]any{
		"model":      c.Model,
		"max_tokens": maxTokens,
		"messages":   []map[string]string{{"role": "user", "content": payload.User}},
	}
	if payload.System != "" {
		req["system"] = payload.System
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	logger.LogLLMRequest(c.ID(), payload.Purpose, payload.System, payload.User, string(body))
	httpc := c.HTTP
	if httpc == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpc = &http.Client{Timeout: timeout}
	}
	raw, err := doWithRetry(ctx, httpc, c.MaxRetries, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("x-api-key", c.APIKey)
		r.Header.Set("anthropic-version", anthropicVersion)
		return r, nil
	})
	if err != nil {
		return "", err
	}
	text := gjson.GetBytes(raw, "content.0.text")
	if !text.Exists() {
		return "", fmt.Errorf("empty content")
	}
	logger.LogLLMResponse(c.ID(), payload.Purpose, text.String())
	return text.String(), nil
}
