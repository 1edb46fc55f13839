package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"ictbt/internal/logger"
)

// OpenAIChatClient 兼容 OpenAI 风格 /chat/completions 接口（DeepSeek、Qwen、Mistral 等）。
type OpenAIChatClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTP       *http.Client
}

func (c *OpenAIChatClient) ID() string { return "openai:" + c.Model }

func (c *OpenAIChatClient) endpoint() string {
	url := strings.TrimRight(c.BaseURL, "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	return strings.TrimSuffix(url, "/chat/completions") + "/chat/completions"
}

func (c *OpenAIChatClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	messages := make([]map[string]string, 0, 2)
	if payload.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": payload.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": payload.User})
	maxTokens := payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body, err := json.Marshal(map[string]any{
		"model":       c.Model,
		"messages":    messages,
		"temperature": 0.2,
		"max_tokens":  maxTokens,
	})
	if err != nil {
		return "", err
	}
	logger.LogLLMRequest(c.ID(), payload.Purpose, payload.System, payload.User, string(body))
	raw, err := doWithRetry(ctx, c.client(), c.MaxRetries, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}
		logger.Debugf("[ai] POST %s model=%s key=%s", c.endpoint(), c.Model, maskKey(c.APIKey))
		return req, nil
	})
	if err != nil {
		return "", err
	}
	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("empty choices")
	}
	logger.LogLLMResponse(c.ID(), payload.Purpose, content.String())
	return content.String(), nil
}

func (c *OpenAIChatClient) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// doWithRetry 对 429/5xx 做有限重试，返回 2xx 响应体。
func doWithRetry(ctx context.Context, httpc *http.Client, maxRetries int, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	b := newBackoff()
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := httpc.Do(req)
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode/100 == 2 {
			return raw, nil
		}
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = resp.Status
		}
		lastErr = &StatusError{Code: resp.StatusCode, Message: msg}
		if !retryable(resp.StatusCode) || attempt == maxRetries {
			break
		}
		wait := retryWait(resp, b)
		logger.Warnf("[ai] %v，%s 后重试 (%d/%d)", lastErr, wait, attempt+1, maxRetries)
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
