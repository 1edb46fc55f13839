package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"
)

// ChatPayload 为一次单轮对话请求。
type ChatPayload struct {
	System    string
	User      string
	MaxTokens int
	// Purpose 仅用于 LLM 日志分类（analysis/extract/signal）。
	Purpose string
}

// ModelProvider 抽象一个可调用的大模型后端。
type ModelProvider interface {
	ID() string
	Call(ctx context.Context, payload ChatPayload) (string, error)
}

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 2
	defaultMaxTokens  = 2000
)

// StatusError 为非 2xx 响应。
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d: %s", e.Code, e.Message)
}

func retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryWait 优先使用 Retry-After，否则走指数退避。
func retryWait(resp *http.Response, b *backoff.Backoff) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return b.Duration()
}

func newBackoff() *backoff.Backoff {
	return &backoff.Backoff{Min: 800 * time.Millisecond, Max: 8 * time.Second, Factor: 2}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// maskKey 只保留密钥末 4 位用于日志。
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// New 根据 provider 名称构造客户端：openai（含兼容接口）或 anthropic。
func New(kind, baseURL, apiKey, model string, timeout time.Duration, maxRetries int) (ModelProvider, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "openai", "deepseek", "qwen", "mistral":
		return &OpenAIChatClient{BaseURL: baseURL, APIKey: apiKey, Model: model, Timeout: timeout, MaxRetries: maxRetries}, nil
	case "anthropic", "claude":
		return &AnthropicClient{BaseURL: baseURL, APIKey: apiKey, Model: model, Timeout: timeout, MaxRetries: maxRetries}, nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", kind)
	}
}
