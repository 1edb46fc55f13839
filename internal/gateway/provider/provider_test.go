package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestOpenAIChatClientCall(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "gpt-x", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"busy"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "hello"}}},
		})
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL + "/v1/chat/completions", APIKey: "sk-test", Model: "gpt-x", MaxRetries: 1}
	out, err := c.Call(context.Background(), ChatPayload{System: "sys", User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestOpenAIChatClientNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL, Model: "m"}
	_, err := c.Call(context.Background(), ChatPayload{User: "hi"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "bad key", se.Message)
}

func TestAnthropicClientCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "sys", gjson.GetBytes(body, "system").String())
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"signal\":null}"}]}`))
	}))
	defer srv.Close()

	c := &AnthropicClient{BaseURL: srv.URL + "/v1", APIKey: "key", Model: "claude"}
	out, err := c.Call(context.Background(), ChatPayload{System: "sys", User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, `{"signal":null}`, out)
}

func TestNew(t *testing.T) {
	p, err := New("claude", "", "k", "m", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "anthropic:m", p.ID())

	p, err = New("deepseek", "", "k", "m", 0, 0)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIChatClient{}, p)

	_, err = New("nope", "", "", "", 0, 0)
	assert.Error(t, err)
}
