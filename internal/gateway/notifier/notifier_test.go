package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRender(t *testing.T) {
	msg := Message{
		Icon:  "✅",
		Title: "回测完成 BTCUSDT@1h",
		Sections: []Section{
			{Title: "绩效", Lines: []string{"收益: 12.5%", " ", "code ``` fence"}},
			{Title: "空段", Lines: []string{""}},
		},
		Footer:    "profile=default",
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	out := msg.Render()
	assert.True(t, strings.HasPrefix(out, "✅ 回测完成 BTCUSDT@1h\n\n```\n绩效\n- 收益: 12.5%\n"))
	assert.Contains(t, out, "code ''' fence")
	assert.NotContains(t, out, "空段")
	assert.Contains(t, out, "时间：2025-01-02 03:04:05 UTC")

	long := Message{Title: strings.Repeat("x", maxMessageLen+10)}.Render()
	assert.Len(t, long, maxMessageLen+3)
}

func telegramServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32, *[]map[string]any) {
	t.Helper()
	var calls atomic.Int32
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/botTOKEN/sendMessage"), r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		if n <= failures {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":500,"description":"Internal Server Error"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":1700000000,"chat":{"id":-100123,"type":"channel"},"text":"hi"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &bodies
}

func fastTelegram(t *testing.T, url string) *Telegram {
	t.Helper()
	tg, err := NewTelegram(TelegramConfig{BotToken: "TOKEN", ChatID: "-100123", APIURL: url, Retries: 3})
	require.NoError(t, err)
	tg.newWait = func() *backoff.Backoff { return &backoff.Backoff{Min: time.Millisecond, Max: time.Millisecond} }
	return tg
}

func TestTelegramSendText(t *testing.T) {
	srv, calls, bodies := telegramServer(t, 1)
	tg := fastTelegram(t, srv.URL)

	require.NoError(t, tg.SendText("*hello*"))
	assert.EqualValues(t, 2, calls.Load())
	last := (*bodies)[len(*bodies)-1]
	assert.Equal(t, "-100123", last["chat_id"])
	assert.Equal(t, "*hello*", last["text"])
	assert.Equal(t, "Markdown", last["parse_mode"])
}

func TestTelegramGivesUp(t *testing.T) {
	srv, calls, _ := telegramServer(t, 10)
	tg := fastTelegram(t, srv.URL)
	assert.Error(t, tg.SendText("x"))
	assert.EqualValues(t, 3, calls.Load())

	_, err := NewTelegram(TelegramConfig{BotToken: "TOKEN"})
	assert.Error(t, err)
	assert.NoError(t, Nop{}.SendText("ignored"))
}
