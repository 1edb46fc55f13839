package notifier

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"ictbt/internal/logger"

	"github.com/jpillora/backoff"
	tele "gopkg.in/telebot.v3"
)

// chat 让字符串 chat_id（数字或 @channel）满足 tele.Recipient。
type chat string

func (c chat) Recipient() string { return string(c) }

// TelegramConfig 为 Telegram 推送参数；APIURL 为空时使用官方地址。
type TelegramConfig struct {
	BotToken string
	ChatID   string
	APIURL   string
	Timeout  time.Duration
	Retries  int
}

// Telegram 只负责发送消息，不启动轮询。
type Telegram struct {
	bot     *tele.Bot
	chat    chat
	retries int
	newWait func() *backoff.Backoff
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.BotToken) == "" || strings.TrimSpace(cfg.ChatID) == "" {
		return nil, fmt.Errorf("telegram 配置不完整: bot_token/chat_id 必填")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.BotToken,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return &Telegram{
		bot:     bot,
		chat:    chat(strings.TrimSpace(cfg.ChatID)),
		retries: cfg.Retries,
		newWait: func() *backoff.Backoff {
			return &backoff.Backoff{Min: time.Second, Max: 5 * time.Second, Factor: 2}
		},
	}, nil
}

// SendText 以 Markdown 发送，失败按退避重试。
func (t *Telegram) SendText(text string) error {
	wait := t.newWait()
	var lastErr error
	for attempt := 0; attempt < t.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(wait.Duration())
		}
		if _, err := t.bot.Send(t.chat, text, tele.ModeMarkdown); err != nil {
			lastErr = err
			logger.Debugf("[notify] telegram 第 %d 次发送失败: %v", attempt+1, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("telegram send: %w", lastErr)
}
