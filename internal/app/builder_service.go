package app

import (
	"ictbt/internal/config"
	"ictbt/internal/gateway/notifier"
	"ictbt/internal/logger"
)

// buildNotifier 未启用 Telegram 时返回 Nop。
func buildNotifier(cfg config.NotifyConfig) (notifier.TextNotifier, error) {
	if !cfg.Telegram.Enabled {
		return notifier.Nop{}, nil
	}
	tg, err := notifier.NewTelegram(notifier.TelegramConfig{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
		APIURL:   cfg.Telegram.APIURL,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ Telegram 推送已启用")
	return tg, nil
}
