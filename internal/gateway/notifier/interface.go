// Package notifier 推送回测完成/失败等文本通知。
package notifier

// TextNotifier 为最小文本推送接口，组件只依赖它而不依赖具体渠道。
type TextNotifier interface {
	SendText(text string) error
}

// Nop 丢弃所有消息，未配置推送渠道时使用。
type Nop struct{}

func (Nop) SendText(string) error { return nil }
