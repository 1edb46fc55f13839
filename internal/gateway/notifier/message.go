package notifier

import (
	"strings"
	"time"
)

// Telegram 单条消息上限 4096，留出余量。
const maxMessageLen = 3800

// Section 为通知中的一个段落。
type Section struct {
	Title string
	Lines []string
}

// Message 描述统一格式的推送：标题一行，正文段落放在代码块里保持对齐。
type Message struct {
	Icon      string
	Title     string
	Sections  []Section
	Footer    string
	Timestamp time.Time
}

// Render 生成 Markdown 文本，超长时截断。
func (m Message) Render() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header + "\n\n")
	}
	var body []string
	for _, sec := range m.Sections {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		var blk strings.Builder
		if t := strings.TrimSpace(sec.Title); t != "" {
			blk.WriteString(escapeFence(t) + "\n")
		}
		for _, l := range lines {
			blk.WriteString("- " + escapeFence(l) + "\n")
		}
		body = append(body, blk.String())
	}
	if len(body) > 0 {
		b.WriteString("```\n" + strings.Join(body, "\n") + "```\n\n")
	}
	if f := strings.TrimSpace(m.Footer); f != "" {
		b.WriteString(escapeFence(f) + "\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	out := strings.TrimSpace(b.String())
	if len(out) > maxMessageLen {
		out = out[:maxMessageLen] + "..."
	}
	return out
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
