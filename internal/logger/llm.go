package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// LLM 对话单独落盘，避免刷屏主日志。
var (
	llmMu      sync.Mutex
	llmLog     *log.Logger
	llmPayload bool
)

func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags|log.LUTC)
}

// EnableLLMPayloadDump 打开后额外记录原始请求体。
func EnableLLMPayloadDump(enabled bool) {
	llmMu.Lock()
	llmPayload = enabled
	llmMu.Unlock()
}

func writeLLM(tag string, sections ...[2]string) {
	llmMu.Lock()
	l := llmLog
	llmMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM]" + tag + "\n")
	for _, sec := range sections {
		if sec[1] == "" {
			continue
		}
		b.WriteString("--- " + sec[0] + " ---\n")
		b.WriteString(strings.TrimRight(sec[1], "\n"))
		b.WriteString("\n")
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

func LogLLMRequest(provider, purpose, system, user, payload string) {
	llmMu.Lock()
	dump := llmPayload
	llmMu.Unlock()
	if !dump {
		payload = ""
	}
	writeLLM("["+provider+"]["+purpose+"-request]",
		[2]string{"SYSTEM", system},
		[2]string{"USER", user},
		[2]string{"PAYLOAD", payload},
	)
}

func LogLLMResponse(provider, purpose, raw string) {
	writeLLM("["+provider+"]["+purpose+"-response]", [2]string{"RAW", raw})
}
