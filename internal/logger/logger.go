// Package logger 封装 slog，提供 printf 风格的分级日志。
package logger

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	levelVar slog.LevelVar
	mu       sync.RWMutex
	base     *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	base = build(os.Stdout)
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

func SetOutput(w io.Writer) {
	l := build(w)
	mu.Lock()
	base = l
	mu.Unlock()
}

// ParseLevel 将配置中的字符串转为 slog.Level，未知值回落到 info。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func SetLevel(level string) { levelVar.Set(ParseLevel(level)) }

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func Debugf(format string, v ...any) { current().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { current().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { current().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { current().Error(fmt.Sprintf(format, v...)) }

// InfoBlock 按行输出多行文本（报告摘要等）。
func InfoBlock(block string) {
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		if line = strings.TrimRight(line, " "); line != "" {
			Infof("%s", line)
		}
	}
}

// OpenFile 以追加方式打开日志文件，必要时创建目录；path 为空返回 nil。
func OpenFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// Setup 设置级别并把日志同时写到 stdout 与 logPath。返回的 closer 需由调用方关闭。
func Setup(level, logPath string) (io.Closer, error) {
	SetLevel(level)
	f, err := OpenFile(logPath)
	if err != nil || f == nil {
		return nopCloser{}, err
	}
	mw := io.MultiWriter(os.Stdout, f)
	log.SetOutput(mw)
	SetOutput(mw)
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
