package backtest

import (
	"fmt"
	"strings"
	"time"

	"ictbt/internal/market"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunRequest 描述一次回测请求，CLI 与 HTTP 共用。时间为 Unix 毫秒，End 为开区间上界。
type RunRequest struct {
	Symbol    string        `json:"symbol" binding:"required"`
	Timeframe string        `json:"timeframe"`
	Exchange  string        `json:"exchange"`
	Profile   string        `json:"profile"`
	StartTS   int64         `json:"start_ts" binding:"required"`
	EndTS     int64         `json:"end_ts" binding:"required"`
	Offline   bool          `json:"offline"`
	UseLLM    bool          `json:"use_llm"`
	Override  *EngineConfig `json:"override,omitempty"`
}

func (r RunRequest) normalized() (RunRequest, error) {
	r.Symbol = market.NormalizeSymbol(r.Symbol)
	if r.Symbol == "" {
		return r, fmt.Errorf("%w: symbol required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Timeframe) == "" {
		r.Timeframe = "15m"
	}
	tf, err := ParseTimeframe(r.Timeframe)
	if err != nil {
		return r, err
	}
	r.Timeframe = tf.Key
	if r.StartTS <= 0 || r.EndTS <= r.StartTS {
		return r, fmt.Errorf("%w: need 0 < start_ts < end_ts", ErrInvalidInput)
	}
	return r, nil
}

// Run 为一次回测任务的元数据；完成后 Summary 填充，明细单独存放。
type Run struct {
	ID          string       `json:"id"`
	Symbol      string       `json:"symbol"`
	Timeframe   string       `json:"timeframe"`
	Profile     string       `json:"profile"`
	Status      string       `json:"status"`
	StartTS     int64        `json:"start_ts"`
	EndTS       int64        `json:"end_ts"`
	Progress    float64      `json:"progress"`
	Message     string       `json:"message,omitempty"`
	Config      EngineConfig `json:"config"`
	Summary     *Summary     `json:"summary,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

func (r Run) Finished() bool {
	return r.Status == RunStatusDone || r.Status == RunStatusFailed
}
