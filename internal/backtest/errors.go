package backtest

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput 输入序列为空、含非法价格或时间戳非递增。
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientData 拉取后没有任何可用 K 线。
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvariantViolation 状态机内部不变量被破坏，属于逻辑错误。
	ErrInvariantViolation = errors.New("invariant violation")
)

type Phase string

const (
	PhaseFetch     Phase = "fetch"
	PhaseSimulate  Phase = "simulate"
	PhaseAggregate Phase = "aggregate"
)

// PhaseError 标记一次回测在哪个阶段失败。
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("backtest %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

func phaseErr(p Phase, err error) error {
	if err == nil {
		return nil
	}
	var pe *PhaseError
	if errors.As(err, &pe) {
		return err
	}
	return &PhaseError{Phase: p, Err: err}
}

// FetchError 为数据源拉取失败。
type FetchError struct {
	Source   string
	Symbol   string
	Interval string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s@%s: %v", e.Source, e.Symbol, e.Interval, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
