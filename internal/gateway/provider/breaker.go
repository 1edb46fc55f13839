package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ictbt/internal/logger"
)

// ErrCircuitOpen 熔断期间直接拒绝调用，避免回测在每根 K 线上都等满超时。
var ErrCircuitOpen = errors.New("model circuit open")

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker 包装 ModelProvider：连续失败 threshold 次后熔断 cooldown，之后放行一次试探。
type Breaker struct {
	inner     ModelProvider
	threshold int
	cooldown  time.Duration
	nowFn     func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
}

// WithBreaker threshold<=0 时不包装。
func WithBreaker(p ModelProvider, threshold int, cooldown time.Duration) ModelProvider {
	if p == nil || threshold <= 0 {
		return p
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{inner: p, threshold: threshold, cooldown: cooldown, nowFn: time.Now}
}

func (b *Breaker) ID() string { return b.inner.ID() }

func (b *Breaker) Call(ctx context.Context, payload ChatPayload) (string, error) {
	if !b.allow() {
		return "", fmt.Errorf("%s: %w", b.inner.ID(), ErrCircuitOpen)
	}
	out, err := b.inner.Call(ctx, payload)
	switch {
	case err == nil:
		b.recordSuccess()
	case ctx.Err() != nil:
		// 调用方取消不计入失败
	default:
		b.recordFailure()
	}
	return out, err
}

// State 返回当前状态。
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.nowFn().Sub(b.lastFailure) >= b.cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.nowFn()
	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	logger.Warnf("[provider] %s 熔断状态 %s -> %s (failures=%d/%d, cooldown=%s)",
		b.inner.ID(), from, to, b.failures, b.threshold, b.cooldown)
}
