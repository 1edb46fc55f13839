// Package scheduler 按 K 线收盘对齐触发周期任务。
package scheduler

import (
	"context"
	"time"

	"ictbt/internal/logger"
)

// AlignedScheduler 在每个 Interval 边界之后 Offset 触发一次任务，
// 任务串行执行，耗时超过一个周期时下一轮立即补跑。
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(name string, interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

func (s *AlignedScheduler) prefix() string {
	if s.Name == "" {
		return "[scheduler]"
	}
	return "[scheduler:" + s.Name + "]"
}

// Run 阻塞直到 ctx 结束，返回 ctx.Err()。
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) error {
	if task == nil {
		logger.Warnf("%s task 为空，退出", s.prefix())
		return nil
	}
	if s.Interval <= 0 {
		logger.Warnf("%s interval=%s 非法，退出", s.prefix(), s.Interval)
		return nil
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("%s 启动 interval=%s offset=%s run_immediately=%v", s.prefix(), s.Interval, s.Offset, s.RunImmediately)
	if s.RunImmediately {
		task(ctx)
	}

	for {
		now := s.nowFn().UTC()
		nextClose, wakeAt, wait := s.nextTimes(now)
		logger.Debugf("%s 距离K线收盘=%s (收盘=%s) 将在=%s 执行 | uptime=%s",
			s.prefix(),
			nextClose.Sub(now).Truncate(time.Second),
			nextClose.Format(time.RFC3339),
			wakeAt.Format(time.RFC3339),
			now.Sub(startAt).Truncate(time.Second),
		)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Infof("%s ctx 结束，退出", s.prefix())
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		task(ctx)
	}
}

func (s *AlignedScheduler) nextTimes(now time.Time) (nextClose, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	nextClose = now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = nextClose.Add(s.Offset)
	// 仍处于上一个边界的 offset 窗口内时，先跑上一个边界
	if prev := nextClose.Add(-s.Interval).Add(s.Offset); prev.After(now) {
		nextClose, wakeAt = nextClose.Add(-s.Interval), prev
	}
	return nextClose, wakeAt, wakeAt.Sub(now)
}
