package backtest

import "context"

// Gap 为缺失 K 线的开盘时间闭区间。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 描述缓存对某个区间的覆盖情况。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps"`
}

func (r IntegrityReport) Complete() bool { return len(r.Gaps) == 0 }

// CheckIntegrity 对齐区间后与缓存的开盘时间逐格比对，连续缺失合并为一个 Gap。
func (s *Store) CheckIntegrity(ctx context.Context, symbol string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	start, end = tf.AlignRange(start, end)
	times, err := s.OpenTimes(ctx, symbol, tf.Key, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	return findGaps(times, tf.Millis(), start, end), nil
}

func findGaps(times []int64, step, start, end int64) IntegrityReport {
	r := IntegrityReport{Gaps: []Gap{}}
	if step <= 0 || end < start {
		return r
	}
	r.Expected = (end-start)/step + 1
	present := make(map[int64]struct{}, len(times))
	for _, ts := range times {
		if ts >= start && ts <= end && (ts-start)%step == 0 {
			present[ts] = struct{}{}
		}
	}
	r.Present = int64(len(present))
	var open *Gap
	for ts := start; ts <= end; ts += step {
		if _, ok := present[ts]; ok {
			if open != nil {
				r.Gaps = append(r.Gaps, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &Gap{From: ts}
		}
		open.To = ts
	}
	if open != nil {
		r.Gaps = append(r.Gaps, *open)
	}
	return r
}
