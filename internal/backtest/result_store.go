package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ictbt/internal/session"
	"ictbt/internal/signal"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrRunNotFound 为查询不存在的 run。
var ErrRunNotFound = errors.New("run not found")

type runModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Symbol         string         `gorm:"column:symbol;index"`
	Timeframe      string         `gorm:"column:timeframe"`
	Profile        string         `gorm:"column:profile"`
	Status         string         `gorm:"column:status"`
	StartTS        int64          `gorm:"column:start_ts"`
	EndTS          int64          `gorm:"column:end_ts"`
	InitialCapital float64        `gorm:"column:initial_capital"`
	FinalBalance   float64        `gorm:"column:final_balance"`
	ReturnPct      float64        `gorm:"column:return_pct"`
	WinRatePct     float64        `gorm:"column:win_rate_pct"`
	MaxDrawdownPct float64        `gorm:"column:max_drawdown_pct"`
	TotalTrades    int            `gorm:"column:total_trades"`
	Message        string         `gorm:"column:message"`
	ConfigJSON     datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	SummaryJSON    datatypes.JSON `gorm:"column:summary_json;type:TEXT"`
	ReportJSON     datatypes.JSON `gorm:"column:report_json;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
	CompletedUnix  *int64         `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type tradeModel struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID         string  `gorm:"column:run_id;index"`
	Seq           int     `gorm:"column:seq"`
	Side          string  `gorm:"column:side"`
	EntryPrice    float64 `gorm:"column:entry_price"`
	EntryTime     int64   `gorm:"column:entry_time"`
	ExitPrice     float64 `gorm:"column:exit_price"`
	ExitTime      int64   `gorm:"column:exit_time"`
	StopLoss      float64 `gorm:"column:stop_loss"`
	TakeProfit    float64 `gorm:"column:take_profit"`
	Quantity      float64 `gorm:"column:quantity"`
	Notional      float64 `gorm:"column:notional"`
	Profit        float64 `gorm:"column:profit"`
	ProfitPercent float64 `gorm:"column:profit_percent"`
	Quality       string  `gorm:"column:quality"`
	Session       string  `gorm:"column:session"`
	ExitReason    string  `gorm:"column:exit_reason"`
	EntryReason   string  `gorm:"column:entry_reason"`
	ExitNote      string  `gorm:"column:exit_note"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

type equityModel struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID       string  `gorm:"column:run_id;index"`
	TS          int64   `gorm:"column:ts"`
	Equity      float64 `gorm:"column:equity"`
	Balance     float64 `gorm:"column:balance"`
	PeakEquity  float64 `gorm:"column:peak_equity"`
	DrawdownPct float64 `gorm:"column:drawdown_pct"`
}

func (equityModel) TableName() string { return "backtest_equity" }

// ResultStore 用 gorm + sqlite 保存回测任务、成交与资金曲线。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}, &equityModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun 插入一条 pending/running 状态的 run。
func (s *ResultStore) CreateRun(ctx context.Context, run Run) error {
	m, err := toRunModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// UpdateStatus 只更新状态与消息。
func (s *ResultStore) UpdateStatus(ctx context.Context, id, status, message string) error {
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     status,
		"message":    message,
		"updated_at": time.Now().UnixMilli(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Save 在一个事务里写入完成的 run 及其成交和资金曲线，重复保存会先清掉旧明细。
func (s *ResultStore) Save(ctx context.Context, run Run, rep *Report) error {
	if rep == nil {
		return fmt.Errorf("nil report for run %s", run.ID)
	}
	run.Summary = &rep.Summary
	m, err := toRunModel(run)
	if err != nil {
		return err
	}
	head := *rep
	head.Trades, head.EquityCurve = nil, nil
	if m.ReportJSON, err = json.Marshal(head); err != nil {
		return err
	}
	trades := make([]tradeModel, 0, len(rep.Trades))
	for _, t := range rep.Trades {
		trades = append(trades, tradeModel{
			RunID: run.ID, Seq: t.ID, Side: string(t.Side),
			EntryPrice: t.EntryPrice, EntryTime: t.EntryTime, ExitPrice: t.ExitPrice, ExitTime: t.ExitTime,
			StopLoss: t.StopLoss, TakeProfit: t.TakeProfit, Quantity: t.Quantity, Notional: t.Notional,
			Profit: t.Profit, ProfitPercent: t.ProfitPercent, Quality: string(t.Quality), Session: string(t.Session),
			ExitReason: string(t.ExitReason), EntryReason: t.EntryReason, ExitNote: t.ExitNote,
		})
	}
	points := make([]equityModel, 0, len(rep.EquityCurve))
	for _, p := range rep.EquityCurve {
		points = append(points, equityModel{RunID: run.ID, TS: p.Timestamp, Equity: p.Equity, Balance: p.Balance, PeakEquity: p.PeakEquity, DrawdownPct: p.DrawdownPct})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", run.ID).Delete(&tradeModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", run.ID).Delete(&equityModel{}).Error; err != nil {
			return err
		}
		if len(trades) > 0 {
			if err := tx.CreateInBatches(trades, 200).Error; err != nil {
				return err
			}
		}
		if len(points) > 0 {
			if err := tx.CreateInBatches(points, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return m.toRun()
}

// ListRuns 按创建时间倒序返回最近的 run。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Omit("report_json").Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		r, err := m.toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *ResultStore) Trades(ctx context.Context, runID string) ([]Trade, error) {
	var rows []tradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTrade())
	}
	return out, nil
}

func (s *ResultStore) Equity(ctx context.Context, runID string) ([]EquityPoint, error) {
	var rows []equityModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("ts ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]EquityPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, EquityPoint{Timestamp: r.TS, Equity: r.Equity, Balance: r.Balance, PeakEquity: r.PeakEquity, DrawdownPct: r.DrawdownPct})
	}
	return out, nil
}

// Report 重新组装完整报告；run 未完成时返回 ErrRunNotFound。
func (s *ResultStore) Report(ctx context.Context, runID string) (*Report, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", runID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && len(m.ReportJSON) == 0) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	var rep Report
	if err := json.Unmarshal(m.ReportJSON, &rep); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", runID, err)
	}
	if rep.Trades, err = s.Trades(ctx, runID); err != nil {
		return nil, err
	}
	if rep.EquityCurve, err = s.Equity(ctx, runID); err != nil {
		return nil, err
	}
	return &rep, nil
}

func toRunModel(r Run) (runModel, error) {
	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return runModel{}, err
	}
	m := runModel{
		ID: r.ID, Symbol: r.Symbol, Timeframe: r.Timeframe, Profile: r.Profile, Status: r.Status,
		StartTS: r.StartTS, EndTS: r.EndTS, InitialCapital: r.Config.InitialCapital, Message: r.Message,
		ConfigJSON: cfg, CreatedAtUnix: r.CreatedAt.UnixMilli(), UpdatedAtUnix: time.Now().UnixMilli(),
	}
	if r.Summary != nil {
		if m.SummaryJSON, err = json.Marshal(r.Summary); err != nil {
			return runModel{}, err
		}
		m.FinalBalance = r.Summary.FinalBalance
		m.ReturnPct = r.Summary.TotalReturnPct
		m.WinRatePct = r.Summary.WinRatePct
		m.MaxDrawdownPct = r.Summary.MaxDrawdownPct
		m.TotalTrades = r.Summary.TotalTrades
	}
	if r.CompletedAt != nil {
		ts := r.CompletedAt.UnixMilli()
		m.CompletedUnix = &ts
	}
	return m, nil
}

func (m runModel) toRun() (Run, error) {
	r := Run{
		ID: m.ID, Symbol: m.Symbol, Timeframe: m.Timeframe, Profile: m.Profile, Status: m.Status,
		StartTS: m.StartTS, EndTS: m.EndTS, Message: m.Message,
		CreatedAt: time.UnixMilli(m.CreatedAtUnix).UTC(), UpdatedAt: time.UnixMilli(m.UpdatedAtUnix).UTC(),
	}
	if r.Finished() {
		r.Progress = 1
	}
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &r.Config); err != nil {
			return Run{}, fmt.Errorf("decode config %s: %w", m.ID, err)
		}
	}
	if len(m.SummaryJSON) > 0 {
		var sum Summary
		if err := json.Unmarshal(m.SummaryJSON, &sum); err != nil {
			return Run{}, fmt.Errorf("decode summary %s: %w", m.ID, err)
		}
		r.Summary = &sum
	}
	if m.CompletedUnix != nil {
		t := time.UnixMilli(*m.CompletedUnix).UTC()
		r.CompletedAt = &t
	}
	return r, nil
}

func (m tradeModel) toTrade() Trade {
	return Trade{
		ID: m.Seq, Side: session.Bias(m.Side),
		EntryPrice: m.EntryPrice, EntryTime: m.EntryTime, ExitPrice: m.ExitPrice, ExitTime: m.ExitTime,
		StopLoss: m.StopLoss, TakeProfit: m.TakeProfit, Quantity: m.Quantity, Notional: m.Notional,
		Profit: m.Profit, ProfitPercent: m.ProfitPercent, Quality: signal.Quality(m.Quality), Session: session.Killzone(m.Session),
		ExitReason: ExitReason(m.ExitReason), EntryReason: m.EntryReason, ExitNote: m.ExitNote,
	}
}
