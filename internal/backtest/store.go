package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ictbt/internal/market"

	_ "modernc.org/sqlite"
)

// Manifest 记录某个 symbol@timeframe 缓存文件的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Store 是 K 线本地缓存：每个 symbol@timeframe 一个 sqlite 文件，目录结构为 root/SYMBOL/tf.db。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

const candleColumns = `open_time, close_time, open, high, low, close, volume, trades`

var storeSchema = []string{
	`CREATE TABLE IF NOT EXISTS candles (
		open_time   INTEGER PRIMARY KEY,
		close_time  INTEGER NOT NULL,
		open        REAL NOT NULL,
		high        REAL NOT NULL,
		low         REAL NOT NULL,
		close       REAL NOT NULL,
		volume      REAL NOT NULL,
		trades      INTEGER DEFAULT 0,
		inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
	)`,
	`CREATE TABLE IF NOT EXISTS manifest (
		id           INTEGER PRIMARY KEY CHECK (id=1),
		symbol       TEXT NOT NULL,
		timeframe    TEXT NOT NULL,
		min_time     INTEGER DEFAULT 0,
		max_time     INTEGER DEFAULT 0,
		rows         INTEGER DEFAULT 0,
		last_sync_at INTEGER DEFAULT 0
	)`,
}

func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("candle store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) path(symbol, timeframe string) string {
	return filepath.Join(s.root, market.NormalizeSymbol(symbol), strings.ToLower(timeframe)+".db")
}

func (s *Store) db(symbol, timeframe string) (*sql.DB, error) {
	if strings.TrimSpace(symbol) == "" || strings.TrimSpace(timeframe) == "" {
		return nil, fmt.Errorf("%w: symbol/timeframe required", ErrInvalidInput)
	}
	sym, tf := market.NormalizeSymbol(symbol), strings.ToLower(timeframe)
	key := sym + "@" + tf
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok {
		return db, nil
	}
	path := s.path(sym, tf)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := migrate(db, sym, tf); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	s.dbs[key] = db
	return db, nil
}

func migrate(db *sql.DB, symbol, timeframe string) error {
	for _, stmt := range storeSchema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT INTO manifest (id, symbol, timeframe) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, timeframe=excluded.timeframe`, symbol, timeframe)
	return err
}

// Upsert 批量写入 K 线，相同 open_time 覆盖旧值；非法 K 线直接跳过。
func (s *Store) Upsert(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO candles (`+candleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
			close_time=excluded.close_time, open=excluded.open, high=excluded.high,
			low=excluded.low, close=excluded.close, volume=excluded.volume, trades=excluded.trades`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	written := 0
	for _, c := range candles {
		if c.Validate() != nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	_, err = db.ExecContext(ctx, `UPDATE manifest SET
		min_time = (SELECT COALESCE(MIN(open_time), 0) FROM candles),
		max_time = (SELECT COALESCE(MAX(open_time), 0) FROM candles),
		rows = (SELECT COUNT(1) FROM candles),
		last_sync_at = ?
		WHERE id = 1`, time.Now().UnixMilli())
	return written, err
}

// Range 返回 [start,end]（开盘时间闭区间）内的全部 K 线，升序。
func (s *Store) Range(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	if end < start {
		start, end = end, start
	}
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+candleColumns+` FROM candles
		WHERE open_time BETWEEN ? AND ? ORDER BY open_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	return scanCandles(rows)
}

// Latest 返回 end 之前（含）最近 limit 根 K 线，升序；end<=0 表示不限。
func (s *Store) Latest(ctx context.Context, symbol, timeframe string, end int64, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 200
	}
	limit = min(limit, 5000)
	if end <= 0 {
		end = time.Now().UnixMilli()
	}
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+candleColumns+` FROM candles
		WHERE open_time <= ? ORDER BY open_time DESC LIMIT ?`, end, limit)
	if err != nil {
		return nil, err
	}
	list, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

func scanCandles(rows *sql.Rows) ([]market.Candle, error) {
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// OpenTimes 返回区间内已缓存的开盘时间。
func (s *Store) OpenTimes(ctx context.Context, symbol, timeframe string, start, end int64) ([]int64, error) {
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT open_time FROM candles WHERE open_time BETWEEN ? AND ? ORDER BY open_time`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *Store) Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{Path: s.path(symbol, timeframe)}
	err = db.QueryRowContext(ctx, `SELECT symbol, timeframe, min_time, max_time, rows, last_sync_at FROM manifest WHERE id=1`).
		Scan(&m.Symbol, &m.Timeframe, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt)
	if err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Manifests 扫描根目录，列出所有已缓存的序列。
func (s *Store) Manifests(ctx context.Context) ([]Manifest, error) {
	files, err := filepath.Glob(filepath.Join(s.root, "*", "*.db"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	out := make([]Manifest, 0, len(files))
	for _, f := range files {
		symbol := filepath.Base(filepath.Dir(f))
		tf := strings.TrimSuffix(filepath.Base(f), ".db")
		if _, err := ParseTimeframe(tf); err != nil {
			continue
		}
		m, err := s.Manifest(ctx, symbol, tf)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
