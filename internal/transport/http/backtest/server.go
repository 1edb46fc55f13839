package backtesthttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ictbt/internal/backtest"
	"ictbt/internal/logger"
	"ictbt/internal/session"

	"github.com/gin-gonic/gin"
)

// ProfileCatalog 列出可用的策略 profile。
type ProfileCatalog interface {
	Names() []string
	Profile(name string) (backtest.EngineConfig, bool)
}

// Server 提供回测相关的 HTTP API。
type Server struct {
	addr     string
	svc      *backtest.FetchService
	runner   *backtest.Runner
	sim      *backtest.Simulator
	results  *backtest.ResultStore
	profiles ProfileCatalog
	router   *gin.Engine
}

// Config 描述回测 HTTP Server 的依赖；Runner/Simulator/Results/Profiles 可为空，对应接口返回 503。
type Config struct {
	Addr      string
	Svc       *backtest.FetchService
	Runner    *backtest.Runner
	Simulator *backtest.Simulator
	Results   *backtest.ResultStore
	Profiles  ProfileCatalog
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Svc == nil {
		return nil, errors.New("fetch service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:     cfg.Addr,
		svc:      cfg.Svc,
		runner:   cfg.Runner,
		sim:      cfg.Simulator,
		results:  cfg.Results,
		profiles: cfg.Profiles,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

// Handler 暴露路由，便于 httptest 直接调用。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	api := s.router.Group("/api/backtest")
	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch/:id", s.handleFetchStatus)
	api.GET("/jobs", s.handleJobs)
	api.GET("/data", s.handleData)
	api.GET("/candles", s.handleCandles)
	api.GET("/analysis", s.handleAnalysis)
	api.GET("/killzone", s.handleKillzone)
	api.GET("/profiles", s.handleProfiles)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/equity", s.handleRunEquity)
	api.GET("/runs/:id/report", s.handleRunReport)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("[http] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Truncate(time.Microsecond))
	}
}

// writeError 按错误类别映射状态码。
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, backtest.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, backtest.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, backtest.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + "未启用"})
}

func (s *Server) handleFetch(c *gin.Context) {
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.svc.Submit(backtest.FetchParams{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	job, ok := s.svc.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.svc.Jobs()})
}

// handleData 不带参数时列出全部缓存；带 symbol/timeframe 时返回单个 manifest，
// 再带 start_ts/end_ts 时附带完整性检查。
func (s *Server) handleData(c *gin.Context) {
	ctx := c.Request.Context()
	store := s.svc.Store()
	symbol, tf := c.Query("symbol"), c.Query("timeframe")
	if symbol == "" && tf == "" {
		list, err := store.Manifests(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"manifests": list})
		return
	}
	timeframe, err := backtest.ParseTimeframe(tf)
	if err != nil || symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	info, err := store.Manifest(ctx, symbol, timeframe.Key)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"manifest": info}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	if start > 0 && end > start {
		report, err := store.CheckIntegrity(ctx, symbol, timeframe, start, end)
		if err != nil {
			writeError(c, err)
			return
		}
		resp["integrity"] = report
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol, tf := c.Query("symbol"), c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	data, err := s.svc.Candles(c.Request.Context(), symbol, tf, end, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func (s *Server) handleAnalysis(c *gin.Context) {
	if s.runner == nil {
		unavailable(c, "分析")
		return
	}
	var req backtest.AnalyzeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 必填"})
		return
	}
	out, err := s.runner.Analyze(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": out})
}

func (s *Server) handleKillzone(c *gin.Context) {
	ts := time.Now().UTC()
	if raw := c.Query("ts"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ts 非法"})
			return
		}
		ts = time.UnixMilli(ms).UTC()
	}
	kz := session.ClassifyKillzone(ts)
	c.JSON(http.StatusOK, gin.H{
		"ts":       ts.UnixMilli(),
		"utc":      ts.Format(time.RFC3339),
		"killzone": kz,
		"active":   kz != "",
	})
}

func (s *Server) handleProfiles(c *gin.Context) {
	if s.profiles == nil {
		unavailable(c, "profile ")
		return
	}
	out := make(map[string]backtest.EngineConfig)
	for _, name := range s.profiles.Names() {
		if cfg, ok := s.profiles.Profile(name); ok {
			out[name] = cfg
		}
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out})
}

func (s *Server) handleRunStart(c *gin.Context) {
	if s.sim == nil {
		unavailable(c, "模拟器")
		return
	}
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.sim.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleRunList(c *gin.Context) {
	if s.sim == nil {
		unavailable(c, "模拟器")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.sim.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	if s.sim == nil {
		unavailable(c, "模拟器")
		return
	}
	run, err := s.sim.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	if s.results == nil {
		unavailable(c, "结果存储")
		return
	}
	trades, err := s.results.Trades(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunEquity(c *gin.Context) {
	if s.results == nil {
		unavailable(c, "结果存储")
		return
	}
	points, err := s.results.Equity(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

// handleRunReport 支持 format=json|yaml|csv|html|trades。
func (s *Server) handleRunReport(c *gin.Context) {
	if s.results == nil {
		unavailable(c, "结果存储")
		return
	}
	rep, err := s.results.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	var contentType string
	var write func() error
	switch format {
	case "json":
		c.JSON(http.StatusOK, gin.H{"report": rep})
		return
	case "yaml":
		contentType, write = "application/yaml; charset=utf-8", func() error { return backtest.WriteYAML(c.Writer, rep) }
	case "csv":
		contentType, write = "text/csv; charset=utf-8", func() error { return backtest.WriteCSV(c.Writer, rep) }
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rep.Symbol+"_backtest.csv"))
	case "html":
		contentType, write = "text/html; charset=utf-8", func() error { return backtest.WriteHTML(c.Writer, rep) }
	case "trades":
		contentType, write = "application/json; charset=utf-8", func() error { return backtest.WriteTradesJSON(c.Writer, rep) }
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported format " + format})
		return
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if err := write(); err != nil {
		logger.Warnf("[http] 导出报告 %s 失败: %v", c.Param("id"), err)
	}
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] 回测 API 监听 %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
