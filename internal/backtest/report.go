package backtest

// Period 为回测覆盖的执行区间（首/末处理 K 线的开盘时间，Unix ms）。
type Period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Report 为一次回测的完整输出，字段名即 CLI/API/看板的 JSON 约定。
type Report struct {
	Symbol           string           `json:"symbol"`
	Timeframe        string           `json:"timeframe"`
	Profile          string           `json:"profile,omitempty"`
	Period           Period           `json:"period"`
	Config           EngineConfig     `json:"config"`
	Summary          Summary          `json:"summary"`
	Trades           []Trade          `json:"trades"`
	EquityCurve      []EquityPoint    `json:"equityCurve"`
	QualityBreakdown QualityBreakdown `json:"qualityBreakdown"`
	SessionBreakdown SessionBreakdown `json:"sessionBreakdown"`
	RuleCompliance   RuleCompliance   `json:"ruleCompliance"`
	Processed        int              `json:"processedCandles"`
	Skips            map[string]int   `json:"skips,omitempty"`
}
