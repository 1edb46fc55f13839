package app

import (
	"fmt"
	"time"

	"ictbt/internal/config"
	"ictbt/internal/gateway/provider"
	"ictbt/internal/logger"
	"ictbt/internal/signal"
)

// buildEvaluator 在 ai.enabled 时构造 LLM 评估器；未启用返回 nil，回测请求 use_llm 会被拒绝。
func buildEvaluator(cfg config.AIConfig) (signal.Evaluator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	p, err := provider.New(cfg.Provider, cfg.APIURL, cfg.APIKey, cfg.Model,
		time.Duration(cfg.TimeoutSeconds)*time.Second, cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("初始化模型失败: %w", err)
	}
	p = provider.WithBreaker(p, cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownSeconds)*time.Second)
	ev, err := signal.NewLLMEvaluator(p, cfg.TwoStage)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ LLM 评估器已启用：%s (two_stage=%v)", p.ID(), cfg.TwoStage)
	return ev, nil
}
