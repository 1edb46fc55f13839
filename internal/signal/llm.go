package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"ictbt/internal/gateway/provider"
	"ictbt/internal/ict"
	"ictbt/internal/logger"
	"ictbt/internal/market"
	"ictbt/internal/session"
)

const signalSchema = `{
  "type": "object",
  "required": ["signal"],
  "properties": {
    "signal": {"enum": ["BUY", "SELL", null]},
    "entryPrice": {"type": "number", "exclusiveMinimum": 0},
    "stopLoss": {"type": "number", "exclusiveMinimum": 0},
    "takeProfit": {"type": "number", "exclusiveMinimum": 0},
    "confidence": {"enum": ["HIGH", "MEDIUM", "LOW"]},
    "reason": {"type": "string"}
  }
}`

const systemPrompt = "You are an expert ICT (Inner Circle Trader) swing trader. Only trade with the daily bias, inside a killzone, off order blocks and fair value gaps."

var errNoJSON = errors.New("no json object in reply")

// LLMEvaluator 通过大模型给出信号。TwoStage 时先要自然语言分析，再单独抽取 JSON。
type LLMEvaluator struct {
	provider  provider.ModelProvider
	schema    *jsonschema.Schema
	twoStage  bool
	maxTokens int
}

func NewLLMEvaluator(p provider.ModelProvider, twoStage bool) (*LLMEvaluator, error) {
	if p == nil {
		return nil, fmt.Errorf("llm evaluator requires a model provider")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("signal.json", strings.NewReader(signalSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("signal.json")
	if err != nil {
		return nil, err
	}
	return &LLMEvaluator{provider: p, schema: schema, twoStage: twoStage, maxTokens: 2000}, nil
}

func (e *LLMEvaluator) Evaluate(ctx context.Context, mc MarketContext, features ict.FeatureSet) (*Signal, error) {
	analysis := buildAnalysisPrompt(mc, features)
	if !e.twoStage {
		raw, err := e.provider.Call(ctx, provider.ChatPayload{
			System: systemPrompt, User: analysis + "\n\n" + extractionInstructions, MaxTokens: e.maxTokens, Purpose: "signal",
		})
		if err != nil {
			return nil, &EvaluationError{Stage: "signal", Err: err}
		}
		return e.parse(raw)
	}
	text, err := e.provider.Call(ctx, provider.ChatPayload{
		System: systemPrompt, User: analysis, MaxTokens: e.maxTokens, Purpose: "analysis",
	})
	if err != nil {
		return nil, &EvaluationError{Stage: "analysis", Err: err}
	}
	raw, err := e.provider.Call(ctx, provider.ChatPayload{
		User: extractionInstructions + "\n\nAnalysis:\n" + text, MaxTokens: 500, Purpose: "extract",
	})
	if err != nil {
		return nil, &EvaluationError{Stage: "extract", Err: err}
	}
	return e.parse(raw)
}

func (e *LLMEvaluator) parse(raw string) (*Signal, error) {
	sig, err := ParseSignal(raw, e.schema)
	if err != nil {
		logger.Warnf("[signal] 解析模型输出失败: %v", err)
		return nil, &EvaluationError{Stage: "parse", Err: err}
	}
	return sig, nil
}

const extractionInstructions = `Return ONLY a JSON object:
{"signal": "BUY" or "SELL", "entryPrice": number, "stopLoss": number, "takeProfit": number, "confidence": "HIGH" or "MEDIUM" or "LOW", "reason": "brief reason"}
If there is no clear setup return {"signal": null, "reason": "why"}.`

func buildAnalysisPrompt(mc MarketContext, fs ict.FeatureSet) string {
	features, _ := json.Marshal(map[string]any{
		"orderBlocks":     fs.OrderBlocks,
		"fairValueGaps":   fs.FVGs,
		"liquidityHighs":  fs.SwingHighs,
		"liquidityLows":   fs.SwingLows,
		"structureShifts": fs.Shifts,
		"zones":           fs.Zones,
		"breakers":        fs.Breakers,
	})
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\nTimeframe: %s\nTime: %s\nCurrent price: %.8g\n",
		mc.Symbol, mc.Timeframe, mc.Time.UTC().Format("2006-01-02 15:04Z"), mc.Price)
	fmt.Fprintf(&b, "Daily bias: %s\nKillzone: %s\nAligned PD arrays: %d (grade %s)\n", mc.Bias, mc.Killzone, mc.Confluence, mc.Quality)
	if n := len(mc.Recent); n > 0 {
		fmt.Fprintf(&b, "Window: %s\n", market.Candles(mc.Recent).Snapshot(mc.Timeframe))
		b.WriteString("Recent candles (open high low close):\n")
		for _, c := range mc.Recent[max(0, n-10):] {
			fmt.Fprintf(&b, "%s %.8g %.8g %.8g %.8g\n", c.TimeString(), c.Open, c.High, c.Low, c.Close)
		}
	}
	b.WriteString("ICT features:\n")
	b.Write(features)
	b.WriteString("\n\nIs there a valid setup aligned with the daily bias? Give entry, stop loss and take profit levels and a confidence level.")
	return b.String()
}

// ParseSignal 从模型回复中截取第一个 JSON 对象，校验后转为 Signal。"signal": null 返回 (nil, nil)。
func ParseSignal(raw string, schema *jsonschema.Schema) (*Signal, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errNoJSON
	}
	text := raw[start : end+1]
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	doc = coerceNumbers(doc)
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("reply schema: %w", err)
		}
	}
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	g := gjson.ParseBytes(normalized)
	var bias session.Bias
	switch strings.ToUpper(g.Get("signal").String()) {
	case "BUY":
		bias = session.Long
	case "SELL":
		bias = session.Short
	default:
		return nil, nil
	}
	return &Signal{
		Bias:       bias,
		EntryPrice: g.Get("entryPrice").Float(),
		StopLoss:   g.Get("stopLoss").Float(),
		TakeProfit: g.Get("takeProfit").Float(),
		Confidence: Confidence(g.Get("confidence").String()),
		Reason:     g.Get("reason").String(),
	}, nil
}

// coerceNumbers 将价格字段里的数字字符串转为 float64，模型常把 50000 写成 "50000"。
func coerceNumbers(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for _, key := range []string{"entryPrice", "stopLoss", "takeProfit"} {
		s, ok := obj[key].(string)
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", "")), 64); err == nil {
			obj[key] = f
		}
	}
	return obj
}
