package market

import "strings"

// quoteCurrencies 按长度优先匹配，避免 "BTCUSDT" 被拆成 BTCUSD/T 之类。
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "TUSD", "FDUSD", "BTC", "ETH", "BNB"}

// Symbol 为交易对的基础/计价币种。
type Symbol struct {
	Base  string
	Quote string
}

// ParseSymbol 接受 "BTC/USDT"、"btcusdt"、"BTC/USDT:USDT" 等写法。
func ParseSymbol(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if s == "" {
		return Symbol{}
	}
	if base, quote, ok := strings.Cut(s, "/"); ok {
		return Symbol{Base: strings.TrimSpace(base), Quote: strings.TrimSpace(quote)}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Exchange 返回交易所使用的拼接写法，如 BTCUSDT。
func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// NormalizeSymbol 统一为 BTCUSDT 形式；无法识别计价币种时仅做大写与去空白。
func NormalizeSymbol(s string) string {
	if out := ParseSymbol(s).Exchange(); out != "" {
		return out
	}
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "/", ""))
}

// NormalizeSymbols 规范化并去重，保持原有顺序。
func NormalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, raw := range symbols {
		sym := NormalizeSymbol(raw)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}
