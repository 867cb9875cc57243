package signals

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 持仓方向
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// ParseSide 解析方向字符串
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return Long, true
	case "SHORT", "SELL":
		return Short, true
	}
	return "", false
}

// Signal 从文本中提取出的交易信号
type Signal struct {
	PatternID   string           `json:"patternId"`
	PatternName string           `json:"patternName"`
	Symbol      string           `json:"symbol"`
	Side        Side             `json:"side"`
	EntryPrice  decimal.Decimal  `json:"entryPrice"`
	StopLoss    *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit  *decimal.Decimal `json:"takeProfit,omitempty"`
	Leverage    int              `json:"leverage"`
	Raw         string           `json:"raw"`
	ReceivedAt  time.Time        `json:"receivedAt"`
}

// Extractor 信号提取器，可被多个协程并发调用
type Extractor struct {
	store           *Store
	defaultLeverage int
}

// NewExtractor 创建信号提取器
func NewExtractor(store *Store, defaultLeverage int) *Extractor {
	if defaultLeverage < 1 {
		defaultLeverage = 1
	}
	return &Extractor{store: store, defaultLeverage: defaultLeverage}
}

// Extract 按插入顺序尝试启用的模式，返回第一个匹配且字段可解析的信号。
// 任何解析失败都视为不匹配，不会返回错误。
func (e *Extractor) Extract(text string) (*Signal, bool) {
	for _, cp := range e.store.current() {
		if !cp.Active {
			continue
		}
		if sig, ok := e.apply(cp, text); ok {
			return sig, true
		}
	}
	return nil, false
}

func (e *Extractor) apply(cp compiledPattern, text string) (*Signal, bool) {
	m := cp.re.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	group := func(field string, position int) string {
		if idx, ok := cp.named[field]; ok {
			return strings.TrimSpace(m[idx])
		}
		if position > 0 && position < len(m) && !cp.claimed[position] {
			return strings.TrimSpace(m[position])
		}
		return ""
	}

	symbol := strings.ToUpper(group("symbol", 1))
	if symbol == "" {
		return nil, false
	}
	entry, ok := parsePrice(group("entry", 2))
	if !ok || !entry.IsPositive() {
		return nil, false
	}
	sl, ok := parseOptionalPrice(group("sl", 3))
	if !ok {
		return nil, false
	}
	tp, ok := parseOptionalPrice(group("tp", 4))
	if !ok {
		return nil, false
	}

	leverage := e.defaultLeverage
	if raw := strings.TrimSuffix(strings.ToLower(group("leverage", -1)), "x"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, false
		}
		leverage = n
	}

	side, ok := ParseSide(group("side", -1))
	if !ok {
		side = inferSide(m[0], cp.Name)
	}

	return &Signal{
		PatternID:   cp.ID,
		PatternName: cp.Name,
		Symbol:      symbol,
		Side:        side,
		EntryPrice:  entry,
		StopLoss:    sl,
		TakeProfit:  tp,
		Leverage:    leverage,
		Raw:         text,
		ReceivedAt:  time.Now(),
	}, true
}

// inferSide 依次从匹配文本和模式名称中查找多空关键字，默认做多
func inferSide(matched, patternName string) Side {
	for _, s := range []string{matched, patternName} {
		upper := strings.ToUpper(s)
		hasLong := strings.Contains(upper, "LONG")
		hasShort := strings.Contains(upper, "SHORT")
		if hasShort && !hasLong {
			return Short
		}
		if hasLong && !hasShort {
			return Long
		}
	}
	return Long
}

// parsePrice 解析价格，支持逗号小数分隔符
func parsePrice(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// parseOptionalPrice 空字符串返回 nil；非空但无法解析时返回 false
func parseOptionalPrice(s string) (*decimal.Decimal, bool) {
	if s == "" {
		return nil, true
	}
	d, ok := parsePrice(s)
	if !ok || !d.IsPositive() {
		return nil, false
	}
	return &d, true
}
