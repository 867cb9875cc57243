package signals

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidPattern 模式名称或表达式无效
	ErrInvalidPattern = errors.New("无效的信号模式")
	// ErrNotFound 模式不存在
	ErrNotFound = errors.New("信号模式不存在")
)

// Pattern 用户定义的信号识别规则
type Pattern struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression"`
	Active     bool   `json:"active" yaml:"active"`
}

// compiledPattern 已编译的模式，正则可以被多个协程并发使用
type compiledPattern struct {
	Pattern
	re *regexp.Regexp
	// named 表达式中包含约定的命名分组时按名称取值
	named map[string]int
	// claimed 已被命名分组占用的分组序号，不参与按位置取值
	claimed map[int]bool
}

// 命名分组约定
var groupAliases = map[string]string{
	"symbol":     "symbol",
	"coin":       "symbol",
	"pair":       "symbol",
	"entry":      "entry",
	"price":      "entry",
	"sl":         "sl",
	"stop":       "sl",
	"stoploss":   "sl",
	"tp":         "tp",
	"target":     "tp",
	"takeprofit": "tp",
	"leverage":   "leverage",
	"lev":        "leverage",
	"side":       "side",
}

// compile 校验并编译模式
func compile(p Pattern) (compiledPattern, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Expression = strings.TrimSpace(p.Expression)
	if p.Name == "" {
		return compiledPattern{}, fmt.Errorf("%w: 名称不能为空", ErrInvalidPattern)
	}
	if p.Expression == "" {
		return compiledPattern{}, fmt.Errorf("%w: 表达式不能为空", ErrInvalidPattern)
	}
	re, err := regexp.Compile(p.Expression)
	if err != nil {
		return compiledPattern{}, fmt.Errorf("%w: 表达式无法编译: %v", ErrInvalidPattern, err)
	}
	if re.NumSubexp() == 0 {
		return compiledPattern{}, fmt.Errorf("%w: 表达式至少需要一个捕获分组", ErrInvalidPattern)
	}

	cp := compiledPattern{Pattern: p, re: re}
	for i, name := range re.SubexpNames() {
		field, ok := groupAliases[strings.ToLower(name)]
		if !ok {
			continue
		}
		if cp.named == nil {
			cp.named = make(map[string]int)
			cp.claimed = make(map[int]bool)
		}
		cp.claimed[i] = true
		if _, exists := cp.named[field]; !exists {
			cp.named[field] = i
		}
	}
	return cp, nil
}

// PatternsOrDefault 模式列表为空时返回默认模式，启动和热加载共用
func PatternsOrDefault(ps []Pattern) ([]Pattern, bool) {
	if len(ps) == 0 {
		return DefaultPatterns(), true
	}
	return ps, false
}

// DefaultPatterns 未配置任何模式时安装的默认多空模式
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:       "Long",
			Expression: `(?i)LONG[:\s]*(?P<symbol>\w+).*?Entry[:\s]*(?P<entry>\d+[.,]?\d*).*?Leverage[:\s]*(?P<leverage>\d+)x?`,
			Active:     true,
		},
		{
			Name:       "Short",
			Expression: `(?i)SHORT[:\s]*(?P<symbol>\w+).*?Entry[:\s]*(?P<entry>\d+[.,]?\d*).*?Leverage[:\s]*(?P<leverage>\d+)x?`,
			Active:     true,
		},
	}
}
