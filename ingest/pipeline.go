package ingest

import (
	"errors"
	"strings"

	"signaldesk/logger"
	"signaldesk/metrics"
	"signaldesk/position"
	"signaldesk/safety"
	"signaldesk/signals"
)

// ErrTextRequired 消息内容为空
var ErrTextRequired = errors.New("消息内容不能为空")

// Outcome 一条消息的处理结果
type Outcome string

const (
	OutcomeOpened   Outcome = "opened"   // 识别成功并开仓
	OutcomeNoMatch  Outcome = "no_match" // 没有规则命中
	OutcomeRejected Outcome = "rejected" // 风控拒绝
	OutcomeIgnored  Outcome = "ignored"  // 来自未监听的频道
	OutcomeFailed   Outcome = "failed"   // 开仓失败
)

// Result 处理结果
type Result struct {
	Outcome  Outcome            `json:"outcome"`
	Signal   *signals.Signal    `json:"signal,omitempty"`
	Position *position.Position `json:"position,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// Pipeline 消息 -> 信号 -> 风控 -> 持仓
type Pipeline struct {
	channels  *ChannelSet
	extractor *signals.Extractor
	risk      *safety.RiskChecker
	store     *position.Store
}

// NewPipeline 创建处理管道，risk 为空时不做风控
func NewPipeline(channels *ChannelSet, extractor *signals.Extractor, risk *safety.RiskChecker, store *position.Store) *Pipeline {
	return &Pipeline{
		channels:  channels,
		extractor: extractor,
		risk:      risk,
		store:     store,
	}
}

// Channels 返回频道集合
func (p *Pipeline) Channels() *ChannelSet {
	return p.channels
}

// Process 处理一条来自 channel 的消息。channel 为空表示手动提交，不检查频道
func (p *Pipeline) Process(channel, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrTextRequired
	}
	m := metrics.GetPrometheusMetrics()

	if channel != "" && p.channels != nil && !p.channels.Contains(channel) {
		m.RecordSignal(string(OutcomeIgnored))
		return Result{Outcome: OutcomeIgnored}, nil
	}

	sig, ok := p.extractor.Extract(text)
	if !ok {
		m.RecordSignal(string(OutcomeNoMatch))
		return Result{Outcome: OutcomeNoMatch}, nil
	}
	m.RecordPatternMatch(sig.PatternName)

	var guard position.OpenGuard
	if p.risk != nil {
		p.risk.ApplyDefaults(sig)
		guard = func(openCount int, replacing bool) error {
			return p.risk.Check(sig, openCount, replacing)
		}
	}

	pos, err := p.store.OpenPositionGuarded(sig, guard)
	if errors.Is(err, safety.ErrRiskRejected) {
		logger.Warn("⚠️ [风控拒绝] %v", err)
		m.RecordSignal(string(OutcomeRejected))
		return Result{Outcome: OutcomeRejected, Signal: sig, Reason: err.Error()}, nil
	}
	if err != nil {
		m.RecordSignal(string(OutcomeFailed))
		return Result{Outcome: OutcomeFailed, Signal: sig, Reason: err.Error()}, err
	}
	m.RecordSignal(string(OutcomeOpened))
	m.SetOpenPositions(p.store.OpenCount())
	logger.Info("📥 [信号] %s %s @ %s (规则: %s, 杠杆: %dx)", sig.Side, sig.Symbol, sig.EntryPrice, sig.PatternName, sig.Leverage)
	return Result{Outcome: OutcomeOpened, Signal: sig, Position: &pos}, nil
}

// Test 只做识别，不改变任何状态
func (p *Pipeline) Test(text string) (*signals.Signal, bool) {
	return p.extractor.Extract(text)
}
