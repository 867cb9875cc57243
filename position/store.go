package position

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signaldesk/event"
	"signaldesk/logger"
	"signaldesk/signals"
	"signaldesk/utils"
)

// DefaultHistorySize 默认保留的已平仓交易数量
const DefaultHistorySize = 500

// Config 状态存储配置
type Config struct {
	HistorySize int
	DefaultSize decimal.Decimal
	// Quote 计价币，持仓按去掉计价币后缀的币种登记
	Quote string
}

// Snapshot 某一时刻的完整状态
type Snapshot struct {
	Positions []Position                 `json:"positions"`
	Balances  map[string]decimal.Decimal `json:"balances"`
	TakenAt   time.Time                  `json:"takenAt"`
}

// Store 持仓和余额的唯一状态源
//
// 所有写操作持有写锁，并在锁内同步发布变化事件，
// 订阅者收到事件时状态已经生效，读取快照不会比已收到的事件更旧。
type Store struct {
	mu        sync.RWMutex
	positions map[string]Position
	balances  map[string]decimal.Decimal
	history   []ClosedTrade
	config    Config
	pub       event.Publisher
	now       func() time.Time
}

// NewStore 创建状态存储，pub 为空时不发布事件
func NewStore(pub event.Publisher, config Config) *Store {
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultHistorySize
	}
	if !config.DefaultSize.IsPositive() {
		config.DefaultSize = decimal.NewFromInt(1)
	}
	return &Store{
		positions: make(map[string]Position),
		balances:  make(map[string]decimal.Decimal),
		config:    config,
		pub:       pub,
		now:       utils.NowUTC,
	}
}

func (s *Store) normalize(symbol string) string {
	return NormalizeSymbol(symbol, s.config.Quote)
}

// Quote 计价币
func (s *Store) Quote() string {
	return s.config.Quote
}

// emit 发布事件，调用方必须持有写锁
func (s *Store) emit(kind event.Kind, payload interface{}) {
	if s.pub == nil {
		return
	}
	ev := event.New(kind, payload)
	s.pub.Publish(ev.Topic, ev)
}

// OpenGuard 在写锁内执行的开仓检查，openCount 为当前持仓数，replacing 表示将替换同一交易对的持仓。
// 返回错误时放弃开仓，状态不变。
type OpenGuard func(openCount int, replacing bool) error

// OpenPosition 根据信号开仓。同一交易对已有持仓时先按最新价格平掉旧仓再开新仓
func (s *Store) OpenPosition(sig *signals.Signal) (Position, error) {
	return s.OpenPositionGuarded(sig, nil)
}

// OpenPositionGuarded 与 OpenPosition 相同，但先在同一把写锁内执行 guard，
// 检查和开仓之间不会有其他开仓插入
func (s *Store) OpenPositionGuarded(sig *signals.Signal, guard OpenGuard) (Position, error) {
	if sig == nil {
		return Position{}, fmt.Errorf("%w: 信号为空", ErrInvalidSignal)
	}
	side := sig.Side
	if side == "" {
		side = signals.Long
	}
	return s.adopt(Position{
		Symbol:       sig.Symbol,
		Side:         side,
		EntryPrice:   sig.EntryPrice,
		CurrentPrice: sig.EntryPrice,
		Leverage:     sig.Leverage,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		PatternID:    sig.PatternID,
	}, guard)
}

// Adopt 直接登记持仓（用于从交易引擎同步的仓位），重复交易对按替换处理
func (s *Store) Adopt(p Position) (Position, error) {
	return s.adopt(p, nil)
}

func (s *Store) adopt(p Position, guard OpenGuard) (Position, error) {
	p.Symbol = s.normalize(p.Symbol)
	if p.Symbol == "" {
		return Position{}, fmt.Errorf("%w: 交易对为空", ErrInvalidSignal)
	}
	if !p.EntryPrice.IsPositive() {
		return Position{}, fmt.Errorf("%w: %s 入场价必须大于0", ErrInvalidSignal, p.Symbol)
	}
	if !p.CurrentPrice.IsPositive() {
		p.CurrentPrice = p.EntryPrice
	}
	if !p.Size.IsPositive() {
		p.Size = s.config.DefaultSize
	}
	if p.Leverage < 1 {
		p.Leverage = 1
	}
	if p.Side == "" {
		p.Side = signals.Long
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, replacing := s.positions[p.Symbol]
	if guard != nil {
		if err := guard(len(s.positions), replacing); err != nil {
			return Position{}, err
		}
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = s.now()
	}
	if replacing {
		closed := s.closeLocked(old, ReasonReplaced)
		logger.Warn("⚠️ %s 已有持仓，按 %s 平仓后重新开仓 (盈亏 %s%%)",
			p.Symbol, closed.ExitPrice, closed.PnL().StringFixed(2))
	}
	s.positions[p.Symbol] = p
	s.emit(event.KindPositionOpened, p)
	logger.Info("📈 开仓: %s", p.Describe())
	return p, nil
}

// UpdatePrice 更新持仓的当前价格，交易对未持仓时不做任何事
func (s *Store) UpdatePrice(symbol string, price decimal.Decimal) bool {
	symbol = s.normalize(symbol)
	if !price.IsPositive() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return false
	}
	if p.CurrentPrice.Equal(price) {
		return true
	}
	p.CurrentPrice = price
	s.positions[symbol] = p
	s.emit(event.KindPositionUpdated, p)
	return true
}

// ClosePosition 平仓并返回最终快照
func (s *Store) ClosePosition(symbol string) (ClosedTrade, error) {
	return s.closeWithReason(symbol, ReasonClosed)
}

// CloseExternal 交易引擎侧已平仓的持仓
func (s *Store) CloseExternal(symbol string) (ClosedTrade, error) {
	return s.closeWithReason(symbol, ReasonExternal)
}

func (s *Store) closeWithReason(symbol, reason string) (ClosedTrade, error) {
	symbol = s.normalize(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return ClosedTrade{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	closed := s.closeLocked(p, reason)
	logger.Info("📉 平仓: %s", closed.Describe())
	return closed, nil
}

// closeLocked 调用方必须持有写锁
func (s *Store) closeLocked(p Position, reason string) ClosedTrade {
	delete(s.positions, p.Symbol)
	closed := ClosedTrade{
		Position:  p,
		ExitPrice: p.CurrentPrice,
		ClosedAt:  s.now(),
		Reason:    reason,
	}
	s.history = append(s.history, closed)
	if over := len(s.history) - s.config.HistorySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	s.emit(event.KindPositionClosed, closed)
	return closed
}

// RecordBalance 覆盖写入资产余额
func (s *Store) RecordBalance(asset string, amount decimal.Decimal) {
	asset = strings.TrimSpace(asset)
	if asset == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[asset] = amount
	s.emit(event.KindBalanceUpdated, Balance{Asset: asset, Amount: amount})
}

// RecordBalances 批量写入余额，按资产名称顺序逐个发布事件
func (s *Store) RecordBalances(balances map[string]decimal.Decimal) {
	assets := make([]string, 0, len(balances))
	for a := range balances {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	for _, a := range assets {
		s.RecordBalance(a, balances[a])
	}
}

// Position 获取单个持仓
func (s *Store) Position(symbol string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[s.normalize(symbol)]
	return p, ok
}

// Symbols 当前持仓的交易对
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// OpenCount 当前持仓数量
func (s *Store) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Snapshot 原子读取当前全部持仓和余额
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Positions: make([]Position, 0, len(s.positions)),
		Balances:  make(map[string]decimal.Decimal, len(s.balances)),
		TakenAt:   s.now(),
	}
	for _, p := range s.positions {
		snap.Positions = append(snap.Positions, p)
	}
	sortPositions(snap.Positions)
	for a, v := range s.balances {
		snap.Balances[a] = v
	}
	return snap
}

// History 已平仓交易，按平仓时间从新到旧
func (s *Store) History(limit int) []ClosedTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ClosedTrade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].OpenedAt.Before(ps[j].OpenedAt)
		}
		return ps[i].Symbol < ps[j].Symbol
	})
}
