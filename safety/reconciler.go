package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signaldesk/lock"
	"signaldesk/logger"
	"signaldesk/metrics"
	"signaldesk/position"
	"signaldesk/signals"
	"signaldesk/trader"
)

const reconcileLockKey = "reconcile"

// ReconcilerConfig 对账配置
type ReconcilerConfig struct {
	Interval time.Duration
	// MirrorPositions 为 true 时，交易引擎中已不存在的本地持仓会被移除
	MirrorPositions bool
}

// Reconciler 定期从交易引擎同步余额和持仓。
// 进程内状态只是展示缓存，交易引擎才是资金状态的权威来源。
type Reconciler struct {
	trader   trader.Trader
	store    *position.Store
	lock     lock.DistributedLock
	cfg      ReconcilerConfig
	mu       sync.Mutex
	lastSync time.Time
	lastErr  error
}

// NewReconciler 创建对账器
func NewReconciler(t trader.Trader, store *position.Store, distributedLock lock.DistributedLock, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if distributedLock == nil {
		distributedLock = lock.NewLocalLock()
	}
	return &Reconciler{
		trader: t,
		store:  store,
		lock:   distributedLock,
		cfg:    cfg,
	}
}

// Start 立即执行一次对账，然后按间隔定期执行
func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		if err := r.Reconcile(ctx); err != nil {
			logger.Warn("⚠️ [启动对账失败] %v", err)
		}
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("⏹️ 持仓对账协程已停止")
				return
			case <-ticker.C:
				if err := r.Reconcile(ctx); err != nil {
					logger.Error("❌ [对账失败] %v", err)
				}
			}
		}
	}()
	logger.Info("✅ 持仓对账已启动 (间隔: %v)", r.cfg.Interval)
}

// Reconcile 执行一次对账；其他实例正在对账时跳过
func (r *Reconciler) Reconcile(ctx context.Context) error {
	ok, err := r.lock.TryLock(ctx, reconcileLockKey, r.cfg.Interval)
	if err != nil {
		return fmt.Errorf("获取对账锁失败: %w", err)
	}
	if !ok {
		logger.Debug("⏳ [对账] 其他实例正在对账，跳过本次")
		metrics.GetPrometheusMetrics().RecordReconcile("skipped")
		return nil
	}
	defer func() {
		if err := r.lock.Unlock(context.Background(), reconcileLockKey); err != nil {
			logger.Warn("⚠️ 释放对账锁失败: %v", err)
		}
	}()

	err = r.reconcile(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.GetPrometheusMetrics().RecordReconcile(status)
	r.mu.Lock()
	r.lastErr = err
	if err == nil {
		r.lastSync = time.Now()
	}
	r.mu.Unlock()
	return err
}

func (r *Reconciler) reconcile(ctx context.Context) error {
	balances, err := r.trader.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("同步余额失败: %w", err)
	}
	current := r.store.Snapshot().Balances
	changed := make(map[string]decimal.Decimal)
	for asset, amount := range balances {
		if old, ok := current[asset]; !ok || !old.Equal(amount) {
			changed[asset] = amount
		}
	}
	r.store.RecordBalances(changed)

	trades, err := r.trader.ActiveTrades(ctx)
	if err != nil {
		return fmt.Errorf("同步持仓失败: %w", err)
	}
	remote := make(map[string]struct{}, len(trades))
	adopted := 0
	for _, t := range trades {
		p := toPosition(t, r.store.Quote())
		remote[p.Symbol] = struct{}{}
		if local, ok := r.store.Position(p.Symbol); ok && local.Side == p.Side {
			r.store.UpdatePrice(p.Symbol, p.CurrentPrice)
			continue
		}
		if _, err := r.store.Adopt(p); err != nil {
			logger.Warn("⚠️ 忽略交易引擎中的无效持仓 %s: %v", t.Symbol, err)
			continue
		}
		adopted++
	}

	removed := 0
	if r.cfg.MirrorPositions {
		for _, sym := range r.store.Symbols() {
			if _, ok := remote[sym]; ok {
				continue
			}
			if _, err := r.store.CloseExternal(sym); err == nil {
				removed++
			}
		}
	}

	logger.Debug("🔍 [对账完成] 余额变化 %d 个，接管持仓 %d 个，移除持仓 %d 个", len(changed), adopted, removed)
	return nil
}

// Status 上次成功对账时间和最近一次错误
func (r *Reconciler) Status() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSync, r.lastErr
}

// toPosition 交易引擎的交易对（BTCUSDT）按本地币种（BTC）登记
func toPosition(t trader.Trade, quote string) position.Position {
	side, ok := signals.ParseSide(t.Side)
	if !ok {
		side = signals.Long
	}
	return position.Position{
		Symbol:       position.NormalizeSymbol(t.Symbol, quote),
		Side:         side,
		EntryPrice:   t.EntryPrice,
		CurrentPrice: t.CurrentPrice,
		Size:         t.Size,
		Leverage:     t.Leverage,
		OpenedAt:     t.OpenedAt,
	}
}
