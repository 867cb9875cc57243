package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// 信号指标
	signalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaldesk_signal_total",
			Help: "Number of ingested messages by outcome (matched, unmatched, rejected, ignored)",
		},
		[]string{"result"},
	)

	signalByPattern = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaldesk_signal_pattern_total",
			Help: "Number of extracted signals per pattern",
		},
		[]string{"pattern"},
	)

	// 持仓指标
	positionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaldesk_positions_open",
			Help: "Number of open positions held in memory",
		},
	)

	tradesClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaldesk_trades_closed_total",
			Help: "Number of closed trades by reason",
		},
		[]string{"reason"},
	)

	winRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaldesk_win_rate",
			Help: "Win rate percentage over the retained closed-trade window (0-100)",
		},
	)

	totalPnL = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaldesk_pnl_percent_total",
			Help: "Sum of realized pnl percentages over the retained window",
		},
	)

	balance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "signaldesk_balance",
			Help: "Latest balance per tracked asset",
		},
		[]string{"asset"},
	)

	// 推送指标
	eventTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaldesk_event_total",
			Help: "Number of state-change events published",
		},
		[]string{"kind"},
	)

	eventDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaldesk_event_dropped_total",
			Help: "Number of events discarded because a subscriber buffer was full",
		},
		[]string{"topic"},
	)

	wsClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaldesk_websocket_clients",
			Help: "Number of connected push-channel clients",
		},
	)

	// 交易引擎调用指标
	traderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signaldesk_trader_call_duration_seconds",
			Help:    "Trading engine call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"op", "status"},
	)

	reconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaldesk_reconcile_total",
			Help: "Number of reconciliation runs by status",
		},
		[]string{"status"},
	)

	lockConflict = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaldesk_lock_conflict_total",
			Help: "Number of lock acquisitions refused because the lock was held",
		},
		[]string{"key"},
	)

	// 进程指标
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaldesk_goroutines",
			Help: "Number of goroutines",
		},
	)

	memoryAlloc = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaldesk_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	processCPU = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaldesk_process_cpu_percent",
			Help: "Process CPU usage percentage",
		},
	)

	processRSS = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaldesk_process_rss_bytes",
			Help: "Process resident set size in bytes",
		},
	)
)

// PrometheusMetrics Prometheus 指标入口
type PrometheusMetrics struct{}

var instance *PrometheusMetrics

// GetPrometheusMetrics 获取全局指标实例
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		instance = &PrometheusMetrics{}
	})
	return instance
}

// RecordSignal 记录一条消息的处理结果
func (pm *PrometheusMetrics) RecordSignal(result string) {
	signalTotal.WithLabelValues(result).Inc()
}

// RecordPatternMatch 记录命中的识别规则
func (pm *PrometheusMetrics) RecordPatternMatch(pattern string) {
	signalByPattern.WithLabelValues(pattern).Inc()
}

// SetOpenPositions 设置当前持仓数
func (pm *PrometheusMetrics) SetOpenPositions(n int) {
	positionsOpen.Set(float64(n))
}

// RecordTradeClosed 记录平仓
func (pm *PrometheusMetrics) RecordTradeClosed(reason string) {
	tradesClosed.WithLabelValues(reason).Inc()
}

// SetTradeStats 设置胜率和累计盈亏
func (pm *PrometheusMetrics) SetTradeStats(rate, pnl float64) {
	winRate.Set(rate)
	totalPnL.Set(pnl)
}

// SetBalance 设置资产余额
func (pm *PrometheusMetrics) SetBalance(asset string, amount float64) {
	balance.WithLabelValues(asset).Set(amount)
}

// RecordEvent 记录发布的事件
func (pm *PrometheusMetrics) RecordEvent(kind string) {
	eventTotal.WithLabelValues(kind).Inc()
}

// RecordEventDropped 记录被丢弃的事件
func (pm *PrometheusMetrics) RecordEventDropped(topic string) {
	eventDropped.WithLabelValues(topic).Inc()
}

// SetWebSocketClients 设置推送连接数
func (pm *PrometheusMetrics) SetWebSocketClients(n int) {
	wsClients.Set(float64(n))
}

// RecordTraderCall 记录交易引擎调用耗时
func (pm *PrometheusMetrics) RecordTraderCall(op, status string, duration time.Duration) {
	traderCallDuration.WithLabelValues(op, status).Observe(duration.Seconds())
}

// RecordReconcile 记录对账结果
func (pm *PrometheusMetrics) RecordReconcile(status string) {
	reconcileTotal.WithLabelValues(status).Inc()
}

// RecordLockConflict 记录锁冲突
func (pm *PrometheusMetrics) RecordLockConflict(key string) {
	lockConflict.WithLabelValues(key).Inc()
}

// SetGoroutineCount 设置协程数
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 设置堆内存占用
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAlloc.Set(float64(bytes))
}

// SetProcessResources 设置进程 CPU 和内存
func (pm *PrometheusMetrics) SetProcessResources(cpuPercent float64, rssBytes uint64) {
	processCPU.Set(cpuPercent)
	processRSS.Set(float64(rssBytes))
}
