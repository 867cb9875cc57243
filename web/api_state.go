package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"signaldesk/database"
	"signaldesk/storage"
)

// getPositions 当前持仓
// GET /api/positions
func (s *Server) getPositions(c *gin.Context) {
	snap := s.opts.Store.Snapshot()
	c.JSON(http.StatusOK, gin.H{"positions": snap.Positions})
}

// getBalances 各账户余额，配置中跟踪的账户没有数据时为 0
// GET /api/balances
func (s *Server) getBalances(c *gin.Context) {
	balances := make(map[string]decimal.Decimal, len(s.opts.TrackedAccounts))
	for _, acc := range s.opts.TrackedAccounts {
		balances[acc] = decimal.Zero
	}
	for asset, amount := range s.opts.Store.Snapshot().Balances {
		balances[asset] = amount
	}
	c.JSON(http.StatusOK, balances)
}

// getAnalytics 仪表盘分析数据
// GET /api/analytics
func (s *Server) getAnalytics(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Store.Analytics())
}

// getTradeHistory 已平仓交易。数据库未启用时返回内存中的最近记录
// GET /api/trades/history?symbol=BTC&limit=50&offset=0
func (s *Server) getTradeHistory(c *gin.Context) {
	limit, offset := pagination(c, 50, 500)
	if s.opts.Database == nil {
		c.JSON(http.StatusOK, gin.H{"trades": s.opts.Store.History(limit), "source": "memory"})
		return
	}
	filter := &database.TradeFilter{
		Symbol: strings.ToUpper(c.Query("symbol")),
		Limit:  limit,
		Offset: offset,
	}
	if t, ok := parseTime(c, "start_time"); ok {
		filter.StartTime = &t
	}
	if t, ok := parseTime(c, "end_time"); ok {
		filter.EndTime = &t
	}
	trades, err := s.opts.Database.GetTrades(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "error.internal", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "source": "database"})
}

// getEvents 事件记录
// GET /api/events?kind=position_closed&limit=100
func (s *Server) getEvents(c *gin.Context) {
	if s.opts.Database == nil {
		respondError(c, http.StatusServiceUnavailable, "error.database_disabled", nil)
		return
	}
	limit, offset := pagination(c, 100, 1000)
	events, err := s.opts.Database.GetEvents(c.Request.Context(), &database.EventFilter{
		Kind:   c.Query("kind"),
		Topic:  c.Query("topic"),
		Symbol: strings.ToUpper(c.Query("symbol")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "error.internal", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// getLogs 查询系统日志
// GET /api/logs?level=ERROR&keyword=xxx&afterId=120&limit=100&offset=0
func (s *Server) getLogs(c *gin.Context) {
	if s.opts.Logs == nil {
		respondError(c, http.StatusServiceUnavailable, "error.storage_disabled", nil)
		return
	}
	limit, offset := pagination(c, 100, 1000)
	params := storage.LogQueryParams{
		Level:   strings.ToUpper(c.Query("level")),
		Keyword: c.Query("keyword"),
		Limit:   limit,
		Offset:  offset,
	}
	if t, ok := parseTime(c, "start_time"); ok {
		params.StartTime = t
	}
	if t, ok := parseTime(c, "end_time"); ok {
		params.EndTime = t
	}
	if id, err := strconv.ParseInt(c.Query("afterId"), 10, 64); err == nil && id > 0 {
		params.AfterID = id
	}
	logs, total, err := s.opts.Logs.GetLogs(params)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "error.internal", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": total, "limit": limit, "offset": offset})
}

// getReconciliationStatus 最近一次对账结果
// GET /api/reconciliation/status
func (s *Server) getReconciliationStatus(c *gin.Context) {
	if s.opts.Reconciler == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	lastSync, err := s.opts.Reconciler.Status()
	resp := gin.H{"enabled": true, "openPositions": s.opts.Store.OpenCount()}
	if !lastSync.IsZero() {
		resp["lastSync"] = lastSync
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func pagination(c *gin.Context, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	offset := 0
	if o, err := strconv.Atoi(c.Query("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

// parseTime 解析 RFC3339 查询参数，格式错误时忽略
func parseTime(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
