package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"signaldesk/ingest"
	"signaldesk/logger"
	"signaldesk/metrics"
	"signaldesk/position"
	"signaldesk/trader"
)

// closeLockTTL 平仓锁的最长持有时间，超过后自动释放
const closeLockTTL = 30 * time.Second

// getBotStatus 交易引擎中的余额和持仓
// GET /api/bot/status
func (s *Server) getBotStatus(c *gin.Context) {
	ctx := c.Request.Context()
	balances, err := s.opts.Trader.GetBalances(ctx)
	if err != nil {
		respondTraderError(c, err, "")
		return
	}
	trades, err := s.opts.Trader.ActiveTrades(ctx)
	if err != nil {
		respondTraderError(c, err, "")
		return
	}
	if trades == nil {
		trades = []trader.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "active",
		"balances":   balances,
		"positions":  trades,
		"lastUpdate": time.Now().UTC(),
	})
}

// closePosition 通过交易引擎平仓，成功后同步关闭本地持仓
// POST /api/bot/close-position {"token": "BTC"}
func (s *Server) closePosition(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	symbol := position.NormalizeSymbol(req.Token, s.opts.Store.Quote())
	if symbol == "" {
		respondError(c, http.StatusBadRequest, "error.missing_token", nil)
		return
	}

	key := "close:" + symbol
	ok, err := s.opts.Lock.TryLock(c.Request.Context(), key, closeLockTTL)
	if err != nil {
		logger.Error("❌ 获取平仓锁失败: %v", err)
		respondError(c, http.StatusInternalServerError, "error.internal", nil)
		return
	}
	if !ok {
		metrics.GetPrometheusMetrics().RecordLockConflict("close")
		respondError(c, http.StatusConflict, "error.close_in_progress", map[string]interface{}{"Symbol": symbol})
		return
	}
	defer func() {
		if err := s.opts.Lock.Unlock(context.Background(), key); err != nil {
			logger.Warn("⚠️ 释放平仓锁失败: %v", err)
		}
	}()

	res, err := s.opts.Trader.ClosePosition(c.Request.Context(), symbol)
	if err != nil {
		logger.Warn("⚠️ [平仓失败] %s: %v", symbol, err)
		respondTraderError(c, err, symbol)
		return
	}
	if _, open := s.opts.Store.Position(symbol); open {
		if _, err := s.opts.Store.ClosePosition(symbol); err != nil {
			logger.Warn("⚠️ 关闭本地持仓 %s 失败: %v", symbol, err)
		}
		metrics.GetPrometheusMetrics().SetOpenPositions(s.opts.Store.OpenCount())
	}
	logger.Info("✅ [平仓] %s: %s", symbol, res.Status)
	c.JSON(http.StatusOK, res)
}

// runBacktest 校验并运行回测
// POST /api/bot/backtest
func (s *Server) runBacktest(c *gin.Context) {
	var cfg trader.BacktestConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	res, err := s.opts.Trader.RunBacktest(c.Request.Context(), cfg)
	if err != nil {
		var ve *trader.ValidationError
		status := http.StatusBadGateway
		switch {
		case errors.As(err, &ve):
			status = http.StatusBadRequest
		case !errors.Is(err, trader.ErrConnectivity):
			var execErr *trader.ExecutionError
			if !errors.As(err, &execErr) {
				status = http.StatusInternalServerError
			}
		}
		c.JSON(status, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "results": res})
}

type channelRequest struct {
	ChannelID string `json:"channelId" form:"channelId"`
}

// listChannels 监听的频道
// GET /api/bot/channels
func (s *Server) listChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": s.opts.Pipeline.Channels().List()})
}

// addChannel 添加监听频道并写入配置
// POST /api/bot/channels {"channelId": "..."}
func (s *Server) addChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	channels, err := s.opts.Pipeline.Channels().Add(req.ChannelID)
	if err != nil {
		respondChannelError(c, err, req.ChannelID)
		return
	}
	logger.Info("✅ 已添加监听频道: %s", strings.TrimSpace(req.ChannelID))
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// removeChannel 移除监听频道，channelId 可以放在请求体或查询参数中
// DELETE /api/bot/channels {"channelId": "..."}
func (s *Server) removeChannel(c *gin.Context) {
	var req channelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.ChannelID == "" {
		req.ChannelID = c.Query("channelId")
	}
	channels, err := s.opts.Pipeline.Channels().Remove(req.ChannelID)
	if err != nil {
		respondChannelError(c, err, req.ChannelID)
		return
	}
	logger.Info("✅ 已移除监听频道: %s", strings.TrimSpace(req.ChannelID))
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func respondChannelError(c *gin.Context, err error, channel string) {
	switch {
	case errors.Is(err, ingest.ErrChannelRequired):
		respondError(c, http.StatusBadRequest, "error.channel_required", nil)
	case errors.Is(err, ingest.ErrChannelNotFound):
		respondError(c, http.StatusNotFound, "error.channel_not_found", map[string]interface{}{"Channel": channel})
	default:
		logger.Error("❌ %v", err)
		respondError(c, http.StatusInternalServerError, "error.config_save_failed", map[string]interface{}{"Reason": err.Error()})
	}
}
