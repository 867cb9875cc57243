package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"signaldesk/i18n"
	"signaldesk/trader"
)

func init() {
	// 仪表盘按数字处理价格和余额
	decimal.MarshalJSONWithoutQuotes = true
}

// respondError 按请求语言返回 {"error": 本地化消息}
func respondError(c *gin.Context, status int, key string, data map[string]interface{}) {
	c.JSON(status, gin.H{"error": i18n.TWithLang(GetLanguage(c), key, data)})
}

// respondTraderError 交易引擎错误映射为 HTTP 状态码
func respondTraderError(c *gin.Context, err error, symbol string) {
	var execErr *trader.ExecutionError
	switch {
	case errors.Is(err, trader.ErrPositionNotFound):
		respondError(c, http.StatusNotFound, "error.position_not_found", map[string]interface{}{"Symbol": symbol})
	case errors.Is(err, trader.ErrConnectivity):
		respondError(c, http.StatusBadGateway, "error.trader_unavailable", map[string]interface{}{"Reason": err.Error()})
	case errors.As(err, &execErr):
		respondError(c, http.StatusBadGateway, "error.trader_failed", map[string]interface{}{"Reason": execErr.Message})
	default:
		respondError(c, http.StatusInternalServerError, "error.internal", nil)
	}
}

func badRequest(c *gin.Context, err error) {
	respondError(c, http.StatusBadRequest, "error.bad_request", map[string]interface{}{"Reason": err.Error()})
}
