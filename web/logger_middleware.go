package web

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"signaldesk/logger"
)

// GinLoggerMiddleware 写入 Web 访问日志
// logAll=true 时全量输出；否则仅记录错误请求 (状态码 >= 400)
func GinLoggerMiddleware(logAll bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		if !logAll && status < 400 {
			return
		}
		msg := fmt.Sprintf("[GIN] %d | %v | %s | %-7s %s",
			status, time.Since(start), c.ClientIP(), c.Request.Method, path)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			msg += " | Error: " + errs
		}
		logger.WriteWebLog(msg)
	}
}
