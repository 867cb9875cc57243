package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signaldesk/logger"
	"signaldesk/utils"
)

// getSystemMetrics 进程资源占用，优先返回采集器缓存，没有缓存时实时采集一次
// GET /api/system/metrics
func (s *Server) getSystemMetrics(c *gin.Context) {
	if s.opts.SystemMetrics == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	latest := s.opts.SystemMetrics.Latest()
	if latest == nil {
		var err error
		if latest, err = s.opts.SystemMetrics.Collect(); err != nil {
			logger.Warn("⚠️ 实时采集系统指标失败: %v", err)
			respondError(c, http.StatusInternalServerError, "error.internal", nil)
			return
		}
	}
	out := *latest
	out.Timestamp = utils.ToConfiguredTimezone(out.Timestamp)
	c.JSON(http.StatusOK, gin.H{"enabled": true, "metrics": out, "clients": s.opts.Hub.ClientCount()})
}
