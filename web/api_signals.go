package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"signaldesk/ingest"
	"signaldesk/logger"
)

// ingestSignal 提交一条消息，按监听频道过滤后识别并开仓
// POST /api/signals/ingest {"channelId": "...", "text": "..."}
func (s *Server) ingestSignal(c *gin.Context) {
	var req struct {
		ChannelID string `json:"channelId"`
		Text      string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.opts.Pipeline.Process(req.ChannelID, req.Text)
	if err != nil {
		if errors.Is(err, ingest.ErrTextRequired) {
			respondError(c, http.StatusBadRequest, "error.text_required", nil)
			return
		}
		logger.Error("❌ 处理信号失败: %v", err)
		respondError(c, http.StatusInternalServerError, "error.internal", nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

// testSignal 试运行识别，不改变状态
// POST /api/signals/test {"text": "..."}
func (s *Server) testSignal(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Text == "" {
		respondError(c, http.StatusBadRequest, "error.text_required", nil)
		return
	}
	sig, ok := s.opts.Pipeline.Test(req.Text)
	c.JSON(http.StatusOK, gin.H{"matched": ok, "signal": sig})
}
