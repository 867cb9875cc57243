package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"signaldesk/signals"
)

// listPatterns 识别规则，按优先级排序
// GET /api/bot/patterns
func (s *Server) listPatterns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"patterns": s.opts.Patterns.List()})
}

// addPattern 添加识别规则，默认启用
// POST /api/bot/patterns {"name": "...", "expression": "..."}
func (s *Server) addPattern(c *gin.Context) {
	var req struct {
		Name       string `json:"name"`
		Expression string `json:"expression"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := s.opts.Patterns.Add(req.Name, req.Expression)
	if err != nil {
		s.respondPatternError(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"pattern": p})
}

// replacePatterns 整体替换识别规则，任一无效时不做修改
// PUT /api/bot/patterns {"patterns": [...]}
func (s *Server) replacePatterns(c *gin.Context) {
	var req struct {
		Patterns []signals.Pattern `json:"patterns"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	patterns, err := s.opts.Patterns.Replace(req.Patterns)
	if err != nil {
		s.respondPatternError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns})
}

// togglePattern 切换规则启用状态
// POST /api/bot/patterns/:id/toggle
func (s *Server) togglePattern(c *gin.Context) {
	p, err := s.opts.Patterns.Toggle(c.Param("id"))
	if err != nil {
		s.respondPatternError(c, err, c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"pattern": p})
}

// removePattern 删除规则
// DELETE /api/bot/patterns/:id
func (s *Server) removePattern(c *gin.Context) {
	if err := s.opts.Patterns.Remove(c.Param("id")); err != nil {
		s.respondPatternError(c, err, c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) respondPatternError(c *gin.Context, err error, id string) {
	switch {
	case errors.Is(err, signals.ErrNotFound):
		respondError(c, http.StatusNotFound, "error.pattern_not_found", map[string]interface{}{"ID": id})
	case errors.Is(err, signals.ErrInvalidPattern):
		respondError(c, http.StatusBadRequest, "error.invalid_pattern", map[string]interface{}{"Reason": err.Error()})
	default:
		respondError(c, http.StatusInternalServerError, "error.internal", nil)
	}
}
