package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// authEnabled 配置了密码哈希时才需要登录
func (s *Server) authEnabled() bool {
	return s.opts.PasswordHash != ""
}

// authMiddleware 认证中间件
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authEnabled() {
			c.Next()
			return
		}
		session, ok := s.sessions.GetSessionFromRequest(c.Request)
		if !ok {
			respondError(c, http.StatusUnauthorized, "error.unauthorized", nil)
			c.Abort()
			return
		}
		c.Set("session", session)
		c.Next()
	}
}

// login 密码登录
// POST /api/auth/login
func (s *Server) login(c *gin.Context) {
	if !s.authEnabled() {
		respondError(c, http.StatusBadRequest, "error.auth_not_configured", nil)
		return
	}
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.opts.PasswordHash), []byte(req.Password)); err != nil {
		respondError(c, http.StatusUnauthorized, "error.invalid_password", nil)
		return
	}
	session, err := s.sessions.CreateSession(c.ClientIP())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "error.internal", nil)
		return
	}
	s.sessions.SetSessionCookie(c.Writer, session.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "expiresAt": session.ExpiresAt})
}

// logout 退出登录
// POST /api/auth/logout
func (s *Server) logout(c *gin.Context) {
	if session, ok := s.sessions.GetSessionFromRequest(c.Request); ok {
		s.sessions.DeleteSession(session.ID)
	}
	s.sessions.ClearSessionCookie(c.Writer)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// getAuthStatus 登录状态
// GET /api/auth/status
func (s *Server) getAuthStatus(c *gin.Context) {
	authenticated := !s.authEnabled()
	if !authenticated {
		_, authenticated = s.sessions.GetSessionFromRequest(c.Request)
	}
	c.JSON(http.StatusOK, gin.H{
		"authRequired":    s.authEnabled(),
		"isAuthenticated": authenticated,
	})
}
