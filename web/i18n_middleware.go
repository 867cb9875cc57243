package web

import (
	"github.com/gin-gonic/gin"

	"signaldesk/i18n"
)

const languageKey = "language"

// I18nMiddleware 解析 Accept-Language 并写入上下文
func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(languageKey, i18n.MatchLanguage(c.GetHeader("Accept-Language")))
		c.Next()
	}
}

// GetLanguage 从上下文获取语言，未设置时使用系统语言
func GetLanguage(c *gin.Context) string {
	if lang, ok := c.Get(languageKey); ok {
		if l, ok := lang.(string); ok && l != "" {
			return l
		}
	}
	return i18n.GetSystemLanguage()
}
