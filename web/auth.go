package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// authMiddleware 口令鉴权：请求携带 Authorization: Bearer <口令>，
// 与配置中的 bcrypt 哈希比对。未配置哈希时跳过鉴权。
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		hash := s.cfg.Web.PasswordBcrypt
		if hash == "" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			// websocket 客户端无法自定义 header 时允许 query 传递
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "缺少鉴权口令"})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "口令错误"})
			return
		}
		c.Next()
	}
}
