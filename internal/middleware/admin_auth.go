package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"licensehub/backend/internal/domain"
)

// actorKey gin 上下文中存放操作者的键
const actorKey = "actor"

// Authenticator 验证管理端访问令牌并还原操作者
type Authenticator interface {
	Authenticate(token string) (*domain.Actor, error)
}

// AdminAuth 管理端认证中间件
type AdminAuth struct {
	auth   Authenticator
	logger *zap.Logger
}

// NewAdminAuth 创建管理端认证中间件
func NewAdminAuth(auth Authenticator, logger *zap.Logger) *AdminAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminAuth{auth: auth, logger: logger}
}

// RequireAuth 要求有效的管理端令牌，通过后把 Actor 注入上下文
func (aa *AdminAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := aa.extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		actor, err := aa.auth.Authenticate(token)
		if err != nil {
			aa.logger.Warn("invalid admin token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(actorKey, *actor)
		c.Next()
	}
}

// extractToken 从请求中提取访问令牌
func (aa *AdminAuth) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	token, err := c.Cookie("access_token")
	if err == nil && token != "" {
		return token
	}
	return ""
}

// ActorFromContext 取出认证中间件注入的操作者
func ActorFromContext(c *gin.Context) (domain.Actor, bool) {
	value, exists := c.Get(actorKey)
	if !exists {
		return domain.Actor{}, false
	}
	actor, ok := value.(domain.Actor)
	return actor, ok
}
