package middleware

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rulequery-go/internal/auth"
)

// 上下文键
const (
	ContextKeySubject = "auth_subject"
	ContextKeyRole    = "auth_role"
	ContextKeyClaims  = "auth_claims"
)

// AuthMiddleware JWT认证中间件，保护规则管理接口
type AuthMiddleware struct {
	jwtService *auth.JWTService
	logger     *zap.Logger
}

// NewAuthMiddleware 创建认证中间件实例
func NewAuthMiddleware(jwtService *auth.JWTService, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		jwtService: jwtService,
		logger:     logger,
	}
}

// JWTAuth 校验Bearer令牌并把操作人写入上下文
func (am *AuthMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := am.jwtService.ValidateTokenFromRequest(c.GetHeader("Authorization"))
		if err != nil {
			am.logger.Warn("JWT validation failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()))

			code, message := "INVALID_TOKEN", "无效的访问令牌"
			if errors.Is(err, auth.ErrMissingHeader) {
				code, message = "MISSING_AUTH_HEADER", "缺少授权头"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    code,
				"message": message,
			})
			return
		}

		c.Set(ContextKeySubject, claims.Subject)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyClaims, claims)

		am.logger.Debug("JWT authentication successful",
			zap.String("subject", claims.Subject),
			zap.String("role", claims.Role))
		c.Next()
	}
}

// RequireRole 要求令牌角色属于给定集合，需在JWTAuth之后使用
func RequireRole(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextKeyRole)
		if role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "MISSING_ROLE",
				"message": "用户角色信息缺失",
			})
			return
		}
		if !slices.Contains(requiredRoles, role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":           "INSUFFICIENT_PERMISSIONS",
				"message":        "权限不足",
				"required_roles": requiredRoles,
			})
			return
		}
		c.Next()
	}
}

// GetSubjectFromContext 当前操作人
func GetSubjectFromContext(c *gin.Context) (string, bool) {
	subject := c.GetString(ContextKeySubject)
	return subject, subject != ""
}

// GetClaimsFromContext 完整的令牌Claims
func GetClaimsFromContext(c *gin.Context) (*auth.AdminClaims, bool) {
	v, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*auth.AdminClaims)
	return claims, ok
}
