package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rulequery-go/internal/config"
)

// ContextKeyRequestID 请求ID在gin上下文中的键
const ContextKeyRequestID = "request_id"

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Logger    *zap.Logger
	RateLimit *RateLimitConfig
	CORS      *CORSConfig
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RequestsPerSecond int           // 每个客户端每秒请求数，<=0时关闭限流
	Burst             int           // 突发请求数
	IdleTTL           time.Duration // 客户端空闲多久后回收其限流器
}

// CORSConfig CORS配置
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int
}

// DefaultMiddlewareConfig 默认中间件配置
func DefaultMiddlewareConfig(logger *zap.Logger) *MiddlewareConfig {
	return &MiddlewareConfig{
		Logger: logger,
		RateLimit: &RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			IdleTTL:           5 * time.Minute,
		},
		CORS: &CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
			MaxAge:       86400,
		},
	}
}

// MiddlewareConfigFromServer 按服务配置覆盖限流和CORS
func MiddlewareConfigFromServer(server *config.ServerConfig, logger *zap.Logger) *MiddlewareConfig {
	cfg := DefaultMiddlewareConfig(logger)
	if server == nil {
		return cfg
	}
	cfg.RateLimit.RequestsPerSecond = server.RateLimitRPS
	cfg.RateLimit.Burst = server.RateLimitBurst
	if len(server.CORSOrigins) > 0 {
		cfg.CORS.AllowOrigins = server.CORSOrigins
	}
	return cfg
}

// SetupMiddleware 按顺序挂载全局中间件，extra挂在最后（例如指标中间件）
func SetupMiddleware(r *gin.Engine, cfg *MiddlewareConfig, extra ...gin.HandlerFunc) *RateLimiter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r.Use(RequestIDMiddleware())
	r.Use(StructuredLogger(logger))
	r.Use(RecoveryMiddleware(logger))
	r.Use(SecurityHeaders())
	r.Use(CORSMiddleware(cfg.CORS))

	var limiter *RateLimiter
	if cfg.RateLimit != nil && cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = NewRateLimiter(cfg.RateLimit)
		r.Use(limiter.Middleware())
	}
	r.Use(extra...)
	return limiter
}

// RecoveryMiddleware 捕获panic并记录日志
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error("Request panic recovered",
			zap.Any("panic", recovered),
			zap.String("request_id", c.GetString(ContextKeyRequestID)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("remote_addr", c.ClientIP()),
		)

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code":       "INTERNAL_ERROR",
			"message":    "服务器内部错误",
			"request_id": c.GetString(ContextKeyRequestID),
		})
	})
}

// StructuredLogger 每个请求一条zap日志，5xx记为Error，4xx记为Warn
func StructuredLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", c.GetString(ContextKeyRequestID)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("HTTP Request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("HTTP Request", fields...)
		default:
			logger.Info("HTTP Request", fields...)
		}
	}
}

// SecurityHeaders 基础安全响应头
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// CORSMiddleware 处理跨域请求和预检请求
func CORSMiddleware(cfg *CORSConfig) gin.HandlerFunc {
	if cfg == nil {
		cfg = DefaultMiddlewareConfig(nil).CORS
	}
	allowAll := len(cfg.AllowOrigins) > 0 && cfg.AllowOrigins[0] == "*"
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || contains(cfg.AllowOrigins, origin)) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Expose-Headers", "X-Request-ID")
			if cfg.MaxAge > 0 {
				c.Header("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端IP限流，空闲超过IdleTTL的限流器会被回收
type RateLimiter struct {
	mu          sync.Mutex
	clients     map[string]*clientLimiter
	rate        rate.Limit
	burst       int
	idleTTL     time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

// NewRateLimiter 创建限流器实例
func NewRateLimiter(cfg *RateLimitConfig) *RateLimiter {
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerSecond
	}
	return &RateLimiter{
		clients:     make(map[string]*clientLimiter),
		rate:        rate.Limit(cfg.RequestsPerSecond),
		burst:       burst,
		idleTTL:     idle,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow 检查key是否还有配额
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	now := rl.now()
	if now.Sub(rl.lastCleanup) >= rl.idleTTL {
		for k, cl := range rl.clients {
			if now.Sub(cl.lastSeen) >= rl.idleTTL {
				delete(rl.clients, k)
			}
		}
		rl.lastCleanup = now
	}
	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = now
	rl.mu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

// Len 当前跟踪的客户端数
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware 限流中间件
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMIT_EXCEEDED",
				"message": "请求频率超过限制，请稍后重试",
			})
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware 透传或生成X-Request-ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
