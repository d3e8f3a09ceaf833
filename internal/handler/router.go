package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"rulequery-go/internal/metrics"
	"rulequery-go/internal/middleware"
)

// RouterConfig 路由配置结构
type RouterConfig struct {
	QueryHandler  *QueryHandler
	RuleHandler   *RuleHandler
	HealthHandler *HealthHandler
	// AuthMiddleware 为nil时不注册管理接口
	AuthMiddleware *middleware.AuthMiddleware
	AdminRole      string
	Middleware     *middleware.MiddlewareConfig
	Metrics        *metrics.PrometheusMetrics
	MetricsPath    string
}

// NewRouter 创建gin引擎并注册全部路由
func NewRouter(cfg *RouterConfig) *gin.Engine {
	r := gin.New()
	SetupRoutes(r, cfg)
	return r
}

// SetupRoutes 配置所有API路由
func SetupRoutes(r *gin.Engine, cfg *RouterConfig) {
	mwCfg := cfg.Middleware
	if mwCfg == nil {
		mwCfg = middleware.DefaultMiddlewareConfig(nil)
	}
	var extra []gin.HandlerFunc
	if cfg.Metrics != nil {
		extra = append(extra, cfg.Metrics.HTTPMetricsMiddleware())
	}
	middleware.SetupMiddleware(r, mwCfg, extra...)

	v1 := r.Group("/api/v1")
	{
		setupPublicRoutes(v1, cfg)
		setupAdminRoutes(v1, cfg)
	}

	setupSystemRoutes(r, cfg)
}

// setupPublicRoutes 查询和规则浏览不需要认证
func setupPublicRoutes(rg *gin.RouterGroup, cfg *RouterConfig) {
	if cfg.QueryHandler != nil {
		query := rg.Group("/query")
		{
			query.POST("/resolve", cfg.QueryHandler.Resolve)
			query.GET("/suggest", cfg.QueryHandler.Suggest)
		}
	}
	if cfg.RuleHandler != nil {
		rg.GET("/rules", cfg.RuleHandler.ListRules)
		rg.GET("/rules/:id", cfg.RuleHandler.GetRule)
	}
}

// setupAdminRoutes 规则维护需要管理员令牌
func setupAdminRoutes(rg *gin.RouterGroup, cfg *RouterConfig) {
	if cfg.AuthMiddleware == nil || cfg.RuleHandler == nil {
		return
	}
	role := cfg.AdminRole
	if role == "" {
		role = "admin"
	}
	admin := rg.Group("/rules", cfg.AuthMiddleware.JWTAuth(), middleware.RequireRole(role))
	{
		admin.POST("/reload", cfg.RuleHandler.Reload)
		admin.PATCH("/:id/status", cfg.RuleHandler.UpdateStatus)
		admin.GET("/:id/revisions", cfg.RuleHandler.Revisions)
	}
}

// setupSystemRoutes 健康检查、版本和指标端点
func setupSystemRoutes(r *gin.Engine, cfg *RouterConfig) {
	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.Health)
		r.GET("/ready", cfg.HealthHandler.Ready)
		r.GET("/version", cfg.HealthHandler.Version)
	}
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, cfg.Metrics.GetMetricsHandler())
	}
}

func init() {
	// 拒绝未知字段，拼错的dry_run等字段直接报错
	binding.EnableDecoderDisallowUnknownFields = true
}
