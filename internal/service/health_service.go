package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rulequery-go/internal/config"
	"rulequery-go/internal/rules"
)

// HealthChecker 可做健康检查的依赖，数据库管理器和规则存储都满足
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SnapshotProvider 提供当前规则快照
type SnapshotProvider interface {
	Snapshot() *rules.Snapshot
}

// HealthServiceInterface 健康检查服务接口，用于支持测试和依赖注入
type HealthServiceInterface interface {
	CheckHealth(ctx context.Context) *HealthCheckResult
	CheckReadiness(ctx context.Context) *ReadinessResult
	GetVersionInfo() map[string]any
}

// HealthService 健康检查服务
type HealthService struct {
	rules       SnapshotProvider
	datastore   HealthChecker
	redisClient redis.UniversalClient
	appInfo     *config.AppInfo
	logger      *zap.Logger
}

// NewHealthService 创建健康检查服务，datastore和redisClient可以为nil
func NewHealthService(
	ruleRepo SnapshotProvider,
	datastore HealthChecker,
	redisClient redis.UniversalClient,
	appInfo *config.AppInfo,
	logger *zap.Logger,
) *HealthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if appInfo == nil {
		appInfo = config.DefaultAppInfo()
	}
	return &HealthService{
		rules:       ruleRepo,
		datastore:   datastore,
		redisClient: redisClient,
		appInfo:     appInfo,
		logger:      logger,
	}
}

// HealthStatus 健康状态枚举
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// ComponentStatus 组件状态
type ComponentStatus struct {
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  string         `json:"duration,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthCheckResult 健康检查结果
type HealthCheckResult struct {
	Status      HealthStatus               `json:"status"`
	Timestamp   time.Time                  `json:"timestamp"`
	Service     string                     `json:"service"`
	Version     string                     `json:"version"`
	Environment string                     `json:"environment"`
	Components  map[string]ComponentStatus `json:"components"`
	BuildInfo   map[string]any             `json:"build_info,omitempty"`
}

// ReadinessResult 就绪检查结果
type ReadinessResult struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentStatus `json:"components"`
}

// CheckHealth 存活检查，依赖异常只降级
func (h *HealthService) CheckHealth(ctx context.Context) *HealthCheckResult {
	components := h.collect(ctx)
	overall := HealthStatusHealthy
	for _, c := range components {
		if c.Status != HealthStatusHealthy {
			overall = HealthStatusDegraded
		}
	}

	return &HealthCheckResult{
		Status:      overall,
		Timestamp:   time.Now(),
		Service:     h.appInfo.Name,
		Version:     h.appInfo.Version,
		Environment: h.appInfo.Environment,
		Components:  components,
		BuildInfo:   h.appInfo.GetBuildInfo(),
	}
}

// CheckReadiness 就绪检查，规则为空或任一依赖不可用都不就绪
func (h *HealthService) CheckReadiness(ctx context.Context) *ReadinessResult {
	components := h.collect(ctx)
	overall := HealthStatusHealthy
	for _, c := range components {
		if c.Status == HealthStatusUnhealthy {
			overall = HealthStatusUnhealthy
		}
	}
	return &ReadinessResult{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: components,
	}
}

func (h *HealthService) collect(ctx context.Context) map[string]ComponentStatus {
	components := map[string]ComponentStatus{
		"rules": h.checkRules(),
	}
	if h.datastore != nil {
		components["datastore"] = h.checkDatastore(ctx)
	}
	if h.redisClient != nil {
		components["redis"] = h.checkRedis(ctx)
	}
	return components
}

// checkRules 没有启用的规则时任何查询都无法命中
func (h *HealthService) checkRules() ComponentStatus {
	if h.rules == nil {
		return ComponentStatus{
			Status:    HealthStatusUnhealthy,
			Message:   "规则仓库未配置",
			Timestamp: time.Now(),
		}
	}
	snap := h.rules.Snapshot()
	if snap == nil || snap.ActiveLen() == 0 {
		return ComponentStatus{
			Status:    HealthStatusUnhealthy,
			Message:   "没有启用的规则",
			Timestamp: time.Now(),
		}
	}
	return ComponentStatus{
		Status:    HealthStatusHealthy,
		Message:   "规则已加载",
		Timestamp: time.Now(),
		Details: map[string]any{
			"version":   snap.Version,
			"source":    snap.Source,
			"total":     snap.Len(),
			"active":    snap.ActiveLen(),
			"loaded_at": snap.LoadedAt,
		},
	}
}

// checkDatastore 检查业务数据源
func (h *HealthService) checkDatastore(ctx context.Context) ComponentStatus {
	start := time.Now()

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := h.datastore.HealthCheck(timeoutCtx)
	duration := time.Since(start)

	if err != nil {
		h.logger.Error("Datastore health check failed", zap.Error(err))
		return ComponentStatus{
			Status:    HealthStatusUnhealthy,
			Message:   fmt.Sprintf("数据源连接失败: %v", err),
			Timestamp: time.Now(),
			Duration:  duration.String(),
		}
	}

	status := HealthStatusHealthy
	message := "数据源连接正常"
	if duration > 2*time.Second {
		status = HealthStatusDegraded
		message = "数据源响应较慢"
	}
	return ComponentStatus{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  duration.String(),
	}
}

// checkRedis 检查重载通知使用的Redis
func (h *HealthService) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()

	timeoutCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err := h.redisClient.Ping(timeoutCtx).Err()
	duration := time.Since(start)

	if err != nil {
		h.logger.Error("Redis health check failed", zap.Error(err))
		return ComponentStatus{
			Status:    HealthStatusUnhealthy,
			Message:   fmt.Sprintf("Redis连接失败: %v", err),
			Timestamp: time.Now(),
			Duration:  duration.String(),
		}
	}

	status := HealthStatusHealthy
	message := "Redis连接正常"
	if duration > time.Second {
		status = HealthStatusDegraded
		message = "Redis响应较慢"
	}
	return ComponentStatus{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  duration.String(),
	}
}

// GetVersionInfo 获取版本信息
func (h *HealthService) GetVersionInfo() map[string]any {
	return h.appInfo.GetBuildInfo()
}
