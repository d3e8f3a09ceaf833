package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rulequery-go/internal/service"
)

// HealthHandler 存活、就绪和版本端点
type HealthHandler struct {
	svc service.HealthServiceInterface
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(svc service.HealthServiceInterface) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// Health 存活检查，依赖异常时返回degraded但仍为200
func (h *HealthHandler) Health(c *gin.Context) {
	result := h.svc.CheckHealth(c.Request.Context())
	status := http.StatusOK
	if result.Status == service.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// Ready 就绪检查，任一组件不健康时返回503
func (h *HealthHandler) Ready(c *gin.Context) {
	result := h.svc.CheckReadiness(c.Request.Context())
	status := http.StatusOK
	if result.Status == service.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// Version 构建信息
func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetVersionInfo())
}
