package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rulequery-go/internal/engine"
	"rulequery-go/internal/middleware"
	"rulequery-go/internal/repository"
	"rulequery-go/internal/service"
)

// ErrorResponse 统一错误响应格式
type ErrorResponse struct {
	Code      string `json:"code" example:"INVALID_REQUEST"`
	Message   string `json:"message" example:"请求参数格式错误"`
	Details   string `json:"details,omitempty" example:"validation failed"`
	RuleID    int64  `json:"rule_id,omitempty" example:"101"`
	Timestamp string `json:"timestamp" example:"2025-01-08T12:00:00Z"`
	RequestID string `json:"request_id,omitempty"`

	// 参数转换失败时填写
	Parameter string            `json:"parameter,omitempty" example:"rate"`
	Raw       string            `json:"raw,omitempty" example:"abc"`
	Extracted map[string]string `json:"extracted,omitempty"`

	// 规则冲突时填写
	RuleIDs []int64 `json:"rule_ids,omitempty"`
}

// respondWithError 写入错误响应
func respondWithError(c *gin.Context, status int, code, message string, err error) {
	resp := &ErrorResponse{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: c.GetString(middleware.ContextKeyRequestID),
	}
	if err != nil {
		resp.Details = err.Error()
		_ = c.Error(err)
	}
	var (
		execErr   *service.ExecutionError
		invalid   *engine.InvalidParameterError
		ambiguous *engine.AmbiguousMatchError
	)
	switch {
	case errors.As(err, &execErr):
		resp.RuleID = execErr.RuleID
	case errors.As(err, &invalid):
		resp.RuleID = invalid.RuleID
		resp.Parameter = invalid.Parameter
		resp.Raw = invalid.Raw
		resp.Extracted = invalid.Extracted
	case errors.As(err, &ambiguous):
		resp.RuleIDs = ambiguous.RuleIDs
	}
	c.AbortWithStatusJSON(status, resp)
}

// respondWithServiceError 按错误类型映射HTTP状态码
func respondWithServiceError(c *gin.Context, err error) {
	var execErr *service.ExecutionError
	switch {
	case errors.As(err, &execErr):
		respondWithError(c, http.StatusBadGateway, "EXECUTION_FAILED", "数据源查询执行失败", err)
	case errors.Is(err, engine.ErrAmbiguousMatch):
		respondWithError(c, http.StatusInternalServerError, "AMBIGUOUS_RULES", "规则配置冲突，无法确定匹配规则", err)
	case errors.Is(err, engine.ErrInvalidParameter):
		respondWithError(c, http.StatusUnprocessableEntity, "INVALID_PARAMETER", "查询参数无法转换", err)
	default:
		respondWithStoreError(c, err)
	}
}

// respondWithStoreError 规则存储错误
func respondWithStoreError(c *gin.Context, err error) {
	switch repository.Kind(err) {
	case repository.KindNotFound:
		respondWithError(c, http.StatusNotFound, "NOT_FOUND", "规则不存在", err)
	case repository.KindInvalid:
		respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "请求参数无效", err)
	case repository.KindDuplicate:
		respondWithError(c, http.StatusConflict, "DUPLICATE_RULE", "规则ID已存在", err)
	case repository.KindTimeout:
		respondWithError(c, http.StatusGatewayTimeout, "TIMEOUT", "请求处理超时", err)
	case repository.KindUnavailable:
		respondWithError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "规则存储不可用", err)
	default:
		respondWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "服务器内部错误", err)
	}
}
