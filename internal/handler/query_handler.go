package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rulequery-go/internal/engine"
	"rulequery-go/internal/middleware"
	"rulequery-go/internal/service"
)

// Resolver 查询解析服务，由service.ResolveService实现
type Resolver interface {
	Resolve(ctx context.Context, query string) (*service.Response, error)
	Plan(ctx context.Context, query string) (*service.Response, error)
	Suggest(query string, n int) []engine.Suggestion
}

var _ Resolver = (*service.ResolveService)(nil)

// QueryHandler 查询解析处理器
type QueryHandler struct {
	resolver Resolver
	logger   *zap.Logger
}

// NewQueryHandler 创建查询处理器实例
func NewQueryHandler(resolver Resolver, logger *zap.Logger) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryHandler{resolver: resolver, logger: logger}
}

// ResolveRequest 查询解析请求
type ResolveRequest struct {
	Query string `json:"query" binding:"max=500" example:"查询BOE供应商的库存"`
	// DryRun 只返回绑定后的查询，不访问数据源
	DryRun bool `json:"dry_run,omitempty" example:"false"`
}

// SuggestParams 相似规则推荐参数
type SuggestParams struct {
	Query string `form:"q" binding:"max=500" example:"库存"`
	Limit int    `form:"limit,default=5" binding:"min=1,max=20" example:"5"`
}

// SuggestResponse 推荐结果
type SuggestResponse struct {
	Query       string              `json:"query"`
	Suggestions []engine.Suggestion `json:"suggestions"`
}

// Resolve 解析自然语言查询
// @Summary 规则查询解析
// @Description 按规则库匹配查询意图，绑定参数后执行并整理结果
// @Tags Query
// @Accept json
// @Produce json
// @Param request body ResolveRequest true "查询请求"
// @Success 200 {object} service.Response "解析结果"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 422 {object} ErrorResponse "参数值无法转换"
// @Failure 502 {object} ErrorResponse "数据源执行失败"
// @Router /api/v1/query/resolve [post]
func (h *QueryHandler) Resolve(c *gin.Context) {
	start := time.Now()
	requestID := c.GetString(middleware.ContextKeyRequestID)

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("请求参数验证失败", zap.String("request_id", requestID), zap.Error(err))
		respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "请求参数无效", err)
		return
	}

	var (
		resp *service.Response
		err  error
	)
	if req.DryRun {
		resp, err = h.resolver.Plan(c.Request.Context(), req.Query)
	} else {
		resp, err = h.resolver.Resolve(c.Request.Context(), req.Query)
	}
	if err != nil {
		h.logger.Error("查询解析失败",
			zap.String("request_id", requestID),
			zap.String("query", req.Query),
			zap.Error(err))
		respondWithServiceError(c, err)
		return
	}

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.Bool("matched", resp.Matched),
		zap.Bool("executed", resp.Executed),
		zap.Duration("duration", time.Since(start)),
	}
	if resp.Rule != nil {
		fields = append(fields, zap.Int64("rule_id", resp.Rule.ID))
	}
	h.logger.Info("查询解析完成", fields...)
	c.JSON(http.StatusOK, resp)
}

// Suggest 返回与输入最相近的规则
// @Summary 相似规则推荐
// @Tags Query
// @Produce json
// @Param q query string false "查询文本"
// @Param limit query int false "返回条数"
// @Success 200 {object} SuggestResponse
// @Router /api/v1/query/suggest [get]
func (h *QueryHandler) Suggest(c *gin.Context) {
	var params SuggestParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "请求参数无效", err)
		return
	}
	c.JSON(http.StatusOK, &SuggestResponse{
		Query:       params.Query,
		Suggestions: h.resolver.Suggest(params.Query, params.Limit),
	})
}
