package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rulequery-go/internal/middleware"
	"rulequery-go/internal/repository"
	"rulequery-go/internal/rules"
)

// errStoreReadOnly 规则来自文件时不支持在线修改
var errStoreReadOnly = errors.New("当前规则来源不支持在线修改")

// RuleSet 内存规则仓库，由rules.Repository实现
type RuleSet interface {
	Snapshot() *rules.Snapshot
	Reload(ctx context.Context) (*rules.Snapshot, error)
}

// Publisher 规则变更广播，由rules.ReloadNotifier实现
type Publisher interface {
	Publish(ctx context.Context, reason string, ruleID int64) error
}

var (
	_ RuleSet   = (*rules.Repository)(nil)
	_ Publisher = (*rules.ReloadNotifier)(nil)
)

// RuleHandler 规则查看与维护处理器
type RuleHandler struct {
	ruleSet   RuleSet
	store     repository.RuleRepository // 文件来源时为nil
	publisher Publisher                 // 未配置Redis时为nil
	logger    *zap.Logger
}

// NewRuleHandler 创建规则处理器实例
func NewRuleHandler(ruleSet RuleSet, store repository.RuleRepository, publisher Publisher, logger *zap.Logger) *RuleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleHandler{
		ruleSet:   ruleSet,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// RuleView 规则列表项
type RuleView struct {
	ID             int64            `json:"id"`
	IntentName     string           `json:"intent_name"`
	Description    string           `json:"description,omitempty"`
	TriggerPhrases []string         `json:"trigger_phrases"`
	Scenario       rules.Scenario   `json:"scenario"`
	ResultMode     rules.ResultMode `json:"result_mode"`
	Priority       int              `json:"priority"`
	Status         rules.Status     `json:"status"`
	Version        int              `json:"version"`
}

// SnapshotInfo 快照元信息
type SnapshotInfo struct {
	Version  uint64    `json:"version"`
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
	Total    int       `json:"total"`
	Active   int       `json:"active"`
}

// RuleListResponse 规则列表响应
type RuleListResponse struct {
	Snapshot SnapshotInfo `json:"snapshot"`
	Rules    []RuleView   `json:"rules"`
}

// RuleListParams 规则列表参数
type RuleListParams struct {
	Status   string `form:"status" binding:"omitempty,oneof=active inactive"`
	Scenario string `form:"scenario" binding:"omitempty,max=32"`
}

// UpdateStatusRequest 规则状态切换请求
type UpdateStatusRequest struct {
	Status rules.Status `json:"status" binding:"required,oneof=active inactive" example:"inactive"`
}

// ReloadResponse 重载结果
type ReloadResponse struct {
	Snapshot  SnapshotInfo `json:"snapshot"`
	Broadcast bool         `json:"broadcast"`
}

func snapshotInfo(s *rules.Snapshot) SnapshotInfo {
	return SnapshotInfo{
		Version:  s.Version,
		Source:   s.Source,
		LoadedAt: s.LoadedAt,
		Total:    s.Len(),
		Active:   s.ActiveLen(),
	}
}

// ListRules 当前快照中的规则，按ID升序
// @Summary 规则列表
// @Tags Rules
// @Produce json
// @Param status query string false "active或inactive"
// @Param scenario query string false "场景"
// @Success 200 {object} RuleListResponse
// @Router /api/v1/rules [get]
func (h *RuleHandler) ListRules(c *gin.Context) {
	var params RuleListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "请求参数无效", err)
		return
	}

	snap := h.ruleSet.Snapshot()
	views := make([]RuleView, 0, snap.Len())
	for _, r := range snap.Rules() {
		if params.Status != "" && string(r.Status) != params.Status {
			continue
		}
		if params.Scenario != "" && string(r.Scenario) != params.Scenario {
			continue
		}
		views = append(views, RuleView{
			ID:             r.ID,
			IntentName:     r.IntentName,
			Description:    r.Description,
			TriggerPhrases: r.TriggerPhrases,
			Scenario:       r.Scenario,
			ResultMode:     r.ResultMode,
			Priority:       r.Priority,
			Status:         r.Status,
			Version:        r.Version,
		})
	}
	c.JSON(http.StatusOK, &RuleListResponse{Snapshot: snapshotInfo(snap), Rules: views})
}

// GetRule 单条规则的完整定义
// @Summary 规则详情
// @Tags Rules
// @Produce json
// @Param id path int true "规则ID"
// @Success 200 {object} rules.Rule
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/rules/{id} [get]
func (h *RuleHandler) GetRule(c *gin.Context) {
	id, ok := parseRuleID(c)
	if !ok {
		return
	}
	rule, found := h.ruleSet.Snapshot().Get(id)
	if !found {
		respondWithError(c, http.StatusNotFound, "NOT_FOUND", "规则不存在", nil)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Reload 从规则来源重新加载，成功后广播给其他实例
// @Summary 重新加载规则
// @Tags Rules
// @Security BearerAuth
// @Produce json
// @Success 200 {object} ReloadResponse
// @Failure 400 {object} ErrorResponse "新规则集校验失败，旧快照保持不变"
// @Router /api/v1/rules/reload [post]
func (h *RuleHandler) Reload(c *gin.Context) {
	subject, _ := middleware.GetSubjectFromContext(c)
	snap, err := h.ruleSet.Reload(c.Request.Context())
	if err != nil {
		h.logger.Error("规则重载失败", zap.String("operator", subject), zap.Error(err))
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			respondWithError(c, http.StatusBadRequest, "INVALID_RULES", "规则集校验失败，已保留原有规则", err)
			return
		}
		respondWithServiceError(c, err)
		return
	}

	h.logger.Info("规则重载成功",
		zap.String("operator", subject),
		zap.Uint64("version", snap.Version),
		zap.Int("active", snap.ActiveLen()))
	c.JSON(http.StatusOK, &ReloadResponse{
		Snapshot:  snapshotInfo(snap),
		Broadcast: h.broadcast(c.Request.Context(), "manual_reload", 0),
	})
}

// UpdateStatus 启用或停用规则，写入存储后立即重载
// @Summary 切换规则状态
// @Tags Rules
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "规则ID"
// @Param request body UpdateStatusRequest true "目标状态"
// @Success 200 {object} repository.RuleRecord
// @Failure 404 {object} ErrorResponse
// @Failure 501 {object} ErrorResponse "规则来自文件"
// @Router /api/v1/rules/{id}/status [patch]
func (h *RuleHandler) UpdateStatus(c *gin.Context) {
	if h.store == nil {
		respondWithError(c, http.StatusNotImplemented, "READ_ONLY_SOURCE", "当前规则来源不支持在线修改", errStoreReadOnly)
		return
	}
	id, ok := parseRuleID(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "请求参数无效", err)
		return
	}

	subject, _ := middleware.GetSubjectFromContext(c)
	ctx := c.Request.Context()
	rec, err := h.store.UpdateStatus(ctx, id, req.Status, subject)
	if err != nil {
		h.logger.Error("规则状态更新失败",
			zap.Int64("rule_id", id),
			zap.String("operator", subject),
			zap.Error(err))
		respondWithServiceError(c, err)
		return
	}
	if _, err := h.ruleSet.Reload(ctx); err != nil {
		respondWithServiceError(c, err)
		return
	}

	h.logger.Info("规则状态已更新",
		zap.Int64("rule_id", id),
		zap.String("status", string(req.Status)),
		zap.Int("version", rec.Version),
		zap.String("operator", subject))
	h.broadcast(ctx, "status_change", id)
	c.JSON(http.StatusOK, rec)
}

// Revisions 规则的修改历史，最新在前
// @Summary 规则修订历史
// @Tags Rules
// @Security BearerAuth
// @Produce json
// @Param id path int true "规则ID"
// @Success 200 {array} repository.RuleRevision
// @Router /api/v1/rules/{id}/revisions [get]
func (h *RuleHandler) Revisions(c *gin.Context) {
	if h.store == nil {
		respondWithError(c, http.StatusNotImplemented, "READ_ONLY_SOURCE", "当前规则来源没有修订历史", errStoreReadOnly)
		return
	}
	id, ok := parseRuleID(c)
	if !ok {
		return
	}
	revs, err := h.store.Revisions(c.Request.Context(), id)
	if err != nil {
		respondWithServiceError(c, err)
		return
	}
	if revs == nil {
		revs = []*repository.RuleRevision{}
	}
	c.JSON(http.StatusOK, revs)
}

// broadcast 广播失败不影响本实例，其他实例会在下次重载时追上
func (h *RuleHandler) broadcast(ctx context.Context, reason string, ruleID int64) bool {
	if h.publisher == nil {
		return false
	}
	if err := h.publisher.Publish(ctx, reason, ruleID); err != nil {
		h.logger.Warn("规则变更广播失败", zap.String("reason", reason), zap.Error(err))
		return false
	}
	return true
}

func parseRuleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(c, http.StatusBadRequest, "INVALID_RULE_ID", "规则ID无效", err)
		return 0, false
	}
	return id, true
}
