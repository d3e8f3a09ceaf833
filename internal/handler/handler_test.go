package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"rulequery-go/internal/auth"
	"rulequery-go/internal/config"
	"rulequery-go/internal/datastore"
	"rulequery-go/internal/engine"
	"rulequery-go/internal/lexicon"
	"rulequery-go/internal/metrics"
	"rulequery-go/internal/middleware"
	"rulequery-go/internal/repository"
	"rulequery-go/internal/rules"
	"rulequery-go/internal/service"
)

// MockResolver 查询解析服务Mock
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, query string) (*service.Response, error) {
	args := m.Called(ctx, query)
	resp, _ := args.Get(0).(*service.Response)
	return resp, args.Error(1)
}

func (m *MockResolver) Plan(ctx context.Context, query string) (*service.Response, error) {
	args := m.Called(ctx, query)
	resp, _ := args.Get(0).(*service.Response)
	return resp, args.Error(1)
}

func (m *MockResolver) Suggest(query string, n int) []engine.Suggestion {
	args := m.Called(query, n)
	return args.Get(0).([]engine.Suggestion)
}

// MockPublisher 规则变更广播Mock
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, reason string, ruleID int64) error {
	return m.Called(ctx, reason, ruleID).Error(0)
}

// MockRuleStore 规则存储Mock
type MockRuleStore struct {
	mock.Mock
}

func (m *MockRuleStore) Create(ctx context.Context, rec *repository.RuleRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockRuleStore) GetByID(ctx context.Context, id int64) (*repository.RuleRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*repository.RuleRecord)
	return rec, args.Error(1)
}

func (m *MockRuleStore) List(ctx context.Context, status string) ([]*repository.RuleRecord, error) {
	args := m.Called(ctx, status)
	recs, _ := args.Get(0).([]*repository.RuleRecord)
	return recs, args.Error(1)
}

func (m *MockRuleStore) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRuleStore) UpdateTemplate(ctx context.Context, id int64, template string, params []rules.ParamSpec, by string) (*repository.RuleRecord, error) {
	args := m.Called(ctx, id, template, params, by)
	rec, _ := args.Get(0).(*repository.RuleRecord)
	return rec, args.Error(1)
}

func (m *MockRuleStore) UpdateStatus(ctx context.Context, id int64, status rules.Status, by string) (*repository.RuleRecord, error) {
	args := m.Called(ctx, id, status, by)
	rec, _ := args.Get(0).(*repository.RuleRecord)
	return rec, args.Error(1)
}

func (m *MockRuleStore) Import(ctx context.Context, batch []*rules.Rule, by string) (int, error) {
	args := m.Called(ctx, batch, by)
	return args.Int(0), args.Error(1)
}

func (m *MockRuleStore) Revisions(ctx context.Context, ruleID int64) ([]*repository.RuleRevision, error) {
	args := m.Called(ctx, ruleID)
	revs, _ := args.Get(0).([]*repository.RuleRevision)
	return revs, args.Error(1)
}

func (m *MockRuleStore) LoadRules(ctx context.Context) ([]*rules.Rule, error) {
	args := m.Called(ctx)
	batch, _ := args.Get(0).([]*rules.Rule)
	return batch, args.Error(1)
}

func (m *MockRuleStore) Name() string { return "mock" }

func (m *MockRuleStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRuleStore) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockHealthService 健康检查服务Mock
type MockHealthService struct {
	mock.Mock
}

func (m *MockHealthService) CheckHealth(ctx context.Context) *service.HealthCheckResult {
	return m.Called(ctx).Get(0).(*service.HealthCheckResult)
}

func (m *MockHealthService) CheckReadiness(ctx context.Context) *service.ReadinessResult {
	return m.Called(ctx).Get(0).(*service.ReadinessResult)
}

func (m *MockHealthService) GetVersionInfo() map[string]any {
	return m.Called().Get(0).(map[string]any)
}

func testRule(id int64, status rules.Status) *rules.Rule {
	return &rules.Rule{
		ID:             id,
		IntentName:     "库存查询",
		TriggerPhrases: []string{"库存"},
		Scenario:       rules.ScenarioInventory,
		ParameterSchema: []rules.ParamSpec{{
			Name:        "supplier",
			Extractions: []rules.Extraction{{Kind: rules.ExtractLexicon, Category: "supplier"}},
			Wildcard:    true,
		}},
		ActionTemplate: "SELECT * FROM inventory WHERE supplier LIKE :supplier",
		Priority:       1,
		Status:         status,
	}
}

const testSecret = "0123456789abcdef0123456789abcdef"

// HandlerTestSuite 路由与处理器测试套件
type HandlerTestSuite struct {
	suite.Suite
	resolver  *MockResolver
	publisher *MockPublisher
	store     *MockRuleStore
	health    *MockHealthService
	ruleSet   *rules.Repository
	jwt       *auth.JWTService
	metrics   *metrics.PrometheusMetrics
	router    *gin.Engine
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(s.T())

	s.resolver = new(MockResolver)
	s.publisher = new(MockPublisher)
	s.store = new(MockRuleStore)
	s.health = new(MockHealthService)

	s.ruleSet = rules.NewRepository(rules.StaticSource(testRule(1, rules.StatusActive), testRule(2, rules.StatusInactive)), logger)
	_, err := s.ruleSet.Reload(context.Background())
	s.Require().NoError(err)

	s.jwt, err = auth.NewJWTService(&config.AuthConfig{JWTSecret: testSecret, Issuer: "rulequery", AdminRole: "admin"}, logger)
	s.Require().NoError(err)
	s.metrics = metrics.NewPrometheusMetrics(nil, logger)

	s.router = NewRouter(&RouterConfig{
		QueryHandler:   NewQueryHandler(s.resolver, logger),
		RuleHandler:    NewRuleHandler(s.ruleSet, s.store, s.publisher, logger),
		HealthHandler:  NewHealthHandler(s.health),
		AuthMiddleware: middleware.NewAuthMiddleware(s.jwt, logger),
		AdminRole:      "admin",
		Middleware:     middleware.DefaultMiddlewareConfig(logger),
		Metrics:        s.metrics,
	})
}

func (s *HandlerTestSuite) TearDownTest() {
	s.resolver.AssertExpectations(s.T())
	s.publisher.AssertExpectations(s.T())
	s.store.AssertExpectations(s.T())
	s.health.AssertExpectations(s.T())
}

func (s *HandlerTestSuite) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerTestSuite) adminToken() string {
	token, err := s.jwt.IssueToken("ops", "admin", time.Hour)
	s.Require().NoError(err)
	return token
}

func decode[T any](s *HandlerTestSuite, w *httptest.ResponseRecorder) T {
	var v T
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *HandlerTestSuite) TestResolveMatched() {
	s.resolver.On("Resolve", mock.Anything, "查询BOE供应商的库存").Return(&service.Response{
		Matched:  true,
		Input:    "查询BOE供应商的库存",
		Rule:     &service.RuleSummary{ID: 101, Scenario: rules.ScenarioInventory},
		Executed: true,
	}, nil).Once()

	w := s.request(http.MethodPost, "/api/v1/query/resolve", ResolveRequest{Query: "查询BOE供应商的库存"}, "")
	s.Equal(http.StatusOK, w.Code)

	resp := decode[service.Response](s, w)
	s.True(resp.Matched)
	s.Equal(int64(101), resp.Rule.ID)
	s.NotEmpty(w.Header().Get("X-Request-ID"))
}

func (s *HandlerTestSuite) TestResolveDryRunUsesPlan() {
	s.resolver.On("Plan", mock.Anything, "查询最近一周的产线异常").Return(&service.Response{Matched: true}, nil).Once()

	w := s.request(http.MethodPost, "/api/v1/query/resolve", ResolveRequest{Query: "查询最近一周的产线异常", DryRun: true}, "")
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerTestSuite) TestResolveBadRequest() {
	tests := []struct {
		name string
		body string
	}{
		{"非JSON", "query=库存"},
		{"未知字段", `{"query":"库存","dryrun":true}`},
		{"查询过长", `{"query":"` + strings.Repeat("库", 501) + `"}`},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.request(http.MethodPost, "/api/v1/query/resolve", tt.body, "")
			s.Equal(http.StatusBadRequest, w.Code)
			s.Equal("INVALID_REQUEST", decode[ErrorResponse](s, w).Code)
		})
	}
}

func (s *HandlerTestSuite) TestResolveErrorMapping() {
	dsErr := errors.New("relation \"inventory\" does not exist")
	tests := []struct {
		name   string
		query  string
		err    error
		status int
		code   string
		ruleID int64
	}{
		{"数据源失败", "q1", &service.ExecutionError{RuleID: 101, Err: dsErr}, http.StatusBadGateway, "EXECUTION_FAILED", 101},
		{"规则冲突", "q2", engine.ErrAmbiguousMatch, http.StatusInternalServerError, "AMBIGUOUS_RULES", 0},
		{"参数无效", "q3", engine.ErrInvalidParameter, http.StatusUnprocessableEntity, "INVALID_PARAMETER", 0},
		{"未知错误", "q4", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", 0},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.resolver.On("Resolve", mock.Anything, tt.query).Return(nil, tt.err).Once()
			w := s.request(http.MethodPost, "/api/v1/query/resolve", ResolveRequest{Query: tt.query}, "")
			s.Equal(tt.status, w.Code)

			resp := decode[ErrorResponse](s, w)
			s.Equal(tt.code, resp.Code)
			s.Equal(tt.ruleID, resp.RuleID)
			s.NotEmpty(resp.RequestID)
		})
	}
}

func (s *HandlerTestSuite) TestResolveErrorDetails() {
	invalid := &engine.InvalidParameterError{
		RuleID:     12,
		IntentName: "不良率",
		Parameter:  "rate",
		Type:       rules.TypeNumber,
		Raw:        "abc",
		Extracted:  map[string]string{"rate": "abc"},
		Err:        fmt.Errorf("%w: %q不是数字", engine.ErrInvalidParameter, "abc"),
	}
	s.resolver.On("Resolve", mock.Anything, "不良率超过abc").Return(nil, invalid).Once()

	w := s.request(http.MethodPost, "/api/v1/query/resolve", ResolveRequest{Query: "不良率超过abc"}, "")
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	resp := decode[ErrorResponse](s, w)
	s.Equal("INVALID_PARAMETER", resp.Code)
	s.Equal(int64(12), resp.RuleID)
	s.Equal("rate", resp.Parameter)
	s.Equal("abc", resp.Raw)
	s.Equal(map[string]string{"rate": "abc"}, resp.Extracted)
	s.Empty(resp.RuleIDs)

	ambiguous := &engine.AmbiguousMatchError{RuleIDs: []int64{7, 7}, Intents: []string{"重复", "重复"}, Score: 2}
	s.resolver.On("Resolve", mock.Anything, "查库存").Return(nil, fmt.Errorf("resolve: %w", ambiguous)).Once()

	w = s.request(http.MethodPost, "/api/v1/query/resolve", ResolveRequest{Query: "查库存"}, "")
	s.Equal(http.StatusInternalServerError, w.Code)
	resp = decode[ErrorResponse](s, w)
	s.Equal("AMBIGUOUS_RULES", resp.Code)
	s.Equal([]int64{7, 7}, resp.RuleIDs)
	s.Empty(resp.Parameter)
	s.Contains(resp.Details, "规则7(重复)")
}

func (s *HandlerTestSuite) TestSuggest() {
	s.resolver.On("Suggest", "库存", 3).Return([]engine.Suggestion{{RuleID: 101, Phrase: "库存", Similarity: 2}}).Once()

	w := s.request(http.MethodGet, "/api/v1/query/suggest?q=库存&limit=3", nil, "")
	s.Equal(http.StatusOK, w.Code)
	resp := decode[SuggestResponse](s, w)
	s.Require().Len(resp.Suggestions, 1)
	s.Equal(int64(101), resp.Suggestions[0].RuleID)

	w = s.request(http.MethodGet, "/api/v1/query/suggest?q=库存&limit=100", nil, "")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerTestSuite) TestListAndGetRules() {
	w := s.request(http.MethodGet, "/api/v1/rules", nil, "")
	s.Equal(http.StatusOK, w.Code)
	list := decode[RuleListResponse](s, w)
	s.Equal(2, list.Snapshot.Total)
	s.Equal(1, list.Snapshot.Active)
	s.Len(list.Rules, 2)

	w = s.request(http.MethodGet, "/api/v1/rules?status=inactive", nil, "")
	list = decode[RuleListResponse](s, w)
	s.Require().Len(list.Rules, 1)
	s.Equal(int64(2), list.Rules[0].ID)

	w = s.request(http.MethodGet, "/api/v1/rules?status=archived", nil, "")
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.request(http.MethodGet, "/api/v1/rules/1", nil, "")
	s.Equal(http.StatusOK, w.Code)
	s.Equal("SELECT * FROM inventory WHERE supplier LIKE :supplier", decode[rules.Rule](s, w).ActionTemplate)

	s.Equal(http.StatusNotFound, s.request(http.MethodGet, "/api/v1/rules/99", nil, "").Code)
	s.Equal(http.StatusBadRequest, s.request(http.MethodGet, "/api/v1/rules/abc", nil, "").Code)
}

func (s *HandlerTestSuite) TestReloadRequiresAdmin() {
	s.Equal(http.StatusUnauthorized, s.request(http.MethodPost, "/api/v1/rules/reload", nil, "").Code)

	viewer, err := s.jwt.IssueToken("bob", "viewer", time.Hour)
	s.Require().NoError(err)
	s.Equal(http.StatusForbidden, s.request(http.MethodPost, "/api/v1/rules/reload", nil, viewer).Code)
}

func (s *HandlerTestSuite) TestReloadBroadcasts() {
	before := s.ruleSet.Snapshot().Version
	s.publisher.On("Publish", mock.Anything, "manual_reload", int64(0)).Return(nil).Once()

	w := s.request(http.MethodPost, "/api/v1/rules/reload", nil, s.adminToken())
	s.Equal(http.StatusOK, w.Code)

	resp := decode[ReloadResponse](s, w)
	s.True(resp.Broadcast)
	s.Equal(before+1, resp.Snapshot.Version)
}

func (s *HandlerTestSuite) TestReloadBroadcastFailureStillSucceeds() {
	s.publisher.On("Publish", mock.Anything, "manual_reload", int64(0)).Return(errors.New("redis down")).Once()

	w := s.request(http.MethodPost, "/api/v1/rules/reload", nil, s.adminToken())
	s.Equal(http.StatusOK, w.Code)
	s.False(decode[ReloadResponse](s, w).Broadcast)
}

func (s *HandlerTestSuite) TestUpdateStatus() {
	s.store.On("UpdateStatus", mock.Anything, int64(1), rules.StatusInactive, "ops").
		Return(&repository.RuleRecord{BaseModel: repository.BaseModel{ID: 1}, Status: "inactive", Version: 2}, nil).Once()
	s.publisher.On("Publish", mock.Anything, "status_change", int64(1)).Return(nil).Once()

	w := s.request(http.MethodPatch, "/api/v1/rules/1/status", UpdateStatusRequest{Status: rules.StatusInactive}, s.adminToken())
	s.Equal(http.StatusOK, w.Code)
	s.Equal(2, decode[repository.RuleRecord](s, w).Version)
}

func (s *HandlerTestSuite) TestUpdateStatusErrors() {
	token := s.adminToken()

	w := s.request(http.MethodPatch, "/api/v1/rules/1/status", `{"status":"archived"}`, token)
	s.Equal(http.StatusBadRequest, w.Code)

	s.store.On("UpdateStatus", mock.Anything, int64(404), rules.StatusActive, "ops").
		Return(nil, repository.ErrNotFound).Once()
	w = s.request(http.MethodPatch, "/api/v1/rules/404/status", UpdateStatusRequest{Status: rules.StatusActive}, token)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlerTestSuite) TestRevisions() {
	s.store.On("Revisions", mock.Anything, int64(1)).Return(nil, nil).Once()

	w := s.request(http.MethodGet, "/api/v1/rules/1/revisions", nil, s.adminToken())
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq("[]", w.Body.String())
}

func (s *HandlerTestSuite) TestHealthEndpoints() {
	s.health.On("CheckHealth", mock.Anything).Return(&service.HealthCheckResult{Status: service.HealthStatusDegraded}).Once()
	s.health.On("CheckReadiness", mock.Anything).Return(&service.ReadinessResult{Status: service.HealthStatusUnhealthy}).Once()
	s.health.On("GetVersionInfo").Return(map[string]any{"version": "0.1.0"}).Once()

	s.Equal(http.StatusOK, s.request(http.MethodGet, "/health", nil, "").Code)
	s.Equal(http.StatusServiceUnavailable, s.request(http.MethodGet, "/ready", nil, "").Code)

	w := s.request(http.MethodGet, "/version", nil, "")
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"version":"0.1.0"}`, w.Body.String())
}

func (s *HandlerTestSuite) TestMetricsEndpoint() {
	s.request(http.MethodGet, "/api/v1/rules", nil, "")

	w := s.request(http.MethodGet, "/metrics", nil, "")
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `rulequery_api_http_requests_total{endpoint="/api/v1/rules",method="GET",status_code="200"} 1`)
}

func TestUpdateStatusReadOnlySource(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	ruleSet := rules.NewRepository(rules.StaticSource(testRule(1, rules.StatusActive)), logger)
	jwtSvc, err := auth.NewJWTService(&config.AuthConfig{JWTSecret: testSecret}, logger)
	require.NoError(t, err)

	r := NewRouter(&RouterConfig{
		RuleHandler:    NewRuleHandler(ruleSet, nil, nil, logger),
		AuthMiddleware: middleware.NewAuthMiddleware(jwtSvc, logger),
	})
	token, err := jwtSvc.IssueToken("ops", "admin", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/rules/1/status", strings.NewReader(`{"status":"inactive"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestReloadRejectsInvalidBatch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	broken := false
	source := rules.SourceFunc(func(ctx context.Context) ([]*rules.Rule, error) {
		r := testRule(1, rules.StatusActive)
		if broken {
			r.ActionTemplate = "DROP TABLE inventory"
		}
		return []*rules.Rule{r}, nil
	})
	ruleSet := rules.NewRepository(source, logger)
	first, err := ruleSet.Reload(context.Background())
	require.NoError(t, err)

	h := NewRuleHandler(ruleSet, nil, nil, logger)
	r := gin.New()
	r.POST("/reload", h.Reload)

	broken = true
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reload", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_RULES")
	assert.Equal(t, first.Version, ruleSet.Snapshot().Version)
}

func TestAdminRoutesDisabledWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	ruleSet := rules.NewRepository(rules.StaticSource(testRule(1, rules.StatusActive)), logger)

	r := NewRouter(&RouterConfig{RuleHandler: NewRuleHandler(ruleSet, nil, nil, logger)})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/rules/reload", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// 真实解析流水线：规则目录 + 内存SQLite
func TestResolveEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	ruleSet := rules.NewRepository(rules.NewFileSource("../../configs/rules.yaml"), logger)
	_, err := ruleSet.Reload(context.Background())
	require.NoError(t, err)

	exec, err := datastore.OpenSQLite("file::memory:", datastore.Options{}, logger)
	require.NoError(t, err)
	defer exec.Close()
	schema, err := os.ReadFile("../datastore/testdata/demo.sql")
	require.NoError(t, err)
	_, err = exec.DB().Exec(string(schema))
	require.NoError(t, err)

	matcher := engine.NewMatcher(ruleSet, lexicon.NewStore(nil, logger), nil, logger)
	svc := service.NewResolveService(matcher, nil, exec, nil, logger)
	r := NewRouter(&RouterConfig{QueryHandler: NewQueryHandler(svc, logger)})

	post := func(query string) map[string]any {
		body, _ := json.Marshal(ResolveRequest{Query: query})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/query/resolve", bytes.NewReader(body)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var out map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return out
	}

	out := post("查询BOE供应商的库存")
	assert.Equal(t, true, out["matched"])
	assert.Equal(t, true, out["executed"])
	result := out["result"].(map[string]any)
	assert.EqualValues(t, 2, result["total"])

	out = post("今天天气怎么样")
	assert.Equal(t, false, out["matched"])
	assert.NotEmpty(t, out["suggestions"])

	out = post("物料库存")
	clarification := out["clarification"].(map[string]any)
	assert.Equal(t, "material_code", clarification["parameter"])
}
