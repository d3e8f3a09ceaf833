package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"rulequery-go/internal/config"
)

// MiddlewareChainTestSuite 全局中间件链路测试套件
type MiddlewareChainTestSuite struct {
	suite.Suite
	router  *gin.Engine
	logs    *observer.ObservedLogs
	limiter *RateLimiter
}

func TestMiddlewareChainSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareChainTestSuite))
}

func (s *MiddlewareChainTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	s.logs = logs

	cfg := MiddlewareConfigFromServer(&config.ServerConfig{
		RateLimitRPS:   1,
		RateLimitBurst: 2,
		CORSOrigins:    []string{"https://ops.example.com"},
	}, zap.New(core))

	s.router = gin.New()
	s.limiter = SetupMiddleware(s.router, cfg)
	s.router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": c.GetString(ContextKeyRequestID)})
	})
	s.router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
}

func (s *MiddlewareChainTestSuite) get(path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:12345"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *MiddlewareChainTestSuite) TestRequestIDGeneratedAndPropagated() {
	w := s.get("/ok", nil)
	s.Equal(http.StatusOK, w.Code)
	id := w.Header().Get("X-Request-ID")
	_, err := uuid.Parse(id)
	s.NoError(err)
	s.Contains(w.Body.String(), id)

	w = s.get("/ok", map[string]string{"X-Request-ID": "trace-42"})
	s.Equal("trace-42", w.Header().Get("X-Request-ID"))
}

func (s *MiddlewareChainTestSuite) TestSecurityHeaders() {
	w := s.get("/ok", nil)
	s.Equal("nosniff", w.Header().Get("X-Content-Type-Options"))
	s.Equal("DENY", w.Header().Get("X-Frame-Options"))
	s.Empty(w.Header().Get("Strict-Transport-Security"))
}

func (s *MiddlewareChainTestSuite) TestCORS() {
	w := s.get("/ok", map[string]string{"Origin": "https://ops.example.com"})
	s.Equal("https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = s.get("/ok", map[string]string{"Origin": "https://evil.example.com"})
	s.Empty(w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/ok", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *MiddlewareChainTestSuite) TestRateLimit() {
	s.Equal(http.StatusOK, s.get("/ok", nil).Code)
	s.Equal(http.StatusOK, s.get("/ok", nil).Code)

	w := s.get("/ok", nil)
	s.Equal(http.StatusTooManyRequests, w.Code)
	s.Equal("1", w.Header().Get("Retry-After"))
	s.Contains(w.Body.String(), "RATE_LIMIT_EXCEEDED")
	s.Equal(1, s.limiter.Len())
}

func (s *MiddlewareChainTestSuite) TestRecoveryAndLogging() {
	w := s.get("/panic", nil)
	s.Equal(http.StatusInternalServerError, w.Code)
	s.Contains(w.Body.String(), "INTERNAL_ERROR")

	s.Equal(1, s.logs.FilterMessage("Request panic recovered").Len())
	entries := s.logs.FilterMessage("HTTP Request").All()
	s.Require().Len(entries, 1)
	s.Equal(zapcore.ErrorLevel, entries[0].Level)
	s.Equal(int64(http.StatusInternalServerError), entries[0].ContextMap()["status"])
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute})
	rl.now = func() time.Time { return now }
	rl.lastCleanup = now

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	require.Equal(t, 2, rl.Len())

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.Allow("a"))
	assert.Equal(t, 1, rl.Len())
}

func TestSetupMiddlewareWithoutRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := MiddlewareConfigFromServer(&config.ServerConfig{}, nil)
	r := gin.New()
	assert.Nil(t, SetupMiddleware(r, cfg))
}
