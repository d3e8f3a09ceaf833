// Package metrics 暴露HTTP、规则匹配和数据源执行的Prometheus指标
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rulequery-go/internal/database"
	"rulequery-go/internal/rules"
)

// PrometheusMetrics Prometheus指标收集器
// 实现service.Recorder，同时提供gin中间件和/metrics处理器
type PrometheusMetrics struct {
	// HTTP请求相关指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec
	activeRequests      prometheus.Gauge

	// 业务指标
	resolvesTotal     *prometheus.CounterVec
	resolveDuration   *prometheus.HistogramVec
	matchScore        *prometheus.HistogramVec
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	rulesLoaded       *prometheus.GaugeVec
	reloadsTotal      *prometheus.CounterVec

	namespace string
	registry  *prometheus.Registry
	logger    *zap.Logger
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Namespace      string // 指标命名空间
	Subsystem      string // HTTP指标子系统
	ServiceVersion string
}

// DefaultMetricsConfig 默认指标配置
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Namespace:      "rulequery",
		Subsystem:      "api",
		ServiceVersion: "0.1.0",
	}
}

// NewPrometheusMetrics 创建Prometheus指标收集器，每个实例使用独立的注册器
func NewPrometheusMetrics(config *MetricsConfig, logger *zap.Logger) *PrometheusMetrics {
	if config == nil {
		config = DefaultMetricsConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pm := &PrometheusMetrics{
		namespace: config.Namespace,
		registry:  prometheus.NewRegistry(),
		logger:    logger,
	}

	pm.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	pm.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	pm.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		},
		[]string{"method", "endpoint"},
	)

	pm.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	pm.resolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "resolve",
			Name:      "total",
			Help:      "Total number of resolved queries by outcome",
		},
		[]string{"outcome", "scenario"},
	)

	pm.resolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "resolve",
			Name:      "duration_seconds",
			Help:      "End-to-end resolve duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"outcome"},
	)

	pm.matchScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "resolve",
			Name:      "match_score",
			Help:      "Score of the winning rule",
			Buckets:   []float64{2, 4, 6, 8, 12, 16, 24, 1000},
		},
		[]string{"scenario"},
	)

	pm.executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "datastore",
			Name:      "executions_total",
			Help:      "Total number of datastore executions",
		},
		[]string{"scenario", "status"},
	)

	pm.executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "datastore",
			Name:      "execution_duration_seconds",
			Help:      "Datastore execution duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"scenario"},
	)

	pm.rulesLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: "rules",
			Name:      "loaded",
			Help:      "Number of rules in the current snapshot",
		},
		[]string{"status"},
	)

	pm.reloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "rules",
			Name:      "reloads_total",
			Help:      "Total number of rule reload attempts",
		},
		[]string{"status"},
	)

	pm.registerMetrics(config)

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", config.Namespace),
		zap.String("subsystem", config.Subsystem))
	return pm
}

func (pm *PrometheusMetrics) registerMetrics(config *MetricsConfig) {
	pm.registry.MustRegister(
		pm.httpRequestsTotal,
		pm.httpRequestDuration,
		pm.httpResponseSize,
		pm.activeRequests,

		pm.resolvesTotal,
		pm.resolveDuration,
		pm.matchScore,
		pm.executionsTotal,
		pm.executionDuration,
		pm.rulesLoaded,
		pm.reloadsTotal,

		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: config.Namespace}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"version": config.ServiceVersion},
		}, func() float64 { return 1 }),
	)
}

// Registry 底层注册器
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// HTTPMetricsMiddleware HTTP指标收集中间件
func (pm *PrometheusMetrics) HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		pm.activeRequests.Inc()
		defer pm.activeRequests.Dec()

		c.Next()

		method := c.Request.Method
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		statusCode := strconv.Itoa(c.Writer.Status())

		pm.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
		pm.httpRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size > 0 {
			pm.httpResponseSize.WithLabelValues(method, endpoint).Observe(float64(size))
		}
	}
}

// RecordResolve 实现service.Recorder
func (pm *PrometheusMetrics) RecordResolve(outcome, scenario string, score float64, duration time.Duration) {
	if scenario == "" {
		scenario = "none"
	}
	pm.resolvesTotal.WithLabelValues(outcome, scenario).Inc()
	pm.resolveDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if score > 0 {
		pm.matchScore.WithLabelValues(scenario).Observe(score)
	}
}

// RecordExecution 实现service.Recorder
func (pm *PrometheusMetrics) RecordExecution(scenario string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pm.executionsTotal.WithLabelValues(scenario, status).Inc()
	pm.executionDuration.WithLabelValues(scenario).Observe(duration.Seconds())
}

// ObserveReload 作为rules.ReloadListener注册，记录重载结果和当前规则数
func (pm *PrometheusMetrics) ObserveReload(snap *rules.Snapshot, err error) {
	if err != nil {
		pm.reloadsTotal.WithLabelValues("error").Inc()
		return
	}
	pm.reloadsTotal.WithLabelValues("success").Inc()
	if snap != nil {
		pm.rulesLoaded.WithLabelValues("active").Set(float64(snap.ActiveLen()))
		pm.rulesLoaded.WithLabelValues("inactive").Set(float64(snap.Len() - snap.ActiveLen()))
	}
}

// RegisterPoolStats 导出连接池统计，stats返回nil时各项为0
func (pm *PrometheusMetrics) RegisterPoolStats(stats func() *database.PoolStats) error {
	gauge := func(name, help string, pick func(*database.PoolStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: pm.namespace,
			Subsystem: "database",
			Name:      name,
			Help:      help,
		}, func() float64 {
			s := stats()
			if s == nil {
				return 0
			}
			return pick(s)
		})
	}

	for _, c := range []prometheus.Collector{
		gauge("total_conns", "Total connections in the pool", func(s *database.PoolStats) float64 { return float64(s.TotalConns) }),
		gauge("idle_conns", "Idle connections in the pool", func(s *database.PoolStats) float64 { return float64(s.IdleConns) }),
		gauge("acquired_conns", "Acquired connections in the pool", func(s *database.PoolStats) float64 { return float64(s.AcquiredConns) }),
		gauge("utilization", "Acquired connections divided by max connections", func(s *database.PoolStats) float64 { return s.Utilization() }),
	} {
		if err := pm.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// GetMetricsHandler 获取Prometheus指标端点处理器
func (pm *PrometheusMetrics) GetMetricsHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Handler 标准库形式的处理器
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}
