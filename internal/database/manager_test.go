package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rulequery-go/internal/config"
)

func TestNewManager_Unreachable(t *testing.T) {
	cfg := config.DefaultDatabaseConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.ConnectTimeout = time.Second
	cfg.MinConns = 0

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewManager(ctx, cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "数据库健康检查失败")
}

func TestNewManager_NilConfig(t *testing.T) {
	_, err := NewManager(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestManager_NilPool(t *testing.T) {
	m := NewManagerWithPool(nil, nil, nil)

	assert.ErrorIs(t, m.HealthCheck(context.Background()), ErrPoolNotInitialized)
	assert.Nil(t, m.Stats())
	assert.NotPanics(t, m.Close)
}

func TestPoolStats(t *testing.T) {
	testCases := []struct {
		name        string
		stats       PoolStats
		utilization float64
		healthy     bool
	}{
		{"空闲", PoolStats{TotalConns: 2, IdleConns: 2, MaxConns: 10}, 0, true},
		{"正常负载", PoolStats{TotalConns: 6, IdleConns: 1, AcquiredConns: 5, MaxConns: 10}, 0.5, true},
		{"利用率过高", PoolStats{TotalConns: 10, IdleConns: 0, AcquiredConns: 10, MaxConns: 10}, 1, false},
		{"连接耗尽", PoolStats{TotalConns: 10, IdleConns: 0, AcquiredConns: 8, MaxConns: 10}, 0.8, false},
		{"未配置上限", PoolStats{}, 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.utilization, tc.stats.Utilization(), 1e-9)
			assert.Equal(t, tc.healthy, tc.stats.Healthy())
			assert.Contains(t, tc.stats.String(), "utilization=")
		})
	}
}
