package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(buf *bytes.Buffer) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.LevelKey = "level"
	encoderConfig.MessageKey = "msg"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(buf),
		zapcore.DebugLevel,
	))
}

func TestParsePgxLogLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected tracelog.LogLevel
	}{
		{"trace", tracelog.LogLevelTrace},
		{"debug", tracelog.LogLevelDebug},
		{"info", tracelog.LogLevelInfo},
		{"warn", tracelog.LogLevelWarn},
		{"error", tracelog.LogLevelError},
		{"none", tracelog.LogLevelNone},
		{"", tracelog.LogLevelWarn},
		{"verbose", tracelog.LogLevelWarn},
		{"DEBUG", tracelog.LogLevelDebug},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, parsePgxLogLevel(tc.input))
		})
	}
}

func TestNewPgxZapLogger_NilLogger(t *testing.T) {
	pgxLogger := NewPgxZapLogger(nil, "info")
	require.NotNil(t, pgxLogger)
	assert.Equal(t, tracelog.LogLevelInfo, pgxLogger.GetLogLevel())

	// nil logger被替换为Nop，不应panic
	assert.NotPanics(t, func() {
		pgxLogger.Log(context.Background(), tracelog.LogLevelError, "boom", nil)
	})
}

func TestPgxZapLogger_Log_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	pgxLogger := NewPgxZapLogger(newBufferLogger(&buf), "warn")

	testCases := []struct {
		name   string
		level  tracelog.LogLevel
		logged bool
	}{
		{"trace filtered", tracelog.LogLevelTrace, false},
		{"debug filtered", tracelog.LogLevelDebug, false},
		{"info filtered", tracelog.LogLevelInfo, false},
		{"warn logged", tracelog.LogLevelWarn, true},
		{"error logged", tracelog.LogLevelError, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			pgxLogger.Log(context.Background(), tc.level, "Query", map[string]any{"sql": "SELECT 1"})
			if tc.logged {
				assert.Contains(t, buf.String(), "Query")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestPgxZapLogger_Log_LevelMapping(t *testing.T) {
	var buf bytes.Buffer
	pgxLogger := NewPgxZapLogger(newBufferLogger(&buf), "trace")

	testCases := []struct {
		level    tracelog.LogLevel
		expected string
	}{
		{tracelog.LogLevelTrace, "debug"},
		{tracelog.LogLevelDebug, "debug"},
		{tracelog.LogLevelInfo, "info"},
		{tracelog.LogLevelWarn, "warn"},
		{tracelog.LogLevelError, "error"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			buf.Reset()
			pgxLogger.Log(context.Background(), tc.level, "Query", map[string]any{})

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tc.expected, entry["level"])
			assert.Equal(t, "Query", entry["msg"])
			assert.Equal(t, "pgx", entry["logger"])
		})
	}
}

func TestPgxZapLogger_Log_Fields(t *testing.T) {
	var buf bytes.Buffer
	pgxLogger := NewPgxZapLogger(newBufferLogger(&buf), "trace")

	pgxLogger.Log(context.Background(), tracelog.LogLevelInfo, "Query", map[string]any{
		"sql":      "SELECT * FROM inventory WHERE supplier = $1",
		"args":     []any{"BOE"},
		"time":     150 * time.Millisecond,
		"rowCount": int64(3),
		"err":      errors.New("connection reset"),
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "SELECT * FROM inventory WHERE supplier = $1", entry["sql"])
	assert.EqualValues(t, 1, entry["arg_count"])
	assert.NotContains(t, buf.String(), "BOE", "绑定参数的值不应进入日志")
	assert.EqualValues(t, 3, entry["rowCount"])
	assert.Contains(t, buf.String(), "connection reset")
}

func TestPgxZapLogger_Log_SlowQueryPromoted(t *testing.T) {
	var buf bytes.Buffer
	pgxLogger := NewPgxZapLogger(newBufferLogger(&buf), "warn")

	pgxLogger.Log(context.Background(), tracelog.LogLevelInfo, "Query", map[string]any{
		"sql":  "SELECT 1",
		"time": 50 * time.Millisecond,
	})
	assert.Empty(t, buf.String())

	pgxLogger.Log(context.Background(), tracelog.LogLevelInfo, "Query", map[string]any{
		"sql":  "SELECT 1",
		"time": 2 * time.Second,
	})
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, true, entry["slow"])
}

func TestCompactSQL(t *testing.T) {
	sql := "SELECT factory, warehouse\n\t  FROM inventory\n  WHERE supplier LIKE $1\n"
	assert.Equal(t, "SELECT factory, warehouse FROM inventory WHERE supplier LIKE $1", compactSQL(sql))

	long := compactSQL("SELECT " + strings.Repeat("库存,", 400))
	assert.Len(t, []rune(long), maxLoggedSQLRunes+3)
	assert.True(t, strings.HasSuffix(long, "..."))
}
