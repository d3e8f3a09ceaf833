package config

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

const (
	// 超过该耗时的查询至少按warn记录
	slowQueryThreshold = time.Second
	maxLoggedSQLRunes  = 512
)

var pgxLevels = map[string]tracelog.LogLevel{
	"trace": tracelog.LogLevelTrace,
	"debug": tracelog.LogLevelDebug,
	"info":  tracelog.LogLevelInfo,
	"warn":  tracelog.LogLevelWarn,
	"error": tracelog.LogLevelError,
	"none":  tracelog.LogLevelNone,
}

// PgxZapLogger 把pgx的tracelog输出写到zap。
// 规则模板展开后的SQL会压缩空白并截断，绑定参数只记录个数
type PgxZapLogger struct {
	logger *zap.Logger
	level  tracelog.LogLevel
}

// NewPgxZapLogger 创建pgx日志适配器，未知级别按warn处理
func NewPgxZapLogger(logger *zap.Logger, level string) *PgxZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgxZapLogger{
		logger: logger.Named("pgx"),
		level:  parsePgxLogLevel(level),
	}
}

// Log 实现tracelog.Logger
func (l *PgxZapLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	slow := false
	if d, ok := data["time"].(time.Duration); ok && d >= slowQueryThreshold {
		slow = true
		if level > tracelog.LogLevelWarn {
			level = tracelog.LogLevelWarn
		}
	}
	// tracelog的级别数值越大越详细
	if level > l.level {
		return
	}

	fields := make([]zap.Field, 0, len(data)+1)
	for key, value := range data {
		fields = append(fields, pgxField(key, value))
	}
	if slow {
		fields = append(fields, zap.Bool("slow", true))
	}

	switch {
	case level <= tracelog.LogLevelError:
		l.logger.Error(msg, fields...)
	case level == tracelog.LogLevelWarn:
		l.logger.Warn(msg, fields...)
	case level == tracelog.LogLevelInfo:
		l.logger.Info(msg, fields...)
	default:
		l.logger.Debug(msg, fields...)
	}
}

func pgxField(key string, value any) zap.Field {
	switch v := value.(type) {
	case string:
		if key == "sql" {
			return zap.String(key, compactSQL(v))
		}
		return zap.String(key, v)
	case []any:
		// 参数值可能是供应商、物料编码等业务数据
		if key == "args" {
			return zap.Int("arg_count", len(v))
		}
		return zap.Any(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case error:
		return zap.NamedError(key, v)
	default:
		return zap.Any(key, v)
	}
}

// compactSQL 多行模板压成一行
func compactSQL(sql string) string {
	out := strings.Join(strings.Fields(sql), " ")
	if runes := []rune(out); len(runes) > maxLoggedSQLRunes {
		return string(runes[:maxLoggedSQLRunes]) + "..."
	}
	return out
}

func parsePgxLogLevel(level string) tracelog.LogLevel {
	if lvl, ok := pgxLevels[strings.ToLower(level)]; ok {
		return lvl
	}
	return tracelog.LogLevelWarn
}

// GetLogLevel 当前日志级别
func (l *PgxZapLogger) GetLogLevel() tracelog.LogLevel {
	return l.level
}
