// Package datastore 在外部数据源上执行已绑定的查询
package datastore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
)

// 占位符方言
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Executor 执行参数化查询。sql中只有占位符，值通过args传入
type Executor interface {
	Dialect() string
	Query(ctx context.Context, sql string, args []any) ([]map[string]any, error)
}

// Options 执行器配置
type Options struct {
	QueryTimeout time.Duration
	MaxRows      int
}

// DefaultOptions 默认超时和行数上限
func DefaultOptions() Options {
	return Options{QueryTimeout: 15 * time.Second, MaxRows: 5000}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = d.QueryTimeout
	}
	if o.MaxRows <= 0 {
		o.MaxRows = d.MaxRows
	}
	return o
}

// convertValue 转换为JSON友好的值
func convertValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return v
	case []byte:
		if utf8.Valid(v) {
			return string(v)
		}
		return fmt.Sprintf("base64:%s", base64.StdEncoding.EncodeToString(v))
	case json.Number:
		return v.String()
	case pgtype.Numeric:
		if !v.Valid {
			return nil
		}
		f, err := v.Float64Value()
		if err != nil || !f.Valid || math.IsNaN(f.Float64) || math.IsInf(f.Float64, 0) {
			// NaN和无穷大无法编码为JSON数字，保留文本形式
			if text, err := v.Value(); err == nil {
				return text
			}
			return nil
		}
		return f.Float64
	default:
		return value
	}
}
