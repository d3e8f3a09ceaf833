package repository

import "errors"

// 规则存储的哨兵错误，实现方用%w包装后返回
var (
	ErrNotFound         = errors.New("记录不存在")
	ErrDuplicateEntry   = errors.New("规则ID已存在")
	ErrInvalidInput     = errors.New("规则未通过校验")
	ErrConnectionFailed = errors.New("规则存储连接失败")
	ErrTimeout          = errors.New("规则存储操作超时")
)

// ErrorKind 错误分类，HTTP层据此选择状态码
type ErrorKind string

const (
	KindUnknown     ErrorKind = ""
	KindNotFound    ErrorKind = "not_found"
	KindDuplicate   ErrorKind = "duplicate"
	KindInvalid     ErrorKind = "invalid"
	KindUnavailable ErrorKind = "unavailable"
	KindTimeout     ErrorKind = "timeout"
)

var kinds = []struct {
	sentinel error
	kind     ErrorKind
}{
	{ErrNotFound, KindNotFound},
	{ErrDuplicateEntry, KindDuplicate},
	{ErrInvalidInput, KindInvalid},
	// 超时优先于连接失败，classify可能同时包装两者
	{ErrTimeout, KindTimeout},
	{ErrConnectionFailed, KindUnavailable},
}

// Kind 返回err链上第一个匹配的分类，非存储错误返回KindUnknown
func Kind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindUnknown
}

// IsNotFound 规则或修订不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
