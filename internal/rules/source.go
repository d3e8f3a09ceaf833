package rules

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source 规则来源
type Source interface {
	LoadRules(ctx context.Context) ([]*Rule, error)
	Name() string
}

// SourceFunc 函数形式的规则来源
type SourceFunc func(ctx context.Context) ([]*Rule, error)

// LoadRules 实现Source
func (f SourceFunc) LoadRules(ctx context.Context) ([]*Rule, error) {
	return f(ctx)
}

// Name 实现Source
func (f SourceFunc) Name() string {
	return "func"
}

// StaticSource 固定规则，每次加载返回深拷贝
func StaticSource(batch ...*Rule) Source {
	return SourceFunc(func(ctx context.Context) ([]*Rule, error) {
		out := make([]*Rule, len(batch))
		for i, r := range batch {
			out[i] = r.Clone()
		}
		return out, nil
	})
}

type catalogFile struct {
	Rules []*Rule `yaml:"rules"`
}

// FileSource 从YAML文件加载规则
type FileSource struct {
	Path string
}

// NewFileSource 创建文件来源
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Name 实现Source
func (s *FileSource) Name() string {
	return "file:" + s.Path
}

// LoadRules 读取并解析规则文件
func (s *FileSource) LoadRules(ctx context.Context) ([]*Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("读取规则文件失败: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog 解析YAML规则目录，未知字段视为错误
func ParseCatalog(data []byte) ([]*Rule, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("解析规则文件失败: %w", err)
	}
	return file.Rules, nil
}

// MarshalCatalog 导出规则为YAML
func MarshalCatalog(batch []*Rule) ([]byte, error) {
	return yaml.Marshal(catalogFile{Rules: batch})
}
