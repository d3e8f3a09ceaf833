package lexicon

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile 词典文件格式
//
//	categories:
//	  - category: supplier
//	    terms: [BOE, 天马]
type catalogFile struct {
	Categories []Entry `yaml:"categories"`
}

// LoadFile 读取YAML词典文件
func LoadFile(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取词典文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析YAML词典，未知字段视为错误
func Parse(data []byte) (*Lexicon, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("解析词典失败: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("词典为空")
	}
	return New(file.Categories)
}

// Marshal 导出为YAML，用于生成默认词典文件
func Marshal(l *Lexicon) ([]byte, error) {
	return yaml.Marshal(catalogFile{Categories: l.Entries()})
}
