package rules

import (
	"fmt"
	"strings"
)

// Segment 模板片段，Param非空时为命名占位符，否则为原样输出的文本
type Segment struct {
	Text  string
	Param string
}

// Template 解析后的查询模板
//
// 占位符写作 :name；单引号字符串、双引号标识符和 :: 类型转换内的冒号不视为占位符
type Template struct {
	source   string
	segments []Segment
	names    []string
}

// ParseTemplate 解析模板
func ParseTemplate(src string) (*Template, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("模板不能为空")
	}

	t := &Template{source: src}
	seen := make(map[string]struct{})
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			t.segments = append(t.segments, Segment{Text: text.String()})
			text.Reset()
		}
	}

	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"':
			end, ok := closingQuote(runes, i)
			if !ok {
				return nil, fmt.Errorf("模板第%d个字符处的引号未闭合", i+1)
			}
			text.WriteString(string(runes[i : end+1]))
			i = end
		case r == ':' && i+1 < len(runes) && runes[i+1] == ':':
			text.WriteString("::")
			i++
		case r == ':' && i+1 < len(runes) && isNameStart(runes[i+1]):
			j := i + 1
			for j < len(runes) && isNamePart(runes[j]) {
				j++
			}
			name := string(runes[i+1 : j])
			flush()
			t.segments = append(t.segments, Segment{Param: name})
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				t.names = append(t.names, name)
			}
			i = j - 1
		default:
			text.WriteRune(r)
		}
	}
	flush()
	return t, nil
}

// closingQuote 返回与start处引号配对的位置，连续两个引号视为转义
func closingQuote(runes []rune, start int) (int, bool) {
	q := runes[start]
	for i := start + 1; i < len(runes); i++ {
		if runes[i] != q {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == q {
			i++
			continue
		}
		return i, true
	}
	return 0, false
}

func isNameStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isNamePart(r rune) bool {
	return isNameStart(r) || (r >= '0' && r <= '9')
}

// Source 原始模板文本
func (t *Template) Source() string {
	return t.source
}

// Placeholders 去重后的占位符名称，按首次出现顺序
func (t *Template) Placeholders() []string {
	return append([]string(nil), t.names...)
}

// Segments 模板片段
func (t *Template) Segments() []Segment {
	return t.segments
}

// Render 按方言渲染占位符，返回SQL和每个位置对应的参数名
// postgres使用$n，同名参数复用同一序号；其他方言使用?，同名参数重复出现
func (t *Template) Render(dialect string) (string, []string) {
	var b strings.Builder
	var order []string
	index := make(map[string]int)

	for _, seg := range t.segments {
		if seg.Param == "" {
			b.WriteString(seg.Text)
			continue
		}
		if dialect == "postgres" {
			n, ok := index[seg.Param]
			if !ok {
				order = append(order, seg.Param)
				n = len(order)
				index[seg.Param] = n
			}
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		order = append(order, seg.Param)
		b.WriteByte('?')
	}
	return b.String(), order
}
