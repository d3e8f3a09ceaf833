// Package lexicon 提供实体词典和相对时间短语解析。
//
// 词典按声明顺序扫描：类别按声明顺序，类别内的词条也按声明顺序。
// 同一段文本命中多个类别时，LookupCategory返回第一个类别；
// 同一类别命中多个词条时，Extract只记录第一个。因此较长、较具体的词条应声明在前。
package lexicon

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Category 实体类别，同时作为过滤条件的键
type Category string

const (
	CategorySupplier  Category = "supplier"
	CategoryFactory   Category = "factory"
	CategoryProject   Category = "project"
	CategoryMaterial  Category = "material_category"
	CategoryRiskLevel Category = "risk_level"
	CategoryStatus    Category = "status"
)

// Entry 一个类别及其词条
type Entry struct {
	Category Category `yaml:"category" json:"category"`
	Terms    []string `yaml:"terms" json:"terms"`
}

// Hit 一次词典命中
type Hit struct {
	Category Category `json:"category"`
	Term     string   `json:"term"`
}

// Lexicon 只读的实体词典，创建后不再修改
type Lexicon struct {
	entries []Entry
}

// New 创建词典，拷贝输入避免外部修改
func New(entries []Entry) (*Lexicon, error) {
	seen := make(map[Category]struct{}, len(entries))
	copied := make([]Entry, 0, len(entries))
	for i, e := range entries {
		if e.Category == "" {
			return nil, fmt.Errorf("第%d个词典类别名称为空", i+1)
		}
		if _, dup := seen[e.Category]; dup {
			return nil, fmt.Errorf("词典类别重复: %s", e.Category)
		}
		seen[e.Category] = struct{}{}

		terms := make([]string, 0, len(e.Terms))
		for _, term := range e.Terms {
			term = strings.TrimSpace(term)
			if term == "" {
				return nil, fmt.Errorf("类别%s包含空词条", e.Category)
			}
			terms = append(terms, term)
		}
		copied = append(copied, Entry{Category: e.Category, Terms: terms})
	}
	return &Lexicon{entries: copied}, nil
}

// MustNew 用于内置词典
func MustNew(entries []Entry) *Lexicon {
	l, err := New(entries)
	if err != nil {
		panic(err)
	}
	return l
}

// Categories 按声明顺序返回类别
func (l *Lexicon) Categories() []Category {
	out := make([]Category, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Category
	}
	return out
}

// Terms 返回类别下的词条副本
func (l *Lexicon) Terms(c Category) []string {
	for _, e := range l.entries {
		if e.Category == c {
			return append([]string(nil), e.Terms...)
		}
	}
	return nil
}

// Size 词条总数
func (l *Lexicon) Size() int {
	n := 0
	for _, e := range l.entries {
		n += len(e.Terms)
	}
	return n
}

// Find 返回文本中第一个命中的词条，区分大小写
func (l *Lexicon) Find(text string) (Hit, bool) {
	for _, e := range l.entries {
		if term, ok := firstTerm(e.Terms, text); ok {
			return Hit{Category: e.Category, Term: term}, true
		}
	}
	return Hit{}, false
}

// LookupCategory 返回文本所属的第一个类别
func (l *Lexicon) LookupCategory(text string) (Category, bool) {
	hit, ok := l.Find(text)
	return hit.Category, ok
}

// FindIn 只在指定类别中查找
func (l *Lexicon) FindIn(c Category, text string) (string, bool) {
	for _, e := range l.entries {
		if e.Category == c {
			return firstTerm(e.Terms, text)
		}
	}
	return "", false
}

// Extract 每个类别记录第一个命中的词条，按类别声明顺序返回
func (l *Lexicon) Extract(text string) []Hit {
	if text == "" {
		return nil
	}
	var hits []Hit
	for _, e := range l.entries {
		if term, ok := firstTerm(e.Terms, text); ok {
			hits = append(hits, Hit{Category: e.Category, Term: term})
		}
	}
	return hits
}

// Entries 返回全部词条的副本，用于导出
func (l *Lexicon) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = Entry{Category: e.Category, Terms: append([]string(nil), e.Terms...)}
	}
	return out
}

func firstTerm(terms []string, text string) (string, bool) {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return term, true
		}
	}
	return "", false
}

// Store 持有当前生效的词典，整体替换
type Store struct {
	current atomic.Pointer[Lexicon]
	logger  *zap.Logger
}

// NewStore 创建词典存储，initial为nil时使用内置词典
func NewStore(initial *Lexicon, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if initial == nil {
		initial = Default()
	}
	s := &Store{logger: logger}
	s.current.Store(initial)
	return s
}

// Current 当前词典，读者拿到的是不可变快照
func (s *Store) Current() *Lexicon {
	return s.current.Load()
}

// Replace 原子替换词典
func (s *Store) Replace(l *Lexicon) {
	if l == nil {
		return
	}
	s.current.Store(l)
	s.logger.Info("Lexicon replaced",
		zap.Int("categories", len(l.entries)),
		zap.Int("terms", l.Size()))
}

// ReloadFile 从YAML文件重新加载，失败时保留旧词典
func (s *Store) ReloadFile(path string) error {
	l, err := LoadFile(path)
	if err != nil {
		s.logger.Warn("Lexicon reload failed, keeping previous snapshot",
			zap.String("path", path), zap.Error(err))
		return err
	}
	s.Replace(l)
	return nil
}

// Default 内置词典
func Default() *Lexicon {
	return MustNew([]Entry{
		{Category: CategorySupplier, Terms: []string{
			"BOE", "天马", "华星", "聚龙", "欣旺达", "德赛", "东声", "瑞声", "歌尔", "富群", "理威", "百佳达", "光弘",
		}},
		{Category: CategoryFactory, Terms: []string{
			"重庆工厂", "深圳工厂", "南昌工厂", "宜宾工厂",
		}},
		{Category: CategoryProject, Terms: []string{
			"X6827", "X6000", "S662", "KI5K",
		}},
		{Category: CategoryMaterial, Terms: []string{
			"电池盖", "电池", "中框", "显示屏", "摄像头", "扬声器", "充电器", "包材", "结构件",
		}},
		{Category: CategoryRiskLevel, Terms: []string{
			"高风险", "中风险", "低风险",
		}},
		{Category: CategoryStatus, Terms: []string{
			"不合格", "合格", "冻结", "风险", "正常",
		}},
	})
}
