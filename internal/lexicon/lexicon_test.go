package lexicon

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLexicon_LookupCategory(t *testing.T) {
	lex := Default()

	testCases := []struct {
		name     string
		text     string
		expected Category
		found    bool
	}{
		{"supplier", "查询BOE供应商的库存", CategorySupplier, true},
		{"factory", "重庆工厂的库存", CategoryFactory, true},
		{"material", "电池盖来料情况", CategoryMaterial, true},
		{"risk level before status", "高风险物料", CategoryRiskLevel, true},
		{"status", "冻结的批次", CategoryStatus, true},
		{"case sensitive", "查询boe库存", "", false},
		{"no hit", "今天天气怎么样", "", false},
		{"empty", "", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			category, ok := lex.LookupCategory(tc.text)
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.expected, category)
		})
	}
}

func TestLexicon_FirstCategoryWins(t *testing.T) {
	lex := MustNew([]Entry{
		{Category: "a", Terms: []string{"苹果"}},
		{Category: "b", Terms: []string{"苹果", "香蕉"}},
	})

	category, ok := lex.LookupCategory("苹果和香蕉")
	require.True(t, ok)
	assert.Equal(t, Category("a"), category)

	// 调换声明顺序后结果随之变化
	lex = MustNew([]Entry{
		{Category: "b", Terms: []string{"苹果", "香蕉"}},
		{Category: "a", Terms: []string{"苹果"}},
	})
	category, _ = lex.LookupCategory("苹果和香蕉")
	assert.Equal(t, Category("b"), category)
}

func TestLexicon_Extract(t *testing.T) {
	lex := Default()

	hits := lex.Extract("查询BOE和天马在重庆工厂的冻结电池")
	assert.Equal(t, []Hit{
		{Category: CategorySupplier, Term: "BOE"},
		{Category: CategoryFactory, Term: "重庆工厂"},
		{Category: CategoryMaterial, Term: "电池"},
		{Category: CategoryStatus, Term: "冻结"},
	}, hits)

	// 同一类别只记录第一个声明的词条
	hits = lex.Extract("天马和BOE")
	require.Len(t, hits, 1)
	assert.Equal(t, "BOE", hits[0].Term)

	assert.Nil(t, lex.Extract(""))
	assert.Empty(t, lex.Extract("完全无关的文本"))
}

func TestLexicon_FindIn(t *testing.T) {
	lex := Default()

	term, ok := lex.FindIn(CategoryMaterial, "电池盖不良")
	require.True(t, ok)
	assert.Equal(t, "电池盖", term)

	_, ok = lex.FindIn(CategorySupplier, "电池盖不良")
	assert.False(t, ok)

	_, ok = lex.FindIn("unknown", "BOE")
	assert.False(t, ok)
}

func TestNew_Validation(t *testing.T) {
	_, err := New([]Entry{{Category: "", Terms: []string{"x"}}})
	assert.Error(t, err)

	_, err = New([]Entry{{Category: "a"}, {Category: "a"}})
	assert.Error(t, err)

	_, err = New([]Entry{{Category: "a", Terms: []string{" "}}})
	assert.Error(t, err)

	terms := []string{"BOE"}
	lex, err := New([]Entry{{Category: CategorySupplier, Terms: terms}})
	require.NoError(t, err)
	terms[0] = "changed"
	assert.Equal(t, []string{"BOE"}, lex.Terms(CategorySupplier), "词典不应受输入切片修改影响")
}

func TestParse(t *testing.T) {
	data := []byte(`
categories:
  - category: supplier
    terms: [BOE, 天马]
  - category: status
    terms: [冻结]
`)
	lex, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []Category{CategorySupplier, CategoryStatus}, lex.Categories())
	assert.Equal(t, 3, lex.Size())

	_, err = Parse([]byte("categories: []"))
	assert.Error(t, err)

	_, err = Parse([]byte("categories:\n  - category: a\n    words: [x]\n"))
	assert.Error(t, err, "未知字段应报错")
}

func TestMarshal_RoundTrip(t *testing.T) {
	data, err := Marshal(Default())
	require.NoError(t, err)

	lex, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default().Entries(), lex.Entries())
}

func TestStore_ReloadFile(t *testing.T) {
	store := NewStore(nil, zaptest.NewLogger(t))
	require.Equal(t, Default().Size(), store.Current().Size())

	dir := t.TempDir()
	path := filepath.Join(dir, "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories:\n  - category: supplier\n    terms: [新供应商]\n"), 0o600))

	require.NoError(t, store.ReloadFile(path))
	hit, ok := store.Current().Find("新供应商的库存")
	require.True(t, ok)
	assert.Equal(t, CategorySupplier, hit.Category)

	// 坏文件不影响当前词典
	require.NoError(t, os.WriteFile(path, []byte("categories: [[["), 0o600))
	assert.Error(t, store.ReloadFile(path))
	assert.Equal(t, 1, store.Current().Size())
}

func TestStore_ConcurrentReadersDuringReplace(t *testing.T) {
	store := NewStore(nil, nil)
	small := MustNew([]Entry{{Category: CategorySupplier, Terms: []string{"BOE"}}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				lex := store.Current()
				// 任何时刻读到的都是完整的词典
				size := lex.Size()
				assert.True(t, size == 1 || size == Default().Size())
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			store.Replace(small)
		} else {
			store.Replace(Default())
		}
	}
	wg.Wait()
}
