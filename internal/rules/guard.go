package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// TemplateGuard 规则模板的安全检查
// 在规则加载时执行：只允许单条语句，只读规则只能是查询，任何规则都不能包含DDL和权限语句
type TemplateGuard struct {
	logger *zap.Logger

	maxLength         int
	readOnly          []string
	writeStatements   []string
	forbiddenKeywords []*regexp.Regexp
	suspicious        []*regexp.Regexp
}

// GuardViolation 模板违规
type GuardViolation struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (v GuardViolation) Error() string {
	return fmt.Sprintf("模板安全检查未通过 [%s]: %s", v.Type, v.Message)
}

// NewTemplateGuard 创建模板检查器
func NewTemplateGuard(logger *zap.Logger) *TemplateGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &TemplateGuard{
		logger:          logger,
		maxLength:       10000,
		readOnly:        []string{"SELECT", "WITH"},
		writeStatements: []string{"UPDATE", "INSERT", "DELETE"},
	}

	for _, kw := range []string{
		"DROP", "CREATE", "ALTER", "TRUNCATE", "GRANT", "REVOKE",
		"CALL", "EXEC", "EXECUTE", "DECLARE", "COPY",
		"LOAD_FILE", "OUTFILE", "DUMPFILE", "SHUTDOWN",
	} {
		g.forbiddenKeywords = append(g.forbiddenKeywords, regexp.MustCompile(`(?i)\b`+kw+`\b`))
	}
	for _, p := range []string{
		`--[^\r\n]*`,
		`/\*[\s\S]*?\*/`,
		`(?i)\bunion\s+(all\s+)?select\b`,
		`(?i)\bpg_sleep\s*\(`,
		`(?i)\bsleep\s*\(`,
		`(?i)\bwaitfor\s+delay\b`,
		`(?i)\bbenchmark\s*\(`,
		`(?i)\b(and|or)\s+1\s*=\s*[12]\b`,
	} {
		g.suspicious = append(g.suspicious, regexp.MustCompile(p))
	}
	return g
}

// Check 检查模板，allowWrite为true时允许UPDATE/INSERT/DELETE
func (g *TemplateGuard) Check(tmpl *Template, allowWrite bool) error {
	src := tmpl.Source()
	if len(src) > g.maxLength {
		return GuardViolation{Type: "LENGTH", Message: fmt.Sprintf("模板长度超过限制(%d字符)", g.maxLength)}
	}

	// 只检查引号外的文本，字符串常量里出现关键词不算
	code := g.codeOutsideQuotes(tmpl)

	if n := statementCount(code); n > 1 {
		return GuardViolation{Type: "MULTI_STATEMENT", Message: fmt.Sprintf("模板只允许一条语句，检测到%d条", n)}
	}

	stmt := statementType(code)
	allowed := g.readOnly
	if allowWrite {
		allowed = append(append([]string(nil), g.readOnly...), g.writeStatements...)
	}
	if !contains(allowed, stmt) {
		return GuardViolation{Type: "STATEMENT_TYPE", Message: fmt.Sprintf("不允许的语句类型: %s", stmt)}
	}

	for _, re := range g.forbiddenKeywords {
		if m := re.FindString(code); m != "" {
			return GuardViolation{Type: "FORBIDDEN_KEYWORD", Message: fmt.Sprintf("检测到禁止使用的关键词: %s", strings.ToUpper(m))}
		}
	}
	for _, re := range g.suspicious {
		if m := re.FindString(code); m != "" {
			g.logger.Warn("Suspicious pattern in rule template", zap.String("match", m))
			return GuardViolation{Type: "SUSPICIOUS_PATTERN", Message: fmt.Sprintf("检测到可疑模式: %s", m)}
		}
	}
	if suspiciousEncoding(src, code) {
		return GuardViolation{Type: "ENCODING", Message: "模板包含不可见字符或连续的十六进制常量"}
	}
	return nil
}

var hexLiteral = regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b`)

// suspiciousEncoding 不可见字符检查整个模板，十六进制常量只看引号外
func suspiciousEncoding(src, code string) bool {
	for _, r := range src {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return true
		}
	}
	return len(hexLiteral.FindAllString(code, 3)) > 2
}

func (g *TemplateGuard) codeOutsideQuotes(tmpl *Template) string {
	var b strings.Builder
	for _, seg := range tmpl.Segments() {
		if seg.Param != "" {
			b.WriteString(" :")
			b.WriteString(seg.Param)
			b.WriteString(" ")
			continue
		}
		b.WriteString(stripQuoted(seg.Text))
	}
	return b.String()
}

// stripQuoted 将引号内容替换为空字符串常量
func stripQuoted(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\'' || runes[i] == '"' {
			if end, ok := closingQuote(runes, i); ok {
				b.WriteString("''")
				i = end
				continue
			}
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

// statementCount 分号分隔的非空语句数
func statementCount(code string) int {
	n := 0
	for _, part := range strings.Split(code, ";") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}

func statementType(code string) string {
	fields := strings.Fields(strings.TrimLeft(code, " \t\r\n("))
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	return strings.ToUpper(strings.TrimRight(fields[0], "("))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
