package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义治理参考资料的检索接口。
type Provider interface {
	Query(text string, category string) []Snippet
}

// Snippet 描述可供公民在提示词中引用的一段资料，例如宪法条款或过往决议。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	// Categories 限定资料适用的提案类别，为空表示适用于全部类别。
	Categories []string `json:"categories"`
}

// StaticProvider 通过加载 JSON 文件提供静态检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态资料库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载资料条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("资料库文件路径不能为空")
	}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("读取资料库文件失败: %w", err)
	}

	var entries []Snippet
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, fmt.Errorf("解析资料库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 按关键词匹配文本，并按类别过滤。category 为空时不过滤。
func (p *StaticProvider) Query(text string, category string) []Snippet {
	if p == nil {
		return nil
	}

	text = strings.ToLower(strings.TrimSpace(text))
	category = strings.ToLower(strings.TrimSpace(category))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if !inCategory(item, category) || !mentions(item, text) {
			continue
		}
		results = append(results, item)
		if len(results) >= p.maxResults {
			break
		}
	}
	return results
}

func inCategory(snippet Snippet, category string) bool {
	if category == "" || len(snippet.Categories) == 0 {
		return true
	}
	for _, c := range snippet.Categories {
		if strings.EqualFold(strings.TrimSpace(c), category) {
			return true
		}
	}
	return false
}

// 没有关键词的条目视为通用资料，总是命中。
func mentions(snippet Snippet, text string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized != "" && strings.Contains(text, normalized) {
			return true
		}
	}
	return false
}

// Format 将资料渲染为提示词中的引用段落。没有资料时返回空字符串。
func Format(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Reference material:\n")
	for i, s := range snippets {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, strings.TrimSpace(s.Title), strings.TrimSpace(s.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

var _ Provider = (*StaticProvider)(nil)
