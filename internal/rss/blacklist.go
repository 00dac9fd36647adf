package rss

import (
	"sort"
	"strings"
)

// Blacklist 订阅源的屏蔽词集合。匹配不区分大小写，命中标题或摘要的子串即屏蔽。
type Blacklist struct {
	terms map[string]struct{}
}

// NewBlacklist 创建屏蔽词集合。
func NewBlacklist(terms ...string) *Blacklist {
	b := &Blacklist{terms: make(map[string]struct{})}
	for _, t := range terms {
		b.Add(t)
	}
	return b
}

func normalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// Add 添加屏蔽词，返回集合是否发生变化。空词被忽略。
func (b *Blacklist) Add(term string) bool {
	term = normalizeTerm(term)
	if term == "" {
		return false
	}
	if _, ok := b.terms[term]; ok {
		return false
	}
	b.terms[term] = struct{}{}
	return true
}

// Remove 移除屏蔽词，不存在时什么也不做，返回集合是否发生变化。
func (b *Blacklist) Remove(term string) bool {
	term = normalizeTerm(term)
	if _, ok := b.terms[term]; !ok {
		return false
	}
	delete(b.terms, term)
	return true
}

// IsBlocked 判断条目是否命中任一屏蔽词。
func (b *Blacklist) IsBlocked(e Entry) bool {
	if len(b.terms) == 0 {
		return false
	}
	title := strings.ToLower(e.Title)
	summary := strings.ToLower(e.Summary)
	for term := range b.terms {
		if strings.Contains(title, term) || strings.Contains(summary, term) {
			return true
		}
	}
	return false
}

// Len 返回屏蔽词数量。
func (b *Blacklist) Len() int { return len(b.terms) }

// Terms 返回排好序的屏蔽词副本。
func (b *Blacklist) Terms() []string {
	out := make([]string, 0, len(b.terms))
	for t := range b.terms {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
