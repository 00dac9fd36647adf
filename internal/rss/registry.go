package rss

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Listing 订阅源的名称和地址。
type Listing struct {
	Name string
	URL  string
}

// Registry 订阅源名称到订阅源的映射，是持久化的唯一根。
// Registry 只负责内存中的状态，调用方在每次修改后自行保存。
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]*Feed
	opts  Options
}

// NewRegistry 创建空的注册表，opts 用于之后新建的订阅源。
func NewRegistry(opts Options) *Registry {
	return &Registry{
		feeds: make(map[string]*Feed),
		opts:  opts,
	}
}

// Options 返回新建订阅源使用的参数。
func (r *Registry) Options() Options { return r.opts }

// AddFeed 新增订阅源。名称已存在时返回 ErrDuplicateName。
func (r *Registry) AddFeed(name, url string) error {
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return fmt.Errorf("非法的订阅源名称 %q", name)
	}
	if url == "" {
		return fmt.Errorf("订阅源 %s 缺少地址", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.feeds[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	r.feeds[name] = NewFeed(name, url, r.opts)
	return nil
}

// RemoveFeed 删除订阅源及其历史和屏蔽词。不存在时返回 ErrNotFound。
func (r *Registry) RemoveFeed(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.feeds[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.feeds, name)
	return nil
}

// GetFeed 按名称查找订阅源。
func (r *Registry) GetFeed(name string) (*Feed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.feeds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, nil
}

// Lookup 按名称或地址查找订阅源，名称优先。
func (r *Registry) Lookup(nameOrURL string) (*Feed, error) {
	if f, err := r.GetFeed(nameOrURL); err == nil {
		return f, nil
	}
	for _, f := range r.Feeds() {
		if f.URL() == nameOrURL {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, nameOrURL)
}

// ListFeeds 按名称排序返回所有订阅源的名称和地址。
func (r *Registry) ListFeeds() []Listing {
	feeds := r.Feeds()
	out := make([]Listing, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, Listing{Name: f.Name(), URL: f.URL()})
	}
	return out
}

// Feeds 按名称排序返回订阅源。
func (r *Registry) Feeds() []*Feed {
	r.mu.RLock()
	out := make([]*Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		out = append(out, f)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len 返回订阅源数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}

// Snapshot 返回所有订阅源的快照。每个订阅源单独加锁复制。
func (r *Registry) Snapshot() map[string]Snapshot {
	feeds := r.Feeds()
	out := make(map[string]Snapshot, len(feeds))
	for _, f := range feeds {
		out[f.Name()] = f.Snapshot()
	}
	return out
}

// restore 直接放入一个从快照重建的订阅源，仅在加载时使用。
func (r *Registry) restore(name string, s Snapshot) {
	r.mu.Lock()
	r.feeds[name] = restoreFeed(name, s, r.opts)
	r.mu.Unlock()
}
