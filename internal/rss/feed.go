// Package rss 管理 RSS/Atom 订阅源的状态：已展示历史、屏蔽词、增量比对以及持久化。
package rss

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDuplicateName 订阅源名称已存在。
	ErrDuplicateName = errors.New("订阅源名称已存在")
	// ErrNotFound 订阅源不存在。
	ErrNotFound = errors.New("订阅源不存在")
	// ErrCorruptState 状态文件无法解析。
	ErrCorruptState = errors.New("状态文件已损坏")
	// ErrFetchFailed 抓取或解析订阅源失败。
	ErrFetchFailed = errors.New("抓取订阅源失败")
)

// MaxAgeLimit 条目最大年龄的上限，状态文件按整秒保存。
const MaxAgeLimit = 100 * 365 * 24 * time.Hour

// Entry 一次抓取得到的订阅条目，只读，不持久化（ID 除外）。
type Entry struct {
	ID        string
	Title     string
	Link      string
	Summary   string
	Author    string
	Published time.Time // 未知时为零值
}

// Key 返回条目的去重键：优先 ID，其次链接，最后是标题和链接的 SHA-1。
func (e Entry) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return entryKey("", e.Link, e.Title)
}

func entryKey(guid, link, title string) string {
	if guid != "" {
		return guid
	}
	if link != "" {
		return link
	}
	sum := sha1.Sum([]byte(title + "\n" + link))
	return hex.EncodeToString(sum[:])
}

// Options 新建订阅源时使用的参数。
type Options struct {
	// HistoryCapacity 历史记录容量。
	HistoryCapacity int
	// MaxAge 条目最大年龄，超过则不展示；0 表示不限制。
	MaxAge time.Duration
	// BlacklistConsumesHistory 为 true 时被屏蔽的条目也记入历史，
	// 之后即使移除屏蔽词也不会再出现。
	BlacklistConsumesHistory bool
}

// DefaultOptions 返回默认参数。
func DefaultOptions() Options {
	return Options{HistoryCapacity: DefaultHistoryCapacity}
}

// Feed 单个订阅源，持有自己的历史记录和屏蔽词。所有方法都是并发安全的。
type Feed struct {
	mu        sync.Mutex
	name      string
	url       string
	history   *History
	blacklist *Blacklist
	maxAge    time.Duration
	consume   bool
	now       func() time.Time
}

// NewFeed 创建一个历史和屏蔽词都为空的订阅源。
func NewFeed(name, url string, opts Options) *Feed {
	return &Feed{
		name:      name,
		url:       url,
		history:   NewHistory(opts.HistoryCapacity),
		blacklist: NewBlacklist(),
		maxAge:    opts.MaxAge,
		consume:   opts.BlacklistConsumesHistory,
		now:       time.Now,
	}
}

// Name 返回订阅源名称，创建后不可变。
func (f *Feed) Name() string { return f.name }

// URL 返回订阅源地址。
func (f *Feed) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

// SetURL 更新订阅源地址，历史和屏蔽词保持不变。
func (f *Feed) SetURL(url string) {
	f.mu.Lock()
	f.url = url
	f.mu.Unlock()
}

// MaxAge 返回条目最大年龄。
func (f *Feed) MaxAge() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxAge
}

// SetMaxAge 设置条目最大年龄，0 表示不限制。
func (f *Feed) SetMaxAge(d time.Duration) {
	if d < 0 {
		d = 0
	}
	f.mu.Lock()
	f.maxAge = d
	f.mu.Unlock()
}

// Block 添加屏蔽词，返回是否新增。
func (f *Feed) Block(term string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blacklist.Add(term)
}

// Unblock 移除屏蔽词，返回是否确实移除。
func (f *Feed) Unblock(term string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blacklist.Remove(term)
}

// Terms 返回当前屏蔽词。
func (f *Feed) Terms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blacklist.Terms()
}

// Seen 判断条目是否已展示过。
func (f *Feed) Seen(e Entry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history.Contains(e.Key())
}

// Diff 从新抓取的条目中挑出未展示、未被屏蔽的部分，保持输入顺序。
// 入选条目立即记入历史，因此同一批次里重复出现的条目只会返回一次。
// 被屏蔽或过旧的条目不记入历史（除非开启了 BlacklistConsumesHistory）。
func (f *Feed) Diff(raw []Entry) []Entry {
	if len(raw) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var cutoff time.Time
	if f.maxAge > 0 {
		cutoff = f.now().Add(-f.maxAge)
	}

	var fresh []Entry
	for _, e := range raw {
		key := e.Key()
		if f.history.Contains(key) {
			continue
		}
		if f.blacklist.IsBlocked(e) {
			if f.consume {
				f.history.Record(key)
			}
			continue
		}
		if !cutoff.IsZero() && !e.Published.IsZero() && e.Published.Before(cutoff) {
			continue
		}
		fresh = append(fresh, e)
		f.history.Record(key)
	}
	return fresh
}

// Snapshot 订阅源的可持久化快照。
type Snapshot struct {
	URL       string
	History   []string
	Blacklist []string
	Capacity  int
	MaxAge    time.Duration
}

// Snapshot 在锁内复制当前状态。
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{
		URL:       f.url,
		History:   f.history.IDs(),
		Blacklist: f.blacklist.Terms(),
		Capacity:  f.history.Capacity(),
		MaxAge:    f.maxAge,
	}
}

// restoreFeed 用快照重建订阅源。快照需事先校验。
func restoreFeed(name string, s Snapshot, opts Options) *Feed {
	opts.HistoryCapacity = s.Capacity
	opts.MaxAge = s.MaxAge
	f := NewFeed(name, s.URL, opts)
	for _, id := range s.History {
		f.history.Record(id)
	}
	for _, t := range s.Blacklist {
		f.blacklist.Add(t)
	}
	return f
}
