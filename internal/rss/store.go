package rss

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/iabetor/feedbot/internal/logger"
)

// stateDocument 状态文件的顶层结构。
type stateDocument struct {
	Feeds feedMap `json:"feeds"`
}

type feedDocument struct {
	URL           string   `json:"url"`
	History       []string `json:"history"`
	Blacklist     []string `json:"blacklist"`
	Capacity      *int     `json:"capacity,omitempty"`
	MaxAgeSeconds int64    `json:"max_age_seconds,omitempty"`
	MaxAgeMinutes int64    `json:"max_age_minutes,omitempty"` // 旧格式，只读
}

// feedMap 逐个读取 feeds 对象的键，重复的订阅源名称视为损坏。
type feedMap map[string]feedDocument

func (m *feedMap) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if tok, err := dec.Token(); err != nil {
		return err
	} else if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("feeds 必须是对象")
	}

	out := make(feedMap)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string)
		if _, dup := out[name]; dup {
			return fmt.Errorf("订阅源 %q 重复出现", name)
		}
		var fd feedDocument
		if err := dec.Decode(&fd); err != nil {
			return fmt.Errorf("订阅源 %s: %w", name, err)
		}
		out[name] = fd
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// Load 从 path 读取注册表。文件不存在时返回空注册表；
// 内容不合法时返回 ErrCorruptState，不做任何部分恢复。
func Load(path string, opts Options) (*Registry, error) {
	reg := NewRegistry(opts)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return reg, nil
		}
		return nil, fmt.Errorf("读取状态文件 %s 失败: %w", path, err)
	}

	doc, err := decodeState(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
	}

	for name, fd := range doc.Feeds {
		snap, err := fd.snapshot(name, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
		}
		reg.restore(name, snap)
	}
	return reg, nil
}

func decodeState(data []byte) (*stateDocument, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var doc stateDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("文档末尾存在多余内容")
	}
	if doc.Feeds == nil {
		return nil, errors.New("缺少 feeds 字段")
	}
	return &doc, nil
}

// snapshot 校验单个订阅源并转换为快照。
func (fd feedDocument) snapshot(name string, opts Options) (Snapshot, error) {
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return Snapshot{}, fmt.Errorf("非法的订阅源名称 %q", name)
	}
	if fd.URL == "" {
		return Snapshot{}, fmt.Errorf("订阅源 %s 缺少 url", name)
	}
	if fd.History == nil || fd.Blacklist == nil {
		return Snapshot{}, fmt.Errorf("订阅源 %s 缺少 history 或 blacklist", name)
	}
	maxAge, err := fd.maxAge()
	if err != nil {
		return Snapshot{}, fmt.Errorf("订阅源 %s: %w", name, err)
	}

	seen := make(map[string]struct{}, len(fd.History))
	for _, id := range fd.History {
		if id == "" {
			return Snapshot{}, fmt.Errorf("订阅源 %s 的历史中有空 ID", name)
		}
		if _, dup := seen[id]; dup {
			return Snapshot{}, fmt.Errorf("订阅源 %s 的历史中有重复 ID %q", name, id)
		}
		seen[id] = struct{}{}
	}

	terms := make(map[string]struct{}, len(fd.Blacklist))
	for _, t := range fd.Blacklist {
		if t == "" || t != normalizeTerm(t) {
			return Snapshot{}, fmt.Errorf("订阅源 %s 的屏蔽词 %q 不规范", name, t)
		}
		if _, dup := terms[t]; dup {
			return Snapshot{}, fmt.Errorf("订阅源 %s 的屏蔽词 %q 重复", name, t)
		}
		terms[t] = struct{}{}
	}

	history := fd.History
	capacity := opts.HistoryCapacity
	if fd.Capacity != nil {
		capacity = *fd.Capacity
		if capacity < 0 {
			return Snapshot{}, fmt.Errorf("订阅源 %s 的 capacity 为负数", name)
		}
		if len(history) > capacity {
			return Snapshot{}, fmt.Errorf("订阅源 %s 的历史长度 %d 超过容量 %d", name, len(history), capacity)
		}
	} else if len(history) > capacity {
		logger.Warnf("[rss] 订阅源 %s 的历史长度 %d 超过配置容量 %d，丢弃最旧的 %d 条",
			name, len(history), capacity, len(history)-capacity)
		history = history[len(history)-capacity:]
	}

	return Snapshot{
		URL:       fd.URL,
		History:   history,
		Blacklist: fd.Blacklist,
		Capacity:  capacity,
		MaxAge:    maxAge,
	}, nil
}

func (fd feedDocument) maxAge() (time.Duration, error) {
	if fd.MaxAgeSeconds != 0 && fd.MaxAgeMinutes != 0 {
		return 0, errors.New("max_age_seconds 与 max_age_minutes 不能同时出现")
	}
	limit := int64(MaxAgeLimit / time.Second)
	secs := fd.MaxAgeSeconds
	if fd.MaxAgeMinutes != 0 {
		if fd.MaxAgeMinutes < 0 || fd.MaxAgeMinutes > limit/60 {
			return 0, fmt.Errorf("max_age_minutes 超出范围: %d", fd.MaxAgeMinutes)
		}
		secs = fd.MaxAgeMinutes * 60
	}
	if secs < 0 || secs > limit {
		return 0, fmt.Errorf("max_age_seconds 超出范围: %d", secs)
	}
	return time.Duration(secs) * time.Second, nil
}

// Save 把注册表完整写入 path：先写同目录下的临时文件，再重命名覆盖，
// 写到一半崩溃也不会破坏已有状态。
func Save(path string, reg *Registry) error {
	snaps := reg.Snapshot()
	doc := stateDocument{Feeds: make(feedMap, len(snaps))}
	for name, s := range snaps {
		capacity := s.Capacity
		// 不足一秒的部分向上取整，避免窗口被截成 0
		secs := int64((s.MaxAge + time.Second - 1) / time.Second)
		doc.Feeds[name] = feedDocument{
			URL:           s.URL,
			History:       s.History,
			Blacklist:     s.Blacklist,
			Capacity:      &capacity,
			MaxAgeSeconds: secs,
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}
	data = append(data, '\n')

	return writeFileAtomic(path, data, 0644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("替换状态文件失败: %w", err)
	}
	return nil
}

// FeedStore 绑定到一个状态文件的存储，保证同一时刻只有一次保存在进行。
type FeedStore struct {
	mu       sync.Mutex
	filePath string
}

// NewFeedStore 创建状态存储，确保目录存在。
func NewFeedStore(dataDir, filename string) (*FeedStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	return &FeedStore{filePath: filepath.Join(dataDir, filename)}, nil
}

// Path 返回状态文件路径。
func (s *FeedStore) Path() string { return s.filePath }

// Load 读取状态文件。
func (s *FeedStore) Load(opts Options) (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := Load(s.filePath, opts)
	if err != nil {
		return nil, err
	}
	logger.Infof("[rss] 已从 %s 加载 %d 个订阅源", s.filePath, reg.Len())
	return reg, nil
}

// Save 保存注册表。
func (s *FeedStore) Save(reg *Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := Save(s.filePath, reg); err != nil {
		return err
	}
	logger.Debugf("[rss] 状态已保存到 %s", s.filePath)
	return nil
}

// ResolveDataDir 确定数据目录：优先使用 dir，其次 $HOME/.<app>；
// 目录不可用时退回到系统临时目录，fallback 为 true 表示发生了退回，调用方应发出警告。
func ResolveDataDir(dir, app string) (resolved string, fallback bool) {
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			dir = filepath.Join(home, "."+app)
		}
	}
	if dir != "" {
		err := ensureWritable(dir)
		if err == nil {
			return dir, false
		}
		logger.Warnf("[rss] 数据目录 %s 不可用: %v", dir, err)
	}
	return filepath.Join(os.TempDir(), app), true
}

func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
