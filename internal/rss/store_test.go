package rss

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadMissingFile(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "nope.conf"), DefaultOptions())
	if err != nil {
		t.Fatalf("文件不存在时不应返回错误: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("期望空注册表，得到 %d 个订阅源", reg.Len())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedbot.conf")

	reg := NewRegistry(Options{HistoryCapacity: 3})
	_ = reg.AddFeed("tech", "http://x")
	_ = reg.AddFeed("news", "http://y")
	tech, _ := reg.GetFeed("tech")
	tech.Block("Spam")
	tech.Block("crypto")
	tech.SetMaxAge(90 * time.Minute)
	tech.Diff([]Entry{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}})

	if err := Save(path, reg); err != nil {
		t.Fatalf("Save 失败: %v", err)
	}

	loaded, err := Load(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if diff := cmp.Diff(reg.Snapshot(), loaded.Snapshot()); diff != "" {
		t.Fatalf("往返后状态不一致 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(reg.ListFeeds(), loaded.ListFeeds()); diff != "" {
		t.Fatalf("往返后列表不一致 (-want +got):\n%s", diff)
	}
}

func TestSaveWritesDocumentedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedbot.conf")
	reg := NewRegistry(DefaultOptions())
	_ = reg.AddFeed("tech", "http://x")
	f, _ := reg.GetFeed("tech")
	f.Block("spam")
	f.Diff([]Entry{{ID: "1"}, {ID: "2"}})

	if err := Save(path, reg); err != nil {
		t.Fatalf("Save 失败: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var doc struct {
		Feeds map[string]struct {
			URL       string   `json:"url"`
			History   []string `json:"history"`
			Blacklist []string `json:"blacklist"`
		} `json:"feeds"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("状态文件不是合法 JSON: %v", err)
	}
	got := doc.Feeds["tech"]
	if got.URL != "http://x" {
		t.Errorf("url 不匹配: %s", got.URL)
	}
	if diff := cmp.Diff([]string{"1", "2"}, got.History); diff != "" {
		t.Errorf("history 不匹配 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"spam"}, got.Blacklist); diff != "" {
		t.Errorf("blacklist 不匹配 (-want +got):\n%s", diff)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedbot.conf")
	reg := NewRegistry(DefaultOptions())
	_ = reg.AddFeed("tech", "http://x")

	for i := 0; i < 3; i++ {
		if err := Save(path, reg); err != nil {
			t.Fatalf("Save 失败: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "feedbot.conf" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("目录中应只有状态文件，实际: %v", names)
	}
}

func TestSaveFailureKeepsExistingState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedbot.conf")
	reg := NewRegistry(DefaultOptions())
	_ = reg.AddFeed("tech", "http://x")
	if err := Save(path, reg); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	// 目标路径在不存在的目录中，临时文件无法创建
	if err := Save(filepath.Join(dir, "missing", "feedbot.conf"), reg); err == nil {
		t.Fatal("期望保存到不存在的目录时报错")
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatal("失败的保存不应影响已有状态文件")
	}
}

func TestLoadCorruptState(t *testing.T) {
	tests := map[string]string{
		"empty file":        ``,
		"not json":          `feeds = 1`,
		"missing feeds":     `{}`,
		"null":              `null`,
		"unknown field":     `{"feeds": {}, "extra": 1}`,
		"missing url":       `{"feeds": {"tech": {"url": "", "history": [], "blacklist": []}}}`,
		"missing history":   `{"feeds": {"tech": {"url": "http://x", "blacklist": []}}}`,
		"duplicate history": `{"feeds": {"tech": {"url": "http://x", "history": ["a", "a"], "blacklist": []}}}`,
		"empty history id":  `{"feeds": {"tech": {"url": "http://x", "history": [""], "blacklist": []}}}`,
		"uppercase term":    `{"feeds": {"tech": {"url": "http://x", "history": [], "blacklist": ["Spam"]}}}`,
		"duplicate term":    `{"feeds": {"tech": {"url": "http://x", "history": [], "blacklist": ["a", "a"]}}}`,
		"over capacity":     `{"feeds": {"tech": {"url": "http://x", "history": ["a", "b"], "blacklist": [], "capacity": 1}}}`,
		"bad name":          `{"feeds": {"two words": {"url": "http://x", "history": [], "blacklist": []}}}`,
		"trailing data":     `{"feeds": {}} {"feeds": {}}`,
		"duplicate feed":    `{"feeds": {"a": {"url": "http://x", "history": ["1"], "blacklist": []}, "a": {"url": "http://x", "history": [], "blacklist": []}}}`,
		"feeds not object":  `{"feeds": []}`,
		"nested unknown":    `{"feeds": {"tech": {"url": "http://x", "history": [], "blacklist": [], "color": 1}}}`,
		"both age fields":   `{"feeds": {"tech": {"url": "http://x", "history": [], "blacklist": [], "max_age_seconds": 30, "max_age_minutes": 1}}}`,
		"negative age":      `{"feeds": {"tech": {"url": "http://x", "history": [], "blacklist": [], "max_age_seconds": -1}}}`,
		"age overflow":      `{"feeds": {"tech": {"url": "http://x", "history": [], "blacklist": [], "max_age_minutes": 9223372036854775807}}}`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "feedbot.conf")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path, DefaultOptions())
			if !errors.Is(err, ErrCorruptState) {
				t.Fatalf("expected ErrCorruptState, got %v", err)
			}
		})
	}
}

func TestSaveLoadKeepsSubMinuteMaxAge(t *testing.T) {
	for _, age := range []time.Duration{30 * time.Second, 90 * time.Second} {
		path := filepath.Join(t.TempDir(), "feedbot.conf")
		reg := NewRegistry(Options{HistoryCapacity: 10, MaxAge: age})
		_ = reg.AddFeed("tech", "http://x")

		if err := Save(path, reg); err != nil {
			t.Fatalf("Save 失败: %v", err)
		}
		loaded, err := Load(path, DefaultOptions())
		if err != nil {
			t.Fatalf("Load 失败: %v", err)
		}
		f, err := loaded.GetFeed("tech")
		if err != nil {
			t.Fatal(err)
		}
		if f.MaxAge() != age {
			t.Errorf("保存前 %s，加载后 %s", age, f.MaxAge())
		}
	}
}

func TestLoadReadsMaxAgeMinutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedbot.conf")
	content := `{"feeds": {"tech": {"url": "http://x", "history": [], "blacklist": [], "max_age_minutes": 90}}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	reg, err := Load(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	f, _ := reg.GetFeed("tech")
	if f.MaxAge() != 90*time.Minute {
		t.Errorf("MaxAge = %s", f.MaxAge())
	}
}

func TestLoadTrimsHistoryWithoutPersistedCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedbot.conf")
	content := `{"feeds": {"tech": {"url": "http://x", "history": ["a", "b", "c", "d"], "blacklist": []}}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	reg, err := Load(path, Options{HistoryCapacity: 2})
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	f, _ := reg.GetFeed("tech")
	snap := f.Snapshot()
	if diff := cmp.Diff([]string{"c", "d"}, snap.History); diff != "" {
		t.Errorf("应保留最新的历史 (-want +got):\n%s", diff)
	}
	if snap.Capacity != 2 {
		t.Errorf("期望容量 2，得到 %d", snap.Capacity)
	}
}

func TestFeedStoreConcurrentSaves(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFeedStore(dir, "feedbot.conf")
	if err != nil {
		t.Fatalf("NewFeedStore 失败: %v", err)
	}
	reg := NewRegistry(DefaultOptions())
	_ = reg.AddFeed("tech", "http://x")
	f, _ := reg.GetFeed("tech")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.Diff([]Entry{{ID: strings.Repeat("x", i+1)}})
			if err := store.Save(reg); err != nil {
				t.Errorf("Save 失败: %v", err)
			}
		}(i)
	}
	wg.Wait()

	loaded, err := store.Load(DefaultOptions())
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if diff := cmp.Diff(reg.Snapshot(), loaded.Snapshot()); diff != "" {
		t.Fatalf("最后一次保存应反映完整状态 (-want +got):\n%s", diff)
	}
}

func TestResolveDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	got, fallback := ResolveDataDir(dir, "feedbot")
	if fallback {
		t.Fatal("可写目录不应退回")
	}
	if got != dir {
		t.Errorf("期望 %s，得到 %s", dir, got)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("目录应被创建: %v", err)
	}
}

func TestResolveDataDirFallback(t *testing.T) {
	// 用一个普通文件占住路径，使其无法作为目录使用
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	got, fallback := ResolveDataDir(filepath.Join(blocker, "data"), "feedbot-test")
	if !fallback {
		t.Fatal("不可用的目录应退回到临时目录")
	}
	if want := filepath.Join(os.TempDir(), "feedbot-test"); got != want {
		t.Errorf("期望 %s，得到 %s", want, got)
	}
}

func TestResolveDataDirDefaultsToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, fallback := ResolveDataDir("", "feedbot")
	if fallback {
		t.Fatal("HOME 可用时不应退回")
	}
	if want := filepath.Join(home, ".feedbot"); got != want {
		t.Errorf("期望 %s，得到 %s", want, got)
	}
}
