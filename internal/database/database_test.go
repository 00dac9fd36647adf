package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal", "feedbot.db"))
	if err != nil {
		t.Fatalf("Open 失败: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 19, 8, 0, 0, 0, time.UTC)

	err := j.Record(ctx,
		Delivery{Feed: "tech", EntryID: "1", Title: "first", Status: StatusSent, CreatedAt: base},
		Delivery{Feed: "news", EntryID: "2", Title: "second", Status: StatusFailed, Error: "boom", CreatedAt: base.Add(time.Minute)},
		Delivery{Feed: "tech", EntryID: "3", Title: "third", Status: StatusReplied, CreatedAt: base.Add(2 * time.Minute)},
	)
	if err != nil {
		t.Fatalf("Record 失败: %v", err)
	}

	all, err := j.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent 失败: %v", err)
	}
	got := make([]string, 0, len(all))
	for _, d := range all {
		got = append(got, d.EntryID)
	}
	if diff := cmp.Diff([]string{"3", "2", "1"}, got); diff != "" {
		t.Errorf("应按时间倒序 (-want +got):\n%s", diff)
	}
	if all[1].Error != "boom" || all[1].Status != StatusFailed {
		t.Errorf("失败记录不匹配: %+v", all[1])
	}
	if all[0].ID == "" {
		t.Error("ID 应自动生成")
	}
	if !all[2].CreatedAt.Equal(base) {
		t.Errorf("时间不匹配: %s", all[2].CreatedAt)
	}

	tech, err := j.Recent(ctx, "tech", 1)
	if err != nil {
		t.Fatalf("Recent 失败: %v", err)
	}
	if len(tech) != 1 || tech[0].EntryID != "3" {
		t.Errorf("按订阅源过滤并限制数量失败: %+v", tech)
	}
}

func TestJournalRecordEmpty(t *testing.T) {
	j := openTestJournal(t)
	if err := j.Record(context.Background()); err != nil {
		t.Fatalf("空记录不应报错: %v", err)
	}
	got, err := j.Recent(context.Background(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("期望空结果，得到 %d 条", len(got))
	}
}

func TestJournalPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 19, 8, 0, 0, 0, time.UTC)
	_ = j.Record(ctx,
		Delivery{Feed: "tech", EntryID: "old", Status: StatusSent, CreatedAt: base.Add(-48 * time.Hour)},
		Delivery{Feed: "tech", EntryID: "new", Status: StatusSent, CreatedAt: base},
	)

	n, err := j.Prune(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune 失败: %v", err)
	}
	if n != 1 {
		t.Fatalf("期望删除 1 条，实际 %d 条", n)
	}
	left, _ := j.Recent(ctx, "", 10)
	if len(left) != 1 || left[0].EntryID != "new" {
		t.Errorf("剩余记录不匹配: %+v", left)
	}
}

func TestJournalReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedbot.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Record(context.Background(), Delivery{Feed: "tech", EntryID: "1", Status: StatusSent})
	j.Close()

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("重新打开失败: %v", err)
	}
	defer j2.Close()
	got, _ := j2.Recent(context.Background(), "tech", 10)
	if len(got) != 1 {
		t.Fatalf("重新打开后期望 1 条，得到 %d 条", len(got))
	}
}
