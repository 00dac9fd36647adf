// Package render 把订阅条目、订阅列表和投递记录格式化为聊天文本。
package render

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/iabetor/feedbot/internal/database"
	"github.com/iabetor/feedbot/internal/rss"
)

const (
	// SummaryLimit 摘要最多展示的字符数。
	SummaryLimit = 200

	// FeedSeparator 分隔多个订阅源的输出。
	FeedSeparator = "==========="

	entrySeparator = "----------"
)

// FeedInfo 订阅列表中的一行。
type FeedInfo struct {
	Name   string
	URL    string
	Terms  []string
	MaxAge time.Duration
}

// FeedStatus 单个订阅源的轮询状态。
type FeedStatus struct {
	Name      string
	State     string
	LastPoll  time.Time // 从未轮询时为零值
	LastError string
	LastNew   int
}

// Entries 渲染一个订阅源的新条目。
func Entries(feedName string, entries []rss.Entry, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stories from: %s\n", feedName)
	for _, e := range entries {
		b.WriteString("\n")
		writeField(&b, "Title", e.Title)
		if !e.Published.IsZero() {
			writeField(&b, "Published", Ago(e.Published, now))
		}
		writeField(&b, "Author", e.Author)
		writeField(&b, "Link", e.Link)
		writeField(&b, "Summary", truncate(e.Summary, SummaryLimit))
		b.WriteString(entrySeparator + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeField(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", name, value)
}

// NoNewEntries 没有新条目时的回复。
func NoNewEntries(feedName string) string {
	return fmt.Sprintf("No new entries for the %s feed.", feedName)
}

// FeedList 渲染订阅列表，prefix 用于提示添加命令。
func FeedList(feeds []FeedInfo, prefix string) string {
	if len(feeds) == 0 {
		return fmt.Sprintf("Not currently monitoring any feeds. Add some with the `%sadd` command!", prefix)
	}

	var b strings.Builder
	b.WriteString("Currently monitoring:\n")
	for _, f := range feeds {
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.URL)
		if f.MaxAge > 0 {
			fmt.Fprintf(&b, "\tmax age: %s\n", f.MaxAge)
		}
		if len(f.Terms) > 0 {
			fmt.Fprintf(&b, "\tblacklist: %s\n", strings.Join(f.Terms, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Deliveries 渲染投递记录。
func Deliveries(rows []database.Delivery, now time.Time) string {
	if len(rows) == 0 {
		return "Nothing delivered yet."
	}

	var b strings.Builder
	for _, d := range rows {
		title := d.Title
		if title == "" {
			title = d.Link
		}
		fmt.Fprintf(&b, "[%s] %s: %s (%s)", d.Status, d.Feed, truncate(title, 80), Ago(d.CreatedAt, now))
		if d.Error != "" {
			fmt.Fprintf(&b, " error: %s", d.Error)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Status 渲染轮询状态。
func Status(rows []FeedStatus, now time.Time) string {
	if len(rows) == 0 {
		return "No feeds are being polled."
	}

	var b strings.Builder
	for _, s := range rows {
		fmt.Fprintf(&b, "%s: %s", s.Name, s.State)
		if s.LastPoll.IsZero() {
			b.WriteString(", never polled")
		} else {
			fmt.Fprintf(&b, ", polled %s, %d new", Ago(s.LastPoll, now), s.LastNew)
		}
		if s.LastError != "" {
			fmt.Fprintf(&b, ", last error: %s", s.LastError)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Ago 返回 "3 hours ago" 形式的相对时间。
func Ago(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

// truncate 按字符截断，超出部分用 "..." 代替。
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
