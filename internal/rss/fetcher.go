package rss

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxItems     = 50 // 每次抓取最多处理的条目数
	userAgent           = "feedbot/1.0 (+https://github.com/iabetor/feedbot)"
)

// Fetcher 通过 HTTP 抓取并解析 RSS/Atom 订阅源。
type Fetcher struct {
	parser   *gofeed.Parser
	client   *http.Client
	maxItems int
}

// NewFetcher 创建抓取器。timeout 为单次请求的超时时间，<=0 时使用默认值。
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{
		parser:   gofeed.NewParser(),
		client:   &http.Client{Timeout: timeout},
		maxItems: defaultMaxItems,
	}
}

// Fetch 抓取 url 并按订阅源中的顺序返回条目。所有错误都包装为 ErrFetchFailed。
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Entry, error) {
	feed, err := f.parseFeed(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, url, err)
	}
	return f.convertItems(feed), nil
}

// parseFeed 请求并解析订阅源。
func (f *Fetcher) parseFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return f.parser.Parse(resp.Body)
}

// convertItems 将 gofeed 条目转换为 Entry。
func (f *Fetcher) convertItems(feed *gofeed.Feed) []Entry {
	n := len(feed.Items)
	if n > f.maxItems {
		n = f.maxItems
	}

	entries := make([]Entry, 0, n)
	for _, item := range feed.Items[:n] {
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		var published time.Time
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}

		var author string
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			author = item.Authors[0].Name
		}

		title := stripHTML(item.Title)
		entries = append(entries, Entry{
			ID:        entryKey(item.GUID, item.Link, title),
			Title:     title,
			Link:      item.Link,
			Summary:   stripHTML(summary),
			Author:    author,
			Published: published,
		})
	}
	return entries
}

// stripHTML 提取 HTML 片段中的纯文本并合并连续空白。
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "div", "li":
				sb.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li":
				sb.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			sb.WriteByte(' ')
		}
	}
}
