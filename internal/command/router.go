// Package command 解析聊天室中的命令并作用于订阅注册表。
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/iabetor/feedbot/internal/database"
	"github.com/iabetor/feedbot/internal/logger"
	"github.com/iabetor/feedbot/internal/render"
	"github.com/iabetor/feedbot/internal/rss"
)

// ErrInvalidCommand 命令参数不合法。
var ErrInvalidCommand = errors.New("命令参数不合法")

const (
	defaultStoryLimit = 5
	maxAgeMinutes     = int(rss.MaxAgeLimit / time.Minute)
)

// Fetcher 抓取订阅源条目。
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]rss.Entry, error)
}

// Store 保存注册表。
type Store interface {
	Save(reg *rss.Registry) error
	Path() string
}

// Journal 投递记录。
type Journal interface {
	Record(ctx context.Context, deliveries ...database.Delivery) error
	Recent(ctx context.Context, feed string, limit int) ([]database.Delivery, error)
}

// Deps 命令依赖的组件。Journal 和 Status 可为 nil。
type Deps struct {
	Registry *rss.Registry
	Fetcher  Fetcher
	Store    Store
	Journal  Journal
	Status   func() []render.FeedStatus
}

type handlerFunc func(ctx context.Context, args []string) (string, error)

type command struct {
	usage   string
	summary string
	minArgs int
	maxArgs int // -1 表示不限
	run     handlerFunc
}

// Router 把 "<prefix><verb> args..." 分发到对应处理函数。
type Router struct {
	prefix   string
	deps     Deps
	now      func() time.Time
	commands map[string]*command
}

// NewRouter 创建命令路由。
func NewRouter(prefix string, deps Deps) *Router {
	if prefix == "" {
		prefix = "!"
	}
	r := &Router{prefix: prefix, deps: deps, now: time.Now}
	r.commands = map[string]*command{
		"add":       {usage: "add <name> <url>", summary: "Start monitoring a feed.", minArgs: 2, maxArgs: 2, run: r.add},
		"remove":    {usage: "remove <name|url>", summary: "Stop monitoring a feed.", minArgs: 1, maxArgs: 1, run: r.remove},
		"list":      {usage: "list", summary: "List monitored feeds.", minArgs: 0, maxArgs: 0, run: r.list},
		"blacklist": {usage: "blacklist add|remove <name> <term...>", summary: "Hide entries containing a term.", minArgs: 3, maxArgs: -1, run: r.blacklist},
		"stories":   {usage: "stories <name> [n]", summary: "Show up to n unseen entries now (default 5).", minArgs: 1, maxArgs: 2, run: r.stories},
		"dump":      {usage: "dump [n]", summary: "Show up to n unseen entries from every feed.", minArgs: 0, maxArgs: 1, run: r.dump},
		"age":       {usage: "age <name> <minutes>", summary: "Hide entries older than the window, 0 disables.", minArgs: 2, maxArgs: 2, run: r.age},
		"url":       {usage: "url <name> <url>", summary: "Change a feed's URL and keep its history.", minArgs: 2, maxArgs: 2, run: r.setURL},
		"recent":    {usage: "recent [name] [n]", summary: "Show recent deliveries.", minArgs: 0, maxArgs: 2, run: r.recent},
		"status":    {usage: "status", summary: "Show poller status per feed.", minArgs: 0, maxArgs: 0, run: r.status},
		"help":      {usage: "help [command]", summary: "Show this help.", minArgs: 0, maxArgs: 1, run: r.help},
	}
	return r
}

// Handle 处理一条聊天消息。不是命令时返回 false；否则返回需要发到聊天室的回复。
func (r *Router) Handle(ctx context.Context, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, r.prefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(text, r.prefix))
	if len(fields) == 0 {
		return "", false
	}

	verb, args := strings.ToLower(fields[0]), fields[1:]
	cmd, ok := r.commands[verb]
	if !ok {
		return fmt.Sprintf("Sorry? Try `%shelp`.", r.prefix), true
	}
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		return r.usage(cmd), true
	}

	logger.Infof("[command] 执行命令: %s %v", verb, args)
	reply, err := cmd.run(ctx, args)
	if err != nil {
		logger.Warnf("[command] 命令 %s 执行失败: %v", verb, err)
		return r.describe(cmd, err), true
	}
	return reply, true
}

func (r *Router) usage(cmd *command) string {
	return fmt.Sprintf("Usage: `%s%s`", r.prefix, cmd.usage)
}

// saveError 保存失败，回复中需要带上文件路径。
type saveError struct {
	path string
	err  error
}

func (e *saveError) Error() string { return fmt.Sprintf("保存到 %s 失败: %v", e.path, e.err) }
func (e *saveError) Unwrap() error { return e.err }

// describe 把错误转成聊天室中的英文回复。
func (r *Router) describe(cmd *command, err error) string {
	var se *saveError
	switch {
	case errors.As(err, &se):
		return fmt.Sprintf("Error attempting to save feed data to disk, encountered: `%v`, when trying to save changes to `%s` data file.", se.err, se.path)
	case errors.Is(err, ErrInvalidCommand):
		return r.usage(cmd)
	case errors.Is(err, rss.ErrNotFound):
		return fmt.Sprintf("Sorry, couldn't find that RSS feed. You may want to use `%slist`.", r.prefix)
	case errors.Is(err, rss.ErrFetchFailed):
		detail := strings.TrimPrefix(err.Error(), rss.ErrFetchFailed.Error()+": ")
		return fmt.Sprintf("There was a problem parsing that url: %s", detail)
	default:
		return fmt.Sprintf("Sorry, something went wrong: %v", err)
	}
}

func (r *Router) save() error {
	if r.deps.Store == nil {
		return nil
	}
	if err := r.deps.Store.Save(r.deps.Registry); err != nil {
		return &saveError{path: r.deps.Store.Path(), err: err}
	}
	return nil
}

func (r *Router) add(ctx context.Context, args []string) (string, error) {
	name, url := args[0], args[1]
	reg := r.deps.Registry

	if f, err := reg.GetFeed(name); err == nil {
		return fmt.Sprintf("Already monitoring: %s with name: %s.", f.URL(), name), nil
	}
	if f, err := reg.Lookup(url); err == nil {
		return fmt.Sprintf("Already monitoring: %s with name: %s.", url, f.Name()), nil
	}

	if _, err := r.deps.Fetcher.Fetch(ctx, url); err != nil {
		return "", err
	}

	if err := reg.AddFeed(name, url); err != nil {
		if errors.Is(err, rss.ErrDuplicateName) {
			return fmt.Sprintf("Already monitoring a feed with name: %s.", name), nil
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := r.save(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Okay! Now monitoring %s: %s", name, url), nil
}

func (r *Router) remove(ctx context.Context, args []string) (string, error) {
	reg := r.deps.Registry
	f, err := reg.Lookup(args[0])
	if err != nil {
		return fmt.Sprintf("Sorry, couldn't find that feed. Use `%sremove <name>` or `%sremove <url>`.", r.prefix, r.prefix), nil
	}
	if err := reg.RemoveFeed(f.Name()); err != nil {
		return "", err
	}
	if err := r.save(); err != nil {
		return "", err
	}
	return fmt.Sprintf("You're dead to me, %s. Dead.", f.Name()), nil
}

func (r *Router) list(ctx context.Context, args []string) (string, error) {
	feeds := r.deps.Registry.Feeds()
	infos := make([]render.FeedInfo, 0, len(feeds))
	for _, f := range feeds {
		infos = append(infos, render.FeedInfo{
			Name:   f.Name(),
			URL:    f.URL(),
			Terms:  f.Terms(),
			MaxAge: f.MaxAge(),
		})
	}
	return render.FeedList(infos, r.prefix), nil
}

func (r *Router) blacklist(ctx context.Context, args []string) (string, error) {
	action, name := strings.ToLower(args[0]), args[1]
	term := strings.ToLower(strings.Join(args[2:], " "))

	f, err := r.deps.Registry.GetFeed(name)
	if err != nil {
		return "", err
	}

	var changed bool
	var reply string
	switch action {
	case "add":
		changed = f.Block(term)
		reply = fmt.Sprintf("Added blacklist term `%s` to the %s feed.", term, name)
		if !changed {
			reply = fmt.Sprintf("`%s` is already blacklisted for the %s feed.", term, name)
		}
	case "remove":
		changed = f.Unblock(term)
		reply = fmt.Sprintf("Removed `%s` from the %s feed's blacklist.", term, name)
		if !changed {
			reply = fmt.Sprintf("`%s` is not blacklisted for the %s feed.", term, name)
		}
	default:
		return "", fmt.Errorf("%w: 未知操作 %s", ErrInvalidCommand, action)
	}

	if changed {
		if err := r.save(); err != nil {
			return "", err
		}
	}
	return reply, nil
}

// stories 立即抓取一个订阅源，先截取前 n 条再过滤已展示的条目。
func (r *Router) stories(ctx context.Context, args []string) (string, error) {
	n := defaultStoryLimit
	if len(args) == 2 {
		v, err := positiveInt(args[1])
		if err != nil {
			return "", err
		}
		n = v
	}

	f, err := r.deps.Registry.GetFeed(args[0])
	if err != nil {
		return "", err
	}
	return r.storiesFor(ctx, f, n)
}

// dump 对每个订阅源执行一次 stories，单个订阅源失败不影响其他订阅源。
func (r *Router) dump(ctx context.Context, args []string) (string, error) {
	n := defaultStoryLimit
	if len(args) == 1 {
		v, err := positiveInt(args[0])
		if err != nil {
			return "", err
		}
		n = v
	}

	feeds := r.deps.Registry.Feeds()
	if len(feeds) == 0 {
		return render.FeedList(nil, r.prefix), nil
	}

	parts := make([]string, 0, len(feeds))
	for _, f := range feeds {
		reply, err := r.storiesFor(ctx, f, n)
		if err != nil {
			var se *saveError
			if errors.As(err, &se) {
				return "", err
			}
			logger.Warnf("[command] dump %s 失败: %v", f.Name(), err)
			reply = fmt.Sprintf("%s: %s", f.Name(), r.describe(r.commands["dump"], err))
		}
		parts = append(parts, reply)
	}
	return strings.Join(parts, "\n"+render.FeedSeparator+"\n"), nil
}

func (r *Router) storiesFor(ctx context.Context, f *rss.Feed, n int) (string, error) {
	raw, err := r.deps.Fetcher.Fetch(ctx, f.URL())
	if err != nil {
		return "", err
	}
	if len(raw) > n {
		raw = raw[:n]
	}

	fresh := f.Diff(raw)
	if len(fresh) == 0 {
		return render.NoNewEntries(f.Name()), nil
	}
	if err := r.save(); err != nil {
		return "", err
	}

	now := r.now()
	if r.deps.Journal != nil {
		rows := make([]database.Delivery, 0, len(fresh))
		for _, e := range fresh {
			rows = append(rows, database.Delivery{
				Feed: f.Name(), EntryID: e.Key(), Title: e.Title, Link: e.Link,
				Status: database.StatusReplied, CreatedAt: now,
			})
		}
		if err := r.deps.Journal.Record(ctx, rows...); err != nil {
			logger.Warnf("[command] 写入投递记录失败: %v", err)
		}
	}
	return render.Entries(f.Name(), fresh, now), nil
}

func (r *Router) age(ctx context.Context, args []string) (string, error) {
	minutes, err := nonNegativeInt(args[1])
	if err != nil {
		return "", err
	}
	if minutes > maxAgeMinutes {
		return "", fmt.Errorf("%w: 最大年龄不能超过 %d 分钟", ErrInvalidCommand, maxAgeMinutes)
	}
	f, err := r.deps.Registry.GetFeed(args[0])
	if err != nil {
		return "", err
	}
	f.SetMaxAge(time.Duration(minutes) * time.Minute)
	if err := r.save(); err != nil {
		return "", err
	}
	return "Okay!", nil
}

func (r *Router) setURL(ctx context.Context, args []string) (string, error) {
	name, url := args[0], args[1]
	f, err := r.deps.Registry.GetFeed(name)
	if err != nil {
		return "", err
	}
	if other, err := r.deps.Registry.Lookup(url); err == nil && other.Name() != name {
		return fmt.Sprintf("Already monitoring: %s with name: %s.", url, other.Name()), nil
	}
	if _, err := r.deps.Fetcher.Fetch(ctx, url); err != nil {
		return "", err
	}
	f.SetURL(url)
	if err := r.save(); err != nil {
		return "", err
	}
	return "Okay!", nil
}

func (r *Router) recent(ctx context.Context, args []string) (string, error) {
	if r.deps.Journal == nil {
		return "The delivery journal is disabled.", nil
	}

	feed, n := "", 10
	switch len(args) {
	case 1:
		if v, err := positiveInt(args[0]); err == nil {
			n = v
		} else {
			feed = args[0]
		}
	case 2:
		v, err := positiveInt(args[1])
		if err != nil {
			return "", err
		}
		feed, n = args[0], v
	}
	if feed != "" {
		if _, err := r.deps.Registry.GetFeed(feed); err != nil {
			return "", err
		}
	}

	rows, err := r.deps.Journal.Recent(ctx, feed, n)
	if err != nil {
		return "", err
	}
	return render.Deliveries(rows, r.now()), nil
}

func (r *Router) status(ctx context.Context, args []string) (string, error) {
	if r.deps.Status == nil {
		return "The poller is not running.", nil
	}
	return render.Status(r.deps.Status(), r.now()), nil
}

func (r *Router) help(ctx context.Context, args []string) (string, error) {
	if len(args) == 1 {
		cmd, ok := r.commands[strings.ToLower(args[0])]
		if !ok {
			return fmt.Sprintf("Sorry? Try `%shelp`.", r.prefix), nil
		}
		return fmt.Sprintf("%s\n%s", r.usage(cmd), cmd.summary), nil
	}

	verbs := make([]string, 0, len(r.commands))
	for v := range r.commands {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)

	var b strings.Builder
	b.WriteString("Commands:")
	for _, v := range verbs {
		cmd := r.commands[v]
		fmt.Fprintf(&b, "\n%s%s  %s", r.prefix, cmd.usage, cmd.summary)
	}
	return b.String(), nil
}
