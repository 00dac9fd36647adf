package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iabetor/feedbot/internal/chat"
	"github.com/iabetor/feedbot/internal/database"
	"github.com/iabetor/feedbot/internal/logger"
	"github.com/iabetor/feedbot/internal/render"
	"github.com/iabetor/feedbot/internal/rss"
)

// Fetcher 抓取订阅源条目。
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]rss.Entry, error)
}

// Saver 保存注册表。
type Saver interface {
	Save(reg *rss.Registry) error
}

// Journal 记录投递结果。
type Journal interface {
	Record(ctx context.Context, deliveries ...database.Delivery) error
}

// PollerConfig 轮询参数。
type PollerConfig struct {
	Interval     time.Duration
	Workers      int
	FetchTimeout time.Duration
}

type feedStatus struct {
	lastPoll  time.Time
	lastError string
	lastNew   int
}

// Poller 定时抓取所有订阅源，把新条目发到聊天室。
type Poller struct {
	reg     *rss.Registry
	fetcher Fetcher
	room    chat.Room
	saver   Saver
	journal Journal // 可为 nil
	cfg     PollerConfig
	now     func() time.Time

	mu       sync.Mutex
	machines map[string]*StateMachine
	status   map[string]*feedStatus
}

// NewPoller 创建轮询器。journal 为 nil 时不记录投递。
func NewPoller(reg *rss.Registry, fetcher Fetcher, room chat.Room, saver Saver, journal Journal, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &Poller{
		reg:      reg,
		fetcher:  fetcher,
		room:     room,
		saver:    saver,
		journal:  journal,
		cfg:      cfg,
		now:      time.Now,
		machines: make(map[string]*StateMachine),
		status:   make(map[string]*feedStatus),
	}
}

// Run 立即轮询一次，之后每个间隔轮询一次，直到 ctx 结束。
func (p *Poller) Run(ctx context.Context) error {
	logger.Infof("[poller] 已启动，间隔 %s，并发 %d", p.cfg.Interval, p.cfg.Workers)
	p.Sweep(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[poller] 已停止")
			return nil
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep 轮询所有订阅源一次，返回发出的新条目数。
// 单个订阅源失败不影响其他订阅源；本轮有历史变化时保存一次。
func (p *Poller) Sweep(ctx context.Context) int {
	feeds := p.reg.Feeds()
	p.forgetRemoved(feeds)
	if len(feeds) == 0 {
		return 0
	}

	var (
		mu      sync.Mutex
		total   int
		changed bool
	)

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for _, f := range feeds {
		f := f
		g.Go(func() error {
			n, dirty := p.pollFeed(ctx, f)
			mu.Lock()
			total += n
			changed = changed || dirty
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if changed && p.saver != nil {
		if err := p.saver.Save(p.reg); err != nil {
			logger.Errorf("[poller] 保存订阅状态失败: %v", err)
		}
	}
	logger.Debugf("[poller] 本轮完成，%d 个订阅源，%d 条新条目", len(feeds), total)
	return total
}

// pollFeed 处理单个订阅源，返回新条目数和历史是否可能变化。
func (p *Poller) pollFeed(ctx context.Context, f *rss.Feed) (int, bool) {
	name := f.Name()
	sm := p.machine(name)
	if !sm.Transition(StateFetching) {
		// 上一轮还没结束
		return 0, false
	}
	defer sm.ForceIdle()

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	raw, err := p.fetcher.Fetch(fetchCtx, f.URL())
	cancel()
	if err != nil {
		logger.Warnf("[poller] 抓取 %s 失败: %v", name, err)
		p.setStatus(name, 0, err)
		return 0, false
	}

	sm.Transition(StateDiffing)
	fresh := f.Diff(raw)
	dirty := len(fresh) > 0 || (len(raw) > 0 && p.reg.Options().BlacklistConsumesHistory)
	if len(fresh) == 0 {
		p.setStatus(name, 0, nil)
		sm.Transition(StateIdle)
		return 0, dirty
	}

	if cur, err := p.reg.GetFeed(name); err != nil || cur != f {
		logger.Infof("[poller] %s 已在轮询期间被删除，丢弃 %d 条新条目", name, len(fresh))
		sm.Transition(StateIdle)
		return 0, false
	}

	sm.Transition(StateEmitting)
	now := p.now()
	emitErr := p.room.Emit(ctx, "", render.Entries(name, fresh, now))
	if emitErr != nil {
		// 历史已经记录，不会重发
		logger.Warnf("[poller] 发送 %s 的 %d 条新条目失败: %v", name, len(fresh), emitErr)
	} else {
		logger.Infof("[poller] %s: 发送 %d 条新条目", name, len(fresh))
	}
	p.journalEntries(ctx, name, fresh, emitErr, now)
	p.setStatus(name, len(fresh), emitErr)
	sm.Transition(StateIdle)
	return len(fresh), true
}

func (p *Poller) journalEntries(ctx context.Context, feed string, entries []rss.Entry, emitErr error, at time.Time) {
	if p.journal == nil {
		return
	}
	status, errText := database.StatusSent, ""
	if emitErr != nil {
		status, errText = database.StatusFailed, emitErr.Error()
	}
	rows := make([]database.Delivery, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, database.Delivery{
			Feed:      feed,
			EntryID:   e.Key(),
			Title:     e.Title,
			Link:      e.Link,
			Status:    status,
			Error:     errText,
			CreatedAt: at,
		})
	}
	// ctx 可能已取消，记录仍应写入
	if err := p.journal.Record(context.WithoutCancel(ctx), rows...); err != nil {
		logger.Warnf("[poller] 写入投递记录失败: %v", err)
	}
}

func (p *Poller) machine(name string) *StateMachine {
	p.mu.Lock()
	defer p.mu.Unlock()
	sm, ok := p.machines[name]
	if !ok {
		sm = NewStateMachine(name)
		p.machines[name] = sm
	}
	return sm
}

// forgetRemoved 丢弃已删除订阅源的状态机和轮询状态。
func (p *Poller) forgetRemoved(feeds []*rss.Feed) {
	live := make(map[string]struct{}, len(feeds))
	for _, f := range feeds {
		live[f.Name()] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name := range p.machines {
		if _, ok := live[name]; !ok {
			delete(p.machines, name)
		}
	}
	for name := range p.status {
		if _, ok := live[name]; !ok {
			delete(p.status, name)
		}
	}
}

func (p *Poller) setStatus(name string, n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.status[name]
	if !ok {
		st = &feedStatus{}
		p.status[name] = st
	}
	st.lastPoll = p.now()
	st.lastNew = n
	st.lastError = ""
	if err != nil {
		st.lastError = err.Error()
	}
}

// Status 按名称排序返回当前所有订阅源的轮询状态。
func (p *Poller) Status() []render.FeedStatus {
	feeds := p.reg.Feeds()
	out := make([]render.FeedStatus, 0, len(feeds))

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range feeds {
		row := render.FeedStatus{Name: f.Name(), State: StateIdle.String()}
		if sm, ok := p.machines[f.Name()]; ok {
			row.State = sm.Current().String()
		}
		if st, ok := p.status[f.Name()]; ok {
			row.LastPoll = st.lastPoll
			row.LastError = st.lastError
			row.LastNew = st.lastNew
		}
		out = append(out, row)
	}
	return out
}
