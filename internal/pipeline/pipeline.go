package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iabetor/feedbot/internal/chat"
	"github.com/iabetor/feedbot/internal/command"
	"github.com/iabetor/feedbot/internal/config"
	"github.com/iabetor/feedbot/internal/database"
	"github.com/iabetor/feedbot/internal/logger"
	"github.com/iabetor/feedbot/internal/rss"
)

// journalRetention 启动时清理早于该时长的投递记录。
const journalRetention = 30 * 24 * time.Hour

// Pipeline 是主编排器，把注册表、轮询器、命令路由和聊天室串联在一起。
type Pipeline struct {
	cfg *config.Config

	dataDir      string
	dataFallback bool

	store    *rss.FeedStore
	registry *rss.Registry
	journal  *database.Journal
	room     chat.Room
	router   *command.Router
	poller   *Poller
}

// New 根据配置创建流水线。状态文件损坏时返回 rss.ErrCorruptState。
func New(cfg *config.Config) (*Pipeline, error) {
	var room chat.Room
	switch cfg.Chat.Mode {
	case "webhook":
		room = chat.NewWebhookRoom(cfg.Chat.Room, cfg.Chat.WebhookURL, cfg.Chat.ListenAddr, cfg.Poll.FetchTimeout)
	case "websocket":
		room = chat.NewWebsocketRoom(cfg.Chat.Room, cfg.Chat.WebsocketURL, cfg.Poll.FetchTimeout)
	default:
		room = chat.NewConsoleRoom(cfg.Chat.Room, os.Stdin, os.Stdout)
	}
	return newPipeline(cfg, room, rss.NewFetcher(cfg.Poll.FetchTimeout))
}

func newPipeline(cfg *config.Config, room chat.Room, fetcher Fetcher) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg, room: room}

	p.dataDir, p.dataFallback = rss.ResolveDataDir(cfg.Data.Directory, config.AppName)

	var err error
	p.store, err = rss.NewFeedStore(p.dataDir, cfg.Data.Filename)
	if err != nil {
		return nil, fmt.Errorf("初始化状态存储失败: %w", err)
	}

	opts := rss.Options{
		HistoryCapacity:          cfg.HistoryCapacity(),
		MaxAge:                   cfg.Feeds.DefaultMaxAge,
		BlacklistConsumesHistory: cfg.Feeds.BlacklistConsumesHistory,
	}
	p.registry, err = p.store.Load(opts)
	if err != nil {
		return nil, err
	}
	logger.Infof("[pipeline] 已加载 %d 个订阅源: %s", p.registry.Len(), p.store.Path())

	// 接口变量保持真正的 nil，避免 typed nil
	var pollJournal Journal
	var cmdJournal command.Journal
	if cfg.JournalEnabled() {
		path := cfg.Journal.Path
		if path == "" {
			path = filepath.Join(p.dataDir, config.AppName+".db")
		}
		p.journal, err = database.Open(path)
		if err != nil {
			return nil, fmt.Errorf("初始化投递记录失败: %w", err)
		}
		if n, err := p.journal.Prune(context.Background(), time.Now().Add(-journalRetention)); err != nil {
			logger.Warnf("[pipeline] 清理投递记录失败: %v", err)
		} else if n > 0 {
			logger.Infof("[pipeline] 已清理 %d 条过期投递记录", n)
		}
		pollJournal, cmdJournal = p.journal, p.journal
	}

	p.poller = NewPoller(p.registry, fetcher, room, p.store, pollJournal, PollerConfig{
		Interval:     cfg.Poll.Interval,
		Workers:      cfg.Poll.Workers,
		FetchTimeout: cfg.Poll.FetchTimeout,
	})
	p.router = command.NewRouter(cfg.Chat.CommandPrefix, command.Deps{
		Registry: p.registry,
		Fetcher:  fetcher,
		Store:    p.store,
		Journal:  cmdJournal,
		Status:   p.poller.Status,
	})
	return p, nil
}

// Run 启动聊天室和轮询器，阻塞直到 ctx 被取消，退出前保存一次状态。
func (p *Pipeline) Run(ctx context.Context) error {
	p.room.OnMessage(p.handleMessage)

	if p.dataFallback {
		msg := fmt.Sprintf("Could not use the configured data directory, using %s for now. Set DATA_DIRECTORY to keep feeds across restarts.", p.dataDir)
		if err := p.room.Emit(ctx, "", msg); err != nil {
			logger.Warnf("[pipeline] 发送数据目录提示失败: %v", err)
		}
	}

	logger.Infof("[pipeline] 已启动，聊天室 %s，命令前缀 %q", p.cfg.Chat.Room, p.cfg.Chat.CommandPrefix)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.room.Run(gctx) })
	g.Go(func() error { return p.poller.Run(gctx) })
	err := g.Wait()

	if saveErr := p.store.Save(p.registry); saveErr != nil {
		logger.Errorf("[pipeline] 退出前保存失败: %v", saveErr)
		err = errors.Join(err, saveErr)
	}
	return err
}

// handleMessage 把聊天消息交给命令路由，并把回复发回聊天室。
func (p *Pipeline) handleMessage(ctx context.Context, msg chat.Message) {
	reply, ok := p.router.Handle(ctx, msg.Text)
	if !ok || reply == "" {
		return
	}
	if err := p.room.Emit(ctx, msg.Room, reply); err != nil {
		logger.Warnf("[pipeline] 回复 %s 失败: %v", msg.From, err)
	}
}

// Close 释放所有资源。
func (p *Pipeline) Close() {
	logger.Info("[pipeline] 正在关闭...")

	if p.room != nil {
		p.room.Close()
	}
	if p.journal != nil {
		p.journal.Close()
	}

	logger.Info("[pipeline] 已关闭")
}
