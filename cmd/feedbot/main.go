package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iabetor/feedbot/internal/config"
	"github.com/iabetor/feedbot/internal/logger"
	"github.com/iabetor/feedbot/internal/pipeline"
	"github.com/iabetor/feedbot/internal/rss"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（为空时只使用环境变量）")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infof("[main] feedbot 启动中 (log_level=%s, chat=%s)", cfg.Log.Level, cfg.Chat.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("[main] 收到信号 %v，正在关闭...", sig)
		cancel()
	}()

	p, err := pipeline.New(cfg)
	if err != nil {
		if errors.Is(err, rss.ErrCorruptState) {
			logger.Errorf("[main] 状态文件已损坏，拒绝启动: %v", err)
		}
		fmt.Fprintf(os.Stderr, "创建流水线失败: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}

	runErr := p.Run(ctx)
	p.Close()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintf(os.Stderr, "流水线运行出错: %v\n", runErr)
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("[main] feedbot 已停止")
}
