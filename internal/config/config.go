package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iabetor/feedbot/internal/rss"
)

// AppName 用于默认数据目录和文件名。
const AppName = "feedbot"

// Config 是 feedbot 的顶层配置结构。
type Config struct {
	Feeds   FeedsConfig   `yaml:"feeds"`
	Data    DataConfig    `yaml:"data"`
	Poll    PollConfig    `yaml:"poll"`
	Chat    ChatConfig    `yaml:"chat"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
}

// FeedsConfig 新建订阅源的默认参数。
type FeedsConfig struct {
	// HistoryQueueLength 每个订阅源记住的条目数。
	// 使用指针区分“未设置”和“设为 0”（0 表示从不去重）。
	HistoryQueueLength *int `yaml:"history_queue_length"`
	// DefaultMaxAge 新订阅源的条目最大年龄，0 表示不限制。
	DefaultMaxAge time.Duration `yaml:"default_max_age"`
	// BlacklistConsumesHistory 被屏蔽的条目是否也记入历史。
	BlacklistConsumesHistory bool `yaml:"blacklist_consumes_history"`
}

// DataConfig 状态文件位置。
type DataConfig struct {
	// Directory 为空时使用 ~/.feedbot，不可用时退回到临时目录。
	Directory string `yaml:"directory"`
	Filename  string `yaml:"filename"`
}

// PollConfig 轮询配置。
type PollConfig struct {
	Interval     time.Duration `yaml:"interval"`
	Workers      int           `yaml:"workers"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// ChatConfig 聊天室配置。
type ChatConfig struct {
	Mode          string `yaml:"mode"` // console、webhook 或 websocket
	Room          string `yaml:"room"`
	CommandPrefix string `yaml:"command_prefix"`
	WebhookURL    string `yaml:"webhook_url"`
	ListenAddr    string `yaml:"listen_addr"`
	WebsocketURL  string `yaml:"websocket_url"`
}

// JournalConfig 投递记录配置。
type JournalConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"` // 为空时放在数据目录下
}

// LogConfig 日志配置。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// HistoryCapacity 返回历史容量。
func (c *Config) HistoryCapacity() int {
	if c.Feeds.HistoryQueueLength == nil {
		return 200
	}
	return *c.Feeds.HistoryQueueLength
}

// JournalEnabled 返回是否启用投递记录。
func (c *Config) JournalEnabled() bool {
	return c.Journal.Enabled == nil || *c.Journal.Enabled
}

// Load 读取配置。path 为空时只使用环境变量和默认值。
// YAML 中支持 ${VAR_NAME} 形式的环境变量展开，环境变量覆盖文件中的值。
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
		}

		expanded := os.Expand(string(data), func(key string) string {
			return os.Getenv(key)
		})

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	setDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 用环境变量覆盖配置。
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("FEED_HISTORY_QUEUE_LENGTH"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("FEED_HISTORY_QUEUE_LENGTH 不是整数: %q", v)
		}
		cfg.Feeds.HistoryQueueLength = &n
	}
	if v := os.Getenv("DATA_DIRECTORY"); v != "" {
		cfg.Data.Directory = v
	}
	if v := os.Getenv("DATA_FILENAME"); v != "" {
		cfg.Data.Filename = v
	}

	durations := map[string]*time.Duration{
		"FEEDBOT_POLL_INTERVAL":   &cfg.Poll.Interval,
		"FEEDBOT_FETCH_TIMEOUT":   &cfg.Poll.FetchTimeout,
		"FEEDBOT_DEFAULT_MAX_AGE": &cfg.Feeds.DefaultMaxAge,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s 不是合法的时长: %q", key, v)
			}
			*dst = d
		}
	}

	if v := os.Getenv("FEEDBOT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FEEDBOT_WORKERS 不是整数: %q", v)
		}
		cfg.Poll.Workers = n
	}
	if v := os.Getenv("FEEDBOT_JOURNAL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FEEDBOT_JOURNAL 不是布尔值: %q", v)
		}
		cfg.Journal.Enabled = &b
	}

	strs := map[string]*string{
		"FEEDBOT_CHAT_MODE":      &cfg.Chat.Mode,
		"FEEDBOT_ROOM":           &cfg.Chat.Room,
		"FEEDBOT_COMMAND_PREFIX": &cfg.Chat.CommandPrefix,
		"FEEDBOT_WEBHOOK_URL":    &cfg.Chat.WebhookURL,
		"FEEDBOT_LISTEN_ADDR":    &cfg.Chat.ListenAddr,
		"FEEDBOT_WEBSOCKET_URL":  &cfg.Chat.WebsocketURL,
		"FEEDBOT_LOG_LEVEL":      &cfg.Log.Level,
		"FEEDBOT_LOG_FILE":       &cfg.Log.File,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	return nil
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.Feeds.HistoryQueueLength == nil {
		n := 200
		cfg.Feeds.HistoryQueueLength = &n
	}
	if cfg.Data.Filename == "" {
		cfg.Data.Filename = AppName + ".conf"
	}
	if strings.HasPrefix(cfg.Data.Directory, "~/") {
		// Go 不会自动展开 ~，需要手动替换为用户主目录
		home, _ := os.UserHomeDir()
		if home != "" {
			cfg.Data.Directory = home + cfg.Data.Directory[1:]
		}
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = 5 * time.Minute
	}
	if cfg.Poll.Workers == 0 {
		cfg.Poll.Workers = 4
	}
	if cfg.Poll.FetchTimeout == 0 {
		cfg.Poll.FetchTimeout = 15 * time.Second
	}
	if cfg.Chat.Mode == "" {
		cfg.Chat.Mode = "console"
	}
	if cfg.Chat.Room == "" {
		cfg.Chat.Room = AppName
	}
	if cfg.Chat.CommandPrefix == "" {
		cfg.Chat.CommandPrefix = "!"
	}
	if cfg.Chat.ListenAddr == "" {
		cfg.Chat.ListenAddr = "127.0.0.1:8088"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg *Config) error {
	if *cfg.Feeds.HistoryQueueLength < 0 {
		return fmt.Errorf("history_queue_length 不能为负数: %d", *cfg.Feeds.HistoryQueueLength)
	}
	if cfg.Poll.Interval < 0 || cfg.Poll.FetchTimeout < 0 || cfg.Feeds.DefaultMaxAge < 0 {
		return fmt.Errorf("时长配置不能为负数")
	}
	if cfg.Feeds.DefaultMaxAge%time.Second != 0 || cfg.Feeds.DefaultMaxAge > rss.MaxAgeLimit {
		return fmt.Errorf("default_max_age 必须是整秒且不超过 %s: %s", rss.MaxAgeLimit, cfg.Feeds.DefaultMaxAge)
	}
	if cfg.Poll.Workers < 0 {
		return fmt.Errorf("workers 不能为负数: %d", cfg.Poll.Workers)
	}
	switch cfg.Chat.Mode {
	case "console":
	case "webhook":
		if cfg.Chat.WebhookURL == "" {
			return fmt.Errorf("webhook 模式需要设置 webhook_url")
		}
	case "websocket":
		if cfg.Chat.WebsocketURL == "" {
			return fmt.Errorf("websocket 模式需要设置 websocket_url")
		}
	default:
		return fmt.Errorf("未知的聊天模式: %s", cfg.Chat.Mode)
	}
	if strings.ContainsAny(cfg.Chat.CommandPrefix, " \t\r\n") {
		return fmt.Errorf("命令前缀不能包含空白: %q", cfg.Chat.CommandPrefix)
	}
	return nil
}
