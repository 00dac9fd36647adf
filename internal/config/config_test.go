package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feedbot.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestSetDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Feeds.HistoryQueueLength", *cfg.Feeds.HistoryQueueLength, 200},
		{"Data.Filename", cfg.Data.Filename, "feedbot.conf"},
		{"Data.Directory", cfg.Data.Directory, ""},
		{"Poll.Interval", cfg.Poll.Interval, 5 * time.Minute},
		{"Poll.Workers", cfg.Poll.Workers, 4},
		{"Poll.FetchTimeout", cfg.Poll.FetchTimeout, 15 * time.Second},
		{"Chat.Mode", cfg.Chat.Mode, "console"},
		{"Chat.Room", cfg.Chat.Room, "feedbot"},
		{"Chat.CommandPrefix", cfg.Chat.CommandPrefix, "!"},
		{"Log.Level", cfg.Log.Level, "info"},
	}

	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
	if !cfg.JournalEnabled() {
		t.Error("journal should be enabled by default")
	}
}

func TestSetDefaults_DoesNotOverride(t *testing.T) {
	zero := 0
	cfg := &Config{
		Feeds: FeedsConfig{HistoryQueueLength: &zero},
		Poll:  PollConfig{Interval: time.Minute, Workers: 9},
		Chat:  ChatConfig{CommandPrefix: "/"},
		Log:   LogConfig{Level: "debug"},
	}
	setDefaults(cfg)

	if cfg.HistoryCapacity() != 0 {
		t.Errorf("explicit zero capacity should be kept, got %d", cfg.HistoryCapacity())
	}
	if cfg.Poll.Interval != time.Minute {
		t.Errorf("Interval should not be overridden: got %s", cfg.Poll.Interval)
	}
	if cfg.Poll.Workers != 9 {
		t.Errorf("Workers should not be overridden: got %d", cfg.Poll.Workers)
	}
	if cfg.Chat.CommandPrefix != "/" {
		t.Errorf("CommandPrefix should not be overridden: got %s", cfg.Chat.CommandPrefix)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level should not be overridden: got %s", cfg.Log.Level)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, `
feeds:
  history_queue_length: 50
  default_max_age: 90m
  blacklist_consumes_history: true
data:
  directory: /var/lib/feedbot
  filename: state.json
poll:
  interval: 10m
  workers: 2
  fetch_timeout: 5s
chat:
  room: ops@conference.example.com
  command_prefix: /
journal:
  enabled: false
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HistoryCapacity() != 50 {
		t.Errorf("HistoryCapacity: got %d, want 50", cfg.HistoryCapacity())
	}
	if cfg.Feeds.DefaultMaxAge != 90*time.Minute {
		t.Errorf("DefaultMaxAge: got %s", cfg.Feeds.DefaultMaxAge)
	}
	if !cfg.Feeds.BlacklistConsumesHistory {
		t.Error("BlacklistConsumesHistory should be true")
	}
	if cfg.Data.Directory != "/var/lib/feedbot" || cfg.Data.Filename != "state.json" {
		t.Errorf("Data: got %+v", cfg.Data)
	}
	if cfg.Poll.Interval != 10*time.Minute || cfg.Poll.Workers != 2 || cfg.Poll.FetchTimeout != 5*time.Second {
		t.Errorf("Poll: got %+v", cfg.Poll)
	}
	if cfg.Chat.Room != "ops@conference.example.com" || cfg.Chat.CommandPrefix != "/" {
		t.Errorf("Chat: got %+v", cfg.Chat)
	}
	if cfg.JournalEnabled() {
		t.Error("journal should be disabled")
	}
	// 未设置的字段应使用默认值
	if cfg.Chat.Mode != "console" {
		t.Errorf("Chat.Mode should default to console, got %q", cfg.Chat.Mode)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FEED_HISTORY_QUEUE_LENGTH", "3")
	t.Setenv("DATA_DIRECTORY", "/srv/feedbot")
	t.Setenv("DATA_FILENAME", "bot.conf")
	t.Setenv("FEEDBOT_POLL_INTERVAL", "30s")
	t.Setenv("FEEDBOT_WORKERS", "8")
	t.Setenv("FEEDBOT_JOURNAL", "false")

	path := writeConfig(t, `
feeds:
  history_queue_length: 50
data:
  directory: /var/lib/feedbot
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HistoryCapacity() != 3 {
		t.Errorf("env should override capacity, got %d", cfg.HistoryCapacity())
	}
	if cfg.Data.Directory != "/srv/feedbot" || cfg.Data.Filename != "bot.conf" {
		t.Errorf("Data: got %+v", cfg.Data)
	}
	if cfg.Poll.Interval != 30*time.Second || cfg.Poll.Workers != 8 {
		t.Errorf("Poll: got %+v", cfg.Poll)
	}
	if cfg.JournalEnabled() {
		t.Error("journal should be disabled by env")
	}
}

func TestLoad_NoFileUsesEnvAndDefaults(t *testing.T) {
	t.Setenv("FEED_HISTORY_QUEUE_LENGTH", "0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HistoryCapacity() != 0 {
		t.Errorf("expected capacity 0 from env, got %d", cfg.HistoryCapacity())
	}
	if cfg.Data.Filename != "feedbot.conf" {
		t.Errorf("expected default filename, got %q", cfg.Data.Filename)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_WEBHOOK", "https://chat.example.com/hook")

	path := writeConfig(t, `
chat:
  mode: webhook
  webhook_url: "${TEST_WEBHOOK}"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chat.WebhookURL != "https://chat.example.com/hook" {
		t.Errorf("expected env var expansion, got %q", cfg.Chat.WebhookURL)
	}
}

func TestLoad_WebsocketMode(t *testing.T) {
	t.Setenv("FEEDBOT_CHAT_MODE", "websocket")
	t.Setenv("FEEDBOT_WEBSOCKET_URL", "wss://chat.example.com/bot")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chat.Mode != "websocket" || cfg.Chat.WebsocketURL != "wss://chat.example.com/bot" {
		t.Errorf("Chat: got %+v", cfg.Chat)
	}
}

func TestLoad_SubMinuteMaxAge(t *testing.T) {
	t.Setenv("FEEDBOT_DEFAULT_MAX_AGE", "30s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Feeds.DefaultMaxAge != 30*time.Second {
		t.Errorf("DefaultMaxAge: got %s", cfg.Feeds.DefaultMaxAge)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]struct {
		yaml string
		env  map[string]string
	}{
		"bad queue length env":  {env: map[string]string{"FEED_HISTORY_QUEUE_LENGTH": "many"}},
		"negative queue":        {yaml: "feeds:\n  history_queue_length: -1\n"},
		"bad duration env":      {env: map[string]string{"FEEDBOT_POLL_INTERVAL": "soon"}},
		"fractional max age":    {env: map[string]string{"FEEDBOT_DEFAULT_MAX_AGE": "1500ms"}},
		"max age beyond limit":  {env: map[string]string{"FEEDBOT_DEFAULT_MAX_AGE": "1000000h"}},
		"webhook without url":   {yaml: "chat:\n  mode: webhook\n"},
		"websocket without url": {yaml: "chat:\n  mode: websocket\n"},
		"unknown mode":          {yaml: "chat:\n  mode: irc\n"},
		"prefix with space":     {yaml: "chat:\n  command_prefix: \"! \"\n"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.yaml != "" {
				path = writeConfig(t, tc.yaml)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/feedbot.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestSetDefaults_ExpandsHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	cfg := &Config{Data: DataConfig{Directory: "~/feeds"}}
	setDefaults(cfg)
	if cfg.Data.Directory != "/home/tester/feeds" {
		t.Errorf("expected ~ expansion, got %q", cfg.Data.Directory)
	}
}
