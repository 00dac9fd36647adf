package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/iabetor/feedbot/internal/logger"
)

// WebhookRoom 通过 HTTP 对接聊天服务：
// 发送时 POST {"room","text"} 到 webhook 地址，
// 接收时监听 POST /messages，请求体为 {"from","text"}。
type WebhookRoom struct {
	room       string
	webhookURL string
	listenAddr string
	httpClient *http.Client
	handler    Handler
	server     *http.Server
}

// NewWebhookRoom 创建 webhook 聊天室。
func NewWebhookRoom(room, webhookURL, listenAddr string, timeout time.Duration) *WebhookRoom {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookRoom{
		room:       room,
		webhookURL: webhookURL,
		listenAddr: listenAddr,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type outgoing struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

type incoming struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// Emit 把消息 POST 到 webhook。
func (w *WebhookRoom) Emit(ctx context.Context, room, text string) error {
	if room == "" {
		room = w.room
	}
	body, err := json.Marshal(outgoing{Room: room, Text: text})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmitFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: 创建请求失败: %v", ErrEmitFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmitFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook 返回 HTTP %d", ErrEmitFailed, resp.StatusCode)
	}
	return nil
}

// OnMessage 注册消息处理函数。
func (w *WebhookRoom) OnMessage(h Handler) { w.handler = h }

// Handler 返回接收消息的 HTTP 处理器。
func (w *WebhookRoom) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var msg incoming
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&msg); err != nil {
			http.Error(rw, "invalid body", http.StatusBadRequest)
			return
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			http.Error(rw, "empty text", http.StatusBadRequest)
			return
		}
		if w.handler != nil {
			w.handler(ctx, Message{Room: w.room, From: msg.From, Text: text})
		}
		rw.WriteHeader(http.StatusAccepted)
	})
	return mux
}

// Run 监听消息直到 ctx 结束。
func (w *WebhookRoom) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.listenAddr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", w.listenAddr, err)
	}
	w.server = &http.Server{Handler: w.Handler(ctx), ReadHeaderTimeout: 10 * time.Second}
	logger.Infof("[chat] webhook 监听 %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close 关闭监听。
func (w *WebhookRoom) Close() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}
