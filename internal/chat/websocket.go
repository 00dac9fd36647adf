package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iabetor/feedbot/internal/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsRetryDelay   = 5 * time.Second
)

// WebsocketRoom 通过一条长连接收发 JSON 消息：
// 发送 {"room","text"}，接收 {"from","text"}。断线后自动重连。
type WebsocketRoom struct {
	room    string
	url     string
	dialer  *websocket.Dialer
	retry   time.Duration
	handler Handler

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewWebsocketRoom 创建 WebSocket 聊天室。
func NewWebsocketRoom(room, url string, handshakeTimeout time.Duration) *WebsocketRoom {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &WebsocketRoom{
		room:   room,
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		retry:  wsRetryDelay,
	}
}

// Emit 通过当前连接发送一条消息，未连接时返回 ErrEmitFailed。
func (w *WebsocketRoom) Emit(ctx context.Context, room, text string) error {
	if room == "" {
		room = w.room
	}

	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("%w: WebSocket 未连接", ErrEmitFailed)
	}

	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteJSON(outgoing{Room: room, Text: text}); err != nil {
		return fmt.Errorf("%w: %v", ErrEmitFailed, err)
	}
	return nil
}

// OnMessage 注册消息处理函数。
func (w *WebsocketRoom) OnMessage(h Handler) { w.handler = h }

// Run 保持连接并分发消息，直到 ctx 结束。
func (w *WebsocketRoom) Run(ctx context.Context) error {
	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.Warnf("[chat] WebSocket 连接中断: %v，%s 后重连", err, w.retry)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.retry):
		}
	}
}

// session 建立一次连接并读取消息，直到连接出错。
func (w *WebsocketRoom) session(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("WebSocket 连接失败: %w", err)
	}
	logger.Infof("[chat] WebSocket 已连接: %s", w.url)

	w.setConn(conn)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		w.setConn(nil)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg incoming
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debugf("[chat] 忽略无法解析的消息: %s", data)
			continue
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" || w.handler == nil {
			continue
		}
		w.handler(ctx, Message{Room: w.room, From: msg.From, Text: text})
	}
}

func (w *WebsocketRoom) setConn(conn *websocket.Conn) {
	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
}

// Close 关闭当前连接。
func (w *WebsocketRoom) Close() error {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}
