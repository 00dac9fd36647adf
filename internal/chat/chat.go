// Package chat 抽象 feedbot 所在的聊天室：发送文本、接收命令。
package chat

import (
	"context"
	"errors"
)

// ErrEmitFailed 消息发送失败。
var ErrEmitFailed = errors.New("发送消息失败")

// Message 聊天室中收到的一条消息。
type Message struct {
	Room string
	From string
	Text string
}

// Handler 处理收到的消息。
type Handler func(ctx context.Context, msg Message)

// Room 聊天室连接。
type Room interface {
	// Emit 向聊天室发送一条文本，room 为空时发往默认聊天室。
	Emit(ctx context.Context, room, text string) error
	// OnMessage 注册消息处理函数，需在 Run 之前调用。
	OnMessage(h Handler)
	// Run 接收消息直到 ctx 结束。
	Run(ctx context.Context) error
	// Close 释放连接。
	Close() error
}
