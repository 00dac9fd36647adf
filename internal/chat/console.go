package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/iabetor/feedbot/internal/logger"
)

// ConsoleRoom 把终端当作聊天室：每行输入是一条消息，输出直接打印。
type ConsoleRoom struct {
	room    string
	in      io.Reader
	mu      sync.Mutex
	out     io.Writer
	handler Handler
}

// NewConsoleRoom 创建终端聊天室。
func NewConsoleRoom(room string, in io.Reader, out io.Writer) *ConsoleRoom {
	return &ConsoleRoom{room: room, in: in, out: out}
}

// Emit 打印一条消息。终端只有一个聊天室，room 仅用于校验。
func (c *ConsoleRoom) Emit(ctx context.Context, room, text string) error {
	if room != "" && room != c.room {
		return fmt.Errorf("%w: 未知聊天室 %s", ErrEmitFailed, room)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEmitFailed, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.out, text); err != nil {
		return fmt.Errorf("%w: %v", ErrEmitFailed, err)
	}
	return nil
}

// OnMessage 注册消息处理函数。
func (c *ConsoleRoom) OnMessage(h Handler) { c.handler = h }

// Run 逐行读取输入。输入结束后继续等待 ctx 结束，轮询不受影响。
func (c *ConsoleRoom) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warnf("[chat] 读取输入失败: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				logger.Debugf("[chat] 输入已结束")
				<-ctx.Done()
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" || c.handler == nil {
				continue
			}
			c.handler(ctx, Message{Room: c.room, From: "console", Text: line})
		}
	}
}

// Close 无需释放资源。
func (c *ConsoleRoom) Close() error { return nil }
