package pipeline

import (
	"sync"

	"github.com/iabetor/feedbot/internal/logger"
)

// State 表示单个订阅源在一轮轮询中的阶段。
type State int

const (
	// StateIdle 等待下一轮轮询。
	StateIdle State = iota
	// StateFetching 正在抓取订阅源。
	StateFetching
	// StateDiffing 正在与历史比对。
	StateDiffing
	// StateEmitting 正在向聊天室发送新条目。
	StateEmitting
)

var stateNames = [...]string{
	"Idle",
	"Fetching",
	"Diffing",
	"Emitting",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// StateMachine 管理线程安全的状态转换。
type StateMachine struct {
	mu      sync.RWMutex
	name    string
	current State
}

// NewStateMachine 创建一个初始状态为 Idle 的状态机，name 仅用于日志。
func NewStateMachine(name string) *StateMachine {
	return &StateMachine{
		name:    name,
		current: StateIdle,
	}
}

// Current 返回当前状态。
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Transition 尝试切换状态。只有合法的转换才会生效：
//
//	Idle     → Fetching  （轮询开始）
//	Fetching → Diffing   （抓取成功）
//	Diffing  → Emitting  （有新条目）
//	Emitting → Idle      （发送完毕）
//
// 任何状态都可以转换到 Idle（抓取失败或没有新条目）。
func (sm *StateMachine) Transition(to State) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !validTransition(sm.current, to) {
		logger.Warnf("[state] %s: 非法转换 %s → %s", sm.name, sm.current, to)
		return false
	}

	from := sm.current
	sm.current = to
	logger.Debugf("[state] %s: %s → %s", sm.name, from, to)
	return true
}

// ForceIdle 无条件重置状态为 Idle。
func (sm *StateMachine) ForceIdle() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.current
	sm.current = StateIdle
	if from != StateIdle {
		logger.Debugf("[state] %s: 强制重置 %s → Idle", sm.name, from)
	}
}

func validTransition(from, to State) bool {
	if to == StateIdle {
		return true
	}
	switch from {
	case StateIdle:
		return to == StateFetching
	case StateFetching:
		return to == StateDiffing
	case StateDiffing:
		return to == StateEmitting
	}
	return false
}
