package session

import (
	"context"
	"sync"
	"time"

	"BidToEarn-Agent/internal/agent"
)

// State 表示会话所处的生命周期阶段。
type State string

const (
	// StateInitializing 表示会话尚未完成初始化。
	StateInitializing State = "initializing"
	// StateReady 表示会话可以正常处理消息。
	StateReady State = "ready"
	// StateDegraded 表示上一次调用出现超时等可恢复故障，下一次调用
	// 前会先重建底层智能体。
	StateDegraded State = "degraded"
	// StateFailed 表示初始化重试次数耗尽，会话进入终态。终态会话
	// 不再发起任何外部调用，只能等待闲置回收。
	StateFailed State = "failed"
)

// Chatter 是会话底层智能体需要实现的最小接口。
type Chatter interface {
	Chat(ctx context.Context, sessionKey, input string) (*agent.Reply, error)
}

// Factory 按会话键构建底层智能体。初始化可能包含钱包配置、链连接等
// 外部调用，失败时由管理器负责重试。
type Factory func(ctx context.Context, sessionKey string) (Chatter, error)

// Health 是对外暴露的会话健康状况。
type Health struct {
	Status    string    `json:"status"`
	LastCheck time.Time `json:"lastCheck"`
	Error     string    `json:"error,omitempty"`
}

// Session 绑定一个会话键与它的智能体实例。所有字段都由 mu 保护，
// 同一会话的消息因此天然串行执行。
type Session struct {
	key string

	mu       sync.Mutex
	state    State
	agent    Chatter
	lastErr  error
	lastInit time.Time
	lastUsed time.Time
}

// Key 返回会话键。
func (s *Session) Key() string {
	return s.key
}

func healthStatus(state State) string {
	switch state {
	case StateReady:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "initializing"
	}
}
