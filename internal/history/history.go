// Package history stores per-session conversation transcripts used to rebuild
// model context across requests. Implementations must bound the retained
// window so long-running sessions cannot grow without limit.
package history

import "context"

// Entry 是一条对话记录。
type Entry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// Store 定义会话历史存储接口。实现需要按会话键隔离数据，并将保留的
// 条目数量限制在配置的深度以内（淘汰最旧的条目）。
type Store interface {
	// Append 向指定会话追加若干条记录。
	Append(ctx context.Context, sessionKey string, entries ...Entry) error
	// Recent 返回指定会话最近的记录，按时间从旧到新排列。
	Recent(ctx context.Context, sessionKey string) ([]Entry, error)
	// Clear 清空指定会话的历史。
	Clear(ctx context.Context, sessionKey string) error
	// Close 释放底层资源。
	Close() error
}
