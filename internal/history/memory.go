package history

import (
	"context"
	"sync"
)

// MemoryStore 将会话历史保存在进程内，仅用于开发环境或测试。
type MemoryStore struct {
	mu      sync.Mutex
	depth   int
	entries map[string][]Entry
}

// NewMemoryStore 创建内存历史存储。depth 为每个会话保留的最大条目数。
func NewMemoryStore(depth int) *MemoryStore {
	if depth <= 0 {
		depth = 20
	}
	return &MemoryStore{
		depth:   depth,
		entries: make(map[string][]Entry),
	}
}

// Append 追加记录并裁剪超出深度的最旧条目。
func (s *MemoryStore) Append(_ context.Context, sessionKey string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	combined := append(s.entries[sessionKey], entries...)
	if len(combined) > s.depth {
		combined = combined[len(combined)-s.depth:]
	}
	s.entries[sessionKey] = combined
	return nil
}

// Recent 返回会话的全部保留记录副本。
func (s *MemoryStore) Recent(_ context.Context, sessionKey string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.entries[sessionKey]
	out := make([]Entry, len(stored))
	copy(out, stored)
	return out, nil
}

// Clear 清空会话历史。
func (s *MemoryStore) Clear(_ context.Context, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionKey)
	return nil
}

// Close 实现 Store 接口，内存实现无需释放资源。
func (s *MemoryStore) Close() error {
	return nil
}
