package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 历史存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	Depth    int
	TTL      time.Duration
}

// RedisStore 使用 Redis list 保存会话历史。每个会话对应一个 list，
// 通过 LTRIM 保持窗口深度，通过 TTL 让闲置会话的历史自然过期。
type RedisStore struct {
	client *redis.Client
	prefix string
	depth  int
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 历史存储并验证连接。
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "biddy:history"
	}
	depth := cfg.Depth
	if depth <= 0 {
		depth = 20
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, depth: depth, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(sessionKey string) string {
	return s.prefix + ":" + sessionKey
}

// Append 追加记录并裁剪至配置的深度。
func (s *RedisStore) Append(ctx context.Context, sessionKey string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]any, 0, len(entries))
	for _, entry := range entries {
		encoded, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("序列化历史记录失败: %w", err)
		}
		values = append(values, encoded)
	}

	key := s.key(sessionKey)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.depth), -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入 Redis 历史失败: %w", err)
	}
	return nil
}

// Recent 返回会话保留窗口内的全部记录。
func (s *RedisStore) Recent(ctx context.Context, sessionKey string) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, s.key(sessionKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取 Redis 历史失败: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			// 跳过无法解析的脏数据，不让单条损坏记录拖垮整个会话。
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Clear 删除会话历史。
func (s *RedisStore) Clear(ctx context.Context, sessionKey string) error {
	if err := s.client.Del(ctx, s.key(sessionKey)).Err(); err != nil {
		return fmt.Errorf("删除 Redis 历史失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
