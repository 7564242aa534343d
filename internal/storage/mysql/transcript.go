package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TranscriptRecord 表示一条落库的对话记录。
type TranscriptRecord struct {
	SessionKey string `json:"session_key"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"`
}

// TranscriptRepository 抽象对话记录的持久化接口。
type TranscriptRepository interface {
	Save(ctx context.Context, record TranscriptRecord) error
	ListBySession(ctx context.Context, sessionKey string, limit int) ([]TranscriptRecord, error)
	Close() error
}

// MemoryTranscriptRepository 使用本地 JSON 行文件模拟 MySQL 的效果，方便迭代开发。
type MemoryTranscriptRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []TranscriptRecord
}

const memoryTranscriptCap = 1024

// NewMemoryTranscriptRepository 创建文件型对话仓库。
func NewMemoryTranscriptRepository(dataDir string) (*MemoryTranscriptRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "transcripts.log")
	repo := &MemoryTranscriptRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录对话。
func (m *MemoryTranscriptRepository) Save(_ context.Context, record TranscriptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开对话日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化对话记录失败: %w", err)
	}

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入对话日志失败: %w", err)
	}

	m.records = append(m.records, record)
	if len(m.records) > memoryTranscriptCap {
		m.records = m.records[len(m.records)-memoryTranscriptCap:]
	}
	return nil
}

// ListBySession 返回指定会话最近的记录，按时间从旧到新排列。
func (m *MemoryTranscriptRepository) ListBySession(_ context.Context, sessionKey string, limit int) ([]TranscriptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []TranscriptRecord
	for _, record := range m.records {
		if record.SessionKey == sessionKey {
			matched = append(matched, record)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// Close 实现 TranscriptRepository 接口。
func (m *MemoryTranscriptRepository) Close() error {
	return nil
}

func (m *MemoryTranscriptRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取对话日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []TranscriptRecord
	for scanner.Scan() {
		var record TranscriptRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append(restored, record)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析对话日志失败: %w", err)
	}

	if len(restored) > memoryTranscriptCap {
		restored = restored[len(restored)-memoryTranscriptCap:]
	}
	m.records = restored
	return nil
}

// SQLTranscriptRepository 使用真实的 MySQL 数据库存储对话记录。
type SQLTranscriptRepository struct {
	db *sql.DB
}

// NewSQLTranscriptRepository 创建连接池并初始化数据表。
func NewSQLTranscriptRepository(ctx context.Context, cfg Config) (*SQLTranscriptRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repo := &SQLTranscriptRepository{db: db}
	if err := repo.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (s *SQLTranscriptRepository) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS chat_transcripts (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        session_key VARCHAR(128) NOT NULL,
        role VARCHAR(32) NOT NULL,
        content TEXT NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_session_created (session_key, created_at)
)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("初始化 chat_transcripts 表失败: %w", err)
	}
	return nil
}

// Save 将对话记录写入 MySQL。
func (s *SQLTranscriptRepository) Save(ctx context.Context, record TranscriptRecord) error {
	const stmt = `INSERT INTO chat_transcripts (session_key, role, content, created_at) VALUES (?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.SessionKey,
		record.Role,
		record.Content,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListBySession 查询指定会话最近的若干条记录，按时间从旧到新排列。
func (s *SQLTranscriptRepository) ListBySession(ctx context.Context, sessionKey string, limit int) ([]TranscriptRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `SELECT session_key, role, content, created_at
        FROM chat_transcripts WHERE session_key = ? ORDER BY id DESC LIMIT ?`, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("查询对话记录失败: %w", err)
	}
	defer rows.Close()

	var records []TranscriptRecord
	for rows.Next() {
		var record TranscriptRecord
		if err := rows.Scan(&record.SessionKey, &record.Role, &record.Content, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析对话记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历对话记录失败: %w", err)
	}

	// 查询按 id 倒序取最近 N 条，返回前翻转为时间正序。
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLTranscriptRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
