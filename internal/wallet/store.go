package wallet

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Store 负责钱包导出数据的落盘。每个部署环境对应一个文件，启动时读回以恢复
// 同一地址；每次初始化成功后，若导出数据与磁盘内容不同则重写。
type Store struct {
	path string
	mode os.FileMode
}

// NewStore 创建钱包数据存储。restrictive 为 true 时文件权限收紧到 0600
// （生产环境）。
func NewStore(path string, restrictive bool) *Store {
	mode := os.FileMode(0o644)
	if restrictive {
		mode = 0o600
	}
	return &Store{path: path, mode: mode}
}

// Load 读取已保存的钱包数据。文件不存在时返回 (nil, false, nil)。
func (s *Store) Load() ([]byte, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("读取钱包数据失败: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// SaveIfChanged 在导出数据与磁盘内容不同时重写文件。返回是否发生了写入。
func (s *Store) SaveIfChanged(data []byte) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	existing, err := os.ReadFile(s.path)
	if err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return false, fmt.Errorf("创建钱包数据目录失败: %w", err)
	}
	if err := os.WriteFile(s.path, data, s.mode); err != nil {
		return false, fmt.Errorf("写入钱包数据失败: %w", err)
	}
	return true, nil
}

// Path 返回存储文件路径。
func (s *Store) Path() string {
	return s.path
}
