package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Environment 表示部署环境（development 或 production）。
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config 描述了 biddyd 在启动阶段需要加载的核心配置。
type Config struct {
	Environment Environment      `json:"-"`
	Server      ServerConfig     `json:"server"`
	LLM         LLMConfig        `json:"llm"`
	Wallet      WalletConfig     `json:"wallet"`
	Chain       ChainConfig      `json:"chain"`
	Pinning     PinningConfig    `json:"pinning"`
	Session     SessionConfig    `json:"session"`
	History     HistoryConfig    `json:"history"`
	Transcript  TranscriptConfig `json:"transcript"`
	Alerting    AlertingConfig   `json:"alerting"`
	Log         LogConfig        `json:"log"`
	Runtime     RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述调用 OpenAI Chat Completions API 所需的信息。
// API Key 从环境变量 OPENAI_API_KEY 读取，不放在配置文件中。
type OpenAIConfig struct {
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxIterations  int    `json:"max_iterations"`
}

// Timeout 返回调用 OpenAI 的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WalletConfig 选择钱包实现并携带托管服务的连接参数。
type WalletConfig struct {
	Provider string        `json:"provider"`
	Custody  CustodyConfig `json:"custody"`
}

// CustodyConfig 描述外部托管钱包服务的访问方式。凭据通过环境变量
// {DEV|PROD}_CUSTODY_API_KEY_NAME / {DEV|PROD}_CUSTODY_API_KEY_SECRET 提供。
type CustodyConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回托管服务调用的超时时间。
func (c CustodyConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChainConfig 包含访问区块链节点所需的 RPC 地址与链定义文件。
type ChainConfig struct {
	Definitions  string `json:"definitions"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
}

// PinningConfig 描述 IPFS 固定服务（Pinata 风格）的调用方式。
// JWT 与网关主机名分别来自环境变量 PINATA_JWT 和 PINATA_GATEWAY。
type PinningConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SessionConfig 控制会话生命周期管理的各项阈值。
type SessionConfig struct {
	MaxInitRetries         int `json:"max_init_retries"`
	InitBackoffSeconds     int `json:"init_backoff_seconds"`
	MaxBackoffSeconds      int `json:"max_backoff_seconds"`
	InitTimeoutSeconds     int `json:"init_timeout_seconds"`
	DispatchTimeoutSeconds int `json:"dispatch_timeout_seconds"`
	IdleEvictionMinutes    int `json:"idle_eviction_minutes"`
	SweepIntervalMinutes   int `json:"sweep_interval_minutes"`
	StalenessHours         int `json:"staleness_hours"`
}

// HistoryConfig 控制会话对话历史的存储方式。
type HistoryConfig struct {
	Driver string      `json:"driver"`
	Depth  int         `json:"depth"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	Prefix     string `json:"prefix"`
	TTLMinutes int    `json:"ttl_minutes"`
}

// TranscriptConfig 控制聊天记录的持久化方式。
type TranscriptConfig struct {
	Driver string      `json:"driver"`
	MySQL  MySQLConfig `json:"mysql"`
}

// MySQLConfig 描述 MySQL 连接参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// AlertingConfig 控制告警投递渠道。
type AlertingConfig struct {
	AMQP AMQPConfig `json:"amqp"`
}

// AMQPConfig 描述 RabbitMQ 告警通道的连接参数。URL 为空时禁用该通道。
type AMQPConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// LogConfig 控制日志输出。
type LogConfig struct {
	Level  string         `json:"level"`
	Format string         `json:"format"`
	Output string         `json:"output"`
	Audit  AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制审计日志输出。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir             string `json:"data_dir"`
	AutoIntervalSeconds int    `json:"auto_interval_seconds"`
}

// Load 负责解析指定路径的 JSON 配置文件，并根据 BIDDY_ENV 解析部署环境。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.Environment = ResolveEnvironment()
	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":3000"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}
	if c.LLM.OpenAI.MaxIterations <= 0 {
		// 生产环境允许更多推理步骤。
		if c.Environment == EnvProduction {
			c.LLM.OpenAI.MaxIterations = 15
		} else {
			c.LLM.OpenAI.MaxIterations = 10
		}
	}

	if c.Wallet.Provider == "" {
		if c.Environment == EnvProduction {
			c.Wallet.Provider = "custody"
		} else {
			c.Wallet.Provider = "local"
		}
	}

	if c.Pinning.BaseURL == "" {
		c.Pinning.BaseURL = "https://api.pinata.cloud"
	}
	if c.Pinning.TimeoutSeconds <= 0 {
		c.Pinning.TimeoutSeconds = 60
	}

	if c.Session.MaxInitRetries <= 0 {
		c.Session.MaxInitRetries = 3
	}
	if c.Session.InitBackoffSeconds <= 0 {
		c.Session.InitBackoffSeconds = 1
	}
	if c.Session.MaxBackoffSeconds <= 0 {
		c.Session.MaxBackoffSeconds = 5
	}
	if c.Session.InitTimeoutSeconds <= 0 {
		c.Session.InitTimeoutSeconds = 30
	}
	if c.Session.DispatchTimeoutSeconds <= 0 {
		c.Session.DispatchTimeoutSeconds = 120
	}
	if c.Session.IdleEvictionMinutes <= 0 {
		c.Session.IdleEvictionMinutes = 30
	}
	if c.Session.SweepIntervalMinutes <= 0 {
		c.Session.SweepIntervalMinutes = 30
	}
	if c.Session.StalenessHours <= 0 {
		c.Session.StalenessHours = 12
	}

	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}
	if c.History.Depth <= 0 {
		c.History.Depth = 20
	}
	if c.History.Redis.Prefix == "" {
		c.History.Redis.Prefix = "biddy:history"
	}

	if c.Transcript.Driver == "" {
		c.Transcript.Driver = "memory"
	}

	if c.Chain.Definitions != "" && !filepath.IsAbs(c.Chain.Definitions) {
		c.Chain.Definitions = filepath.Join(baseDir, c.Chain.Definitions)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Runtime.AutoIntervalSeconds <= 0 {
		c.Runtime.AutoIntervalSeconds = 10
	}
}

// WalletDataFile 返回当前部署环境下钱包导出数据的落盘路径。
func (c *Config) WalletDataFile() string {
	name := "dev_wallet_data.txt"
	if c.Environment == EnvProduction {
		name = "prod_wallet_data.txt"
	}
	return filepath.Join(c.Runtime.DataDir, name)
}
