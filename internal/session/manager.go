package session

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"BidToEarn-Agent/internal/agent"
	xerrors "BidToEarn-Agent/internal/errors"
	"BidToEarn-Agent/internal/observability/alerting"
	"BidToEarn-Agent/internal/observability/metrics"
	"BidToEarn-Agent/pkg/logger"
)

// Config 描述会话池的行为参数。
type Config struct {
	// MaxInitRetries 是初始化失败时的最大尝试次数（含首次）。
	MaxInitRetries int
	// InitBackoff 是重试退避的基准间隔，按尝试次数指数增长。
	InitBackoff time.Duration
	// MaxBackoff 是退避间隔的上限。
	MaxBackoff time.Duration
	// InitTimeout 是单次初始化尝试的超时时间。
	InitTimeout time.Duration
	// DispatchTimeout 是单条消息处理的超时时间。
	DispatchTimeout time.Duration
	// IdleEviction 是会话闲置多久后被回收。
	IdleEviction time.Duration
	// SweepInterval 是后台回收循环的运行间隔。
	SweepInterval time.Duration
	// Staleness 是会话多久未重建后强制重新初始化。
	Staleness time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxInitRetries <= 0 {
		c.MaxInitRetries = 3
	}
	if c.InitBackoff <= 0 {
		c.InitBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 2 * time.Minute
	}
	if c.IdleEviction <= 0 {
		c.IdleEviction = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Minute
	}
	if c.Staleness <= 0 {
		c.Staleness = 12 * time.Hour
	}
}

// Manager 管理会话池。它保证同一会话的消息串行处理、不同会话互不阻塞，
// 并负责初始化重试、过期重建与闲置回收。
type Manager struct {
	cfg     Config
	factory Factory
	alerts  alerting.Dispatcher
	now     func() time.Time
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option 定义可选的 Manager 配置。
type Option func(*Manager)

// WithNotifier 配置告警分发器，会话进入终态失败时触发。
func WithNotifier(dispatcher alerting.Dispatcher) Option {
	return func(m *Manager) {
		m.alerts = dispatcher
	}
}

// WithClock 注入时间源，仅测试使用。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 创建会话池。
func NewManager(cfg Config, factory Factory, opts ...Option) (*Manager, error) {
	if factory == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供会话工厂")
	}
	cfg.applyDefaults()
	m := &Manager{
		cfg:      cfg,
		factory:  factory,
		now:      time.Now,
		sessions: make(map[string]*Session),
		log:      logger.Named("session"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// degradedApology 在底层处理失败时返回给用户，避免暴露后端错误细节。
const degradedApology = "I'm experiencing some technical difficulties and need to reinitialize. " +
	"Please try your request again in a moment."

// Dispatch 将一条用户消息路由到对应会话。同一会话上的并发调用按到达
// 顺序排队执行；会话未初始化时由第一个调用者完成初始化，排队中的其余
// 调用直接复用结果。
func (m *Manager) Dispatch(ctx context.Context, sessionKey, input string) (*agent.Reply, error) {
	s := m.getOrCreate(sessionKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	// 排队期间调用方可能已经放弃，拿到锁后先确认上下文仍然有效。
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err,
			fmt.Sprintf("会话 %s 的请求在排队时被取消", sessionKey))
	}

	if s.state == StateFailed {
		return nil, xerrors.New(xerrors.CodeSessionFailed,
			fmt.Sprintf("会话 %s 已进入失败终态: %v", sessionKey, s.lastErr))
	}

	now := m.now()
	needsInit := s.agent == nil || s.state == StateDegraded
	if !needsInit && now.Sub(s.lastInit) >= m.cfg.Staleness {
		m.log.Info("会话超过新鲜度窗口，强制重建",
			slog.String("session", sessionKey),
			slog.Time("last_init", s.lastInit),
		)
		needsInit = true
	}
	if needsInit {
		if s.agent != nil {
			metrics.IncSessionReinits()
		}
		if err := m.initialize(ctx, s); err != nil {
			return nil, err
		}
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, m.cfg.DispatchTimeout)
	defer cancel()

	reply, err := s.agent.Chat(dispatchCtx, sessionKey, input)
	s.lastUsed = m.now()
	if err != nil {
		// 底层错误不会原样抛给终端用户：会话降级、下一条消息前重建，
		// 本条消息返回统一的致歉文案。
		s.state = StateDegraded
		s.lastErr = err
		if stdErrors.Is(err, context.DeadlineExceeded) || xerrors.CodeOf(err) == xerrors.CodeTimeout {
			m.log.Warn("会话处理超时，已降级",
				slog.String("session", sessionKey),
				slog.String("error", err.Error()),
			)
		} else {
			m.log.Warn("会话处理失败，已降级",
				slog.String("session", sessionKey),
				slog.String("error", err.Error()),
			)
		}
		return &agent.Reply{
			Content:   degradedApology,
			CreatedAt: m.now().Unix(),
		}, nil
	}

	s.state = StateReady
	s.lastErr = nil
	return reply, nil
}

// initialize 以指数退避执行有限次初始化尝试。重试耗尽后会话进入失败
// 终态并触发告警。调用方必须持有 s.mu。
func (m *Manager) initialize(ctx context.Context, s *Session) error {
	s.state = StateInitializing
	s.agent = nil

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxInitRetries; attempt++ {
		initCtx, cancel := context.WithTimeout(ctx, m.cfg.InitTimeout)
		chatter, err := m.factory(initCtx, s.key)
		cancel()
		if err == nil {
			s.agent = chatter
			s.state = StateReady
			s.lastErr = nil
			s.lastInit = m.now()
			return nil
		}

		lastErr = err
		m.log.Warn("会话初始化失败",
			slog.String("session", s.key),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", m.cfg.MaxInitRetries),
			slog.String("error", err.Error()),
		)

		if attempt == m.cfg.MaxInitRetries {
			break
		}
		if err := m.backoff(ctx, attempt); err != nil {
			// 调用方取消，不计入失败终态，下一次调度重新尝试。
			return xerrors.Wrap(xerrors.CodeTimeout, err,
				fmt.Sprintf("会话 %s 初始化被取消", s.key))
		}
	}

	s.state = StateFailed
	s.lastErr = lastErr
	m.emitFailure(s.key, lastErr)
	return xerrors.Wrap(xerrors.CodeRetriesExhausted, lastErr,
		fmt.Sprintf("会话 %s 初始化重试 %d 次后失败", s.key, m.cfg.MaxInitRetries))
}

func (m *Manager) backoff(ctx context.Context, attempt int) error {
	delay := m.cfg.InitBackoff << (attempt - 1)
	if delay > m.cfg.MaxBackoff {
		delay = m.cfg.MaxBackoff
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) emitFailure(sessionKey string, cause error) {
	metrics.IncSessionFailures()
	logger.Audit().Error("会话进入失败终态",
		slog.String("session", sessionKey),
		slog.Int("attempts", m.cfg.MaxInitRetries),
		slog.String("error", fmt.Sprint(cause)),
	)
	if m.alerts == nil {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeRetriesExhausted,
		Message:    fmt.Sprintf("会话 %s 初始化重试耗尽: %v", sessionKey, cause),
		Severity:   xerrors.SeverityCritical,
		SessionKey: sessionKey,
		Attempts:   m.cfg.MaxInitRetries,
		MaxRetries: m.cfg.MaxInitRetries,
		OccurredAt: m.now(),
	}
	notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.alerts.Notify(notifyCtx, event); err != nil {
		m.log.Warn("发送会话告警失败", slog.String("session", sessionKey), slog.String("error", err.Error()))
	}
}

func (m *Manager) getOrCreate(sessionKey string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionKey]; ok {
		return s
	}
	s := &Session{
		key:      sessionKey,
		state:    StateInitializing,
		lastUsed: m.now(),
	}
	m.sessions[sessionKey] = s
	metrics.SetActiveSessions(len(m.sessions))
	return s
}

// Health 返回单个会话的健康状况。会话不存在时 ok 为 false。
func (m *Manager) Health(sessionKey string) (Health, bool) {
	m.mu.Lock()
	s, ok := m.sessions[sessionKey]
	m.mu.Unlock()
	if !ok {
		return Health{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h := Health{
		Status:    healthStatus(s.state),
		LastCheck: m.now(),
	}
	if s.lastErr != nil {
		h.Error = s.lastErr.Error()
	}
	return h, true
}

// Len 返回当前池中的会话数量。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep 回收闲置超过阈值的会话并返回回收数量。正在处理消息的会话会被
// 跳过，它们本轮必然不满足闲置条件。
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key, s := range m.sessions {
		if !s.mu.TryLock() {
			continue
		}
		idle := now.Sub(s.lastUsed)
		s.mu.Unlock()
		if idle >= m.cfg.IdleEviction {
			delete(m.sessions, key)
			evicted++
			m.log.Info("回收闲置会话", slog.String("session", key), slog.Duration("idle", idle))
		}
	}
	if evicted > 0 {
		metrics.AddEvictedSessions(evicted)
		metrics.SetActiveSessions(len(m.sessions))
	}
	return evicted
}

// Run 周期性执行闲置回收，直到 ctx 取消。
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}
