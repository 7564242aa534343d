package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"BidToEarn-Agent/internal/agent"
	xerrors "BidToEarn-Agent/internal/errors"
	"BidToEarn-Agent/internal/observability/metrics"
	"BidToEarn-Agent/internal/pinning"
	"BidToEarn-Agent/internal/session"
	"BidToEarn-Agent/internal/storage/mysql"
)

// Dispatcher 抽象会话池能力，便于在测试中替换。
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionKey, input string) (*agent.Reply, error)
	Health(sessionKey string) (session.Health, bool)
}

// TranscriptReader 提供对话记录的只读查询能力。
type TranscriptReader interface {
	ListBySession(ctx context.Context, sessionKey string, limit int) ([]mysql.TranscriptRecord, error)
}

// Server 负责暴露 REST 与 WebSocket 接口，供外部驱动智能体执行。
type Server struct {
	addr        string
	dispatcher  Dispatcher
	pinner      pinning.Service
	transcripts TranscriptReader
}

// NewServer 构造 API 服务实例。pinner 与 transcripts 可以为 nil，
// 对应的接口会返回 503。
func NewServer(addr string, dispatcher Dispatcher, pinner pinning.Service, transcripts TranscriptReader) *Server {
	return &Server{addr: addr, dispatcher: dispatcher, pinner: pinner, transcripts: transcripts}
}

// Handler 组装完整路由，测试直接使用它而不经过监听端口。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/chat/ws", s.handleChatWS)
	mux.HandleFunc("/api/chat/history", s.handleChatHistory)
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/upload/metadata", s.handleUploadMetadata)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return withCORS(instrument(mux))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type chatRequest struct {
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
}

type chatResponse struct {
	SessionKey string       `json:"sessionKey"`
	Reply      *agent.Reply `json:"reply"`
}

// handleChat 处理一条同步聊天消息。同一 sessionKey 的并发请求会在
// 会话层排队执行。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 POST")
		return
	}
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "会话池未初始化")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "message 不能为空")
		return
	}
	sessionKey := strings.TrimSpace(req.SessionKey)
	if sessionKey == "" {
		sessionKey = "default"
	}

	reply, err := s.dispatcher.Dispatch(r.Context(), sessionKey, req.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{SessionKey: sessionKey, Reply: reply})
}

// defaultHistoryLimit 在请求未指定 limit 时生效。
const defaultHistoryLimit = 50

// handleChatHistory 返回某个会话最近的对话记录，按时间从旧到新排列。
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	if s.transcripts == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "对话记录存储未配置")
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("session"))
	if key == "" {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "session 不能为空")
		return
	}
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "limit 必须是正整数")
			return
		}
		limit = n
	}

	records, err := s.transcripts.ListBySession(r.Context(), key, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []mysql.TranscriptRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionKey": key,
		"messages":   records,
	})
}

// handleHealth 返回服务健康状况。带 session 参数时附带该会话的状态。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}

	status := http.StatusOK
	body := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if key := strings.TrimSpace(r.URL.Query().Get("session")); key != "" && s.dispatcher != nil {
		if health, ok := s.dispatcher.Health(key); ok {
			body["session"] = health
			// 会话退化或失败时整体状态也标记为不健康。
			if health.Status == "degraded" || health.Status == "failed" {
				body["status"] = health.Status
				status = http.StatusServiceUnavailable
			}
		} else {
			body["session"] = map[string]string{"status": "unknown"}
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  string(code),
	})
}

// writeDomainError 将业务错误码映射为 HTTP 状态码。
func writeDomainError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeInvalidParameters, xerrors.CodeInvalidAmount, xerrors.CodeUnknownAction:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case xerrors.CodeSessionFailed, xerrors.CodeRetriesExhausted, xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, code, err.Error())
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, xerrors.CodeUnknown, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
