package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"BidToEarn-Agent/internal/agent"
	xerrors "BidToEarn-Agent/internal/errors"
	"BidToEarn-Agent/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		// 跨域控制交给部署层，与 REST 接口的 CORS 策略保持一致。
		return true
	},
}

type wsIncoming struct {
	Message string `json:"message"`
}

type wsOutgoing struct {
	Type       string       `json:"type"`
	SessionKey string       `json:"sessionKey,omitempty"`
	Reply      *agent.Reply `json:"reply,omitempty"`
	Error      string       `json:"error,omitempty"`
	Code       string       `json:"code,omitempty"`
}

// handleChatWS 将一条 WebSocket 连接绑定到一个会话。客户端可以通过
// session 查询参数续用已有会话，否则分配新的会话键。
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "会话池未初始化")
		return
	}

	sessionKey := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionKey == "" {
		sessionKey = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写出了错误响应。
		return
	}
	defer conn.Close()

	log := logger.Named("ws")
	log.Info("WebSocket 连接建立", slog.String("session", sessionKey))

	if err := s.writeWS(conn, wsOutgoing{Type: "session", SessionKey: sessionKey}); err != nil {
		return
	}

	for {
		var incoming wsIncoming
		if err := conn.ReadJSON(&incoming); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("WebSocket 连接异常关闭", slog.String("session", sessionKey), slog.String("error", err.Error()))
			}
			return
		}

		if strings.TrimSpace(incoming.Message) == "" {
			if err := s.writeWS(conn, wsOutgoing{
				Type:  "error",
				Error: "message 不能为空",
				Code:  string(xerrors.CodeInvalidArgument),
			}); err != nil {
				return
			}
			continue
		}

		// 连接升级后请求上下文已不可用，消息级超时由会话层控制。
		reply, err := s.dispatcher.Dispatch(context.Background(), sessionKey, incoming.Message)
		if err != nil {
			if writeErr := s.writeWS(conn, wsOutgoing{
				Type:  "error",
				Error: err.Error(),
				Code:  string(xerrors.CodeOf(err)),
			}); writeErr != nil {
				return
			}
			continue
		}

		if err := s.writeWS(conn, wsOutgoing{Type: "reply", SessionKey: sessionKey, Reply: reply}); err != nil {
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, msg wsOutgoing) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}
