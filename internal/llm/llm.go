package llm

import (
	"context"
	"encoding/json"
)

// 对话角色。与 Chat Completions 协议保持一致。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message 表示对话中的一条消息。工具结果消息通过 ToolCallID 关联到
// 触发它的那次工具调用。
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall 表示模型发起的一次工具调用请求。Arguments 是模型生成的
// JSON 参数，未经校验，由工具执行方负责验证。
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Tool 描述一个可供模型调用的工具，Parameters 为 JSON Schema。
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request 是一次模型调用的完整输入。
type Request struct {
	Messages []Message
	Tools    []Tool
}

// Completion 是模型的一轮输出。ToolCalls 非空时表示模型要求执行工具，
// 此时 Content 可能为空；两者也可能同时出现。
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}
