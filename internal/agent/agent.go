package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"BidToEarn-Agent/internal/auction"
	xerrors "BidToEarn-Agent/internal/errors"
	"BidToEarn-Agent/internal/history"
	"BidToEarn-Agent/internal/knowledge"
	"BidToEarn-Agent/internal/llm"
	"BidToEarn-Agent/internal/storage/mysql"
	"BidToEarn-Agent/pkg/logger"
)

// ActionProvider 抽象智能体可调用的链上动作集合。
type ActionProvider interface {
	Actions() []auction.Descriptor
	Execute(ctx context.Context, name string, params map[string]any) (string, error)
}

// Step 记录一次工具调用及其观察结果。
type Step struct {
	Action      string          `json:"action"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Observation string          `json:"observation"`
}

// Reply 是智能体对一条用户消息的完整响应。
type Reply struct {
	Content   string `json:"content"`
	Steps     []Step `json:"steps,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Agent 协调大模型与链上动作，是系统的业务核心。每个会话持有独立的
// Agent 实例，实例内不做并发保护，由会话层保证串行调用。
type Agent struct {
	llmClient     llm.Client
	actions       ActionProvider
	history       history.Store
	transcripts   mysql.TranscriptRepository
	knowledge     knowledge.Provider
	maxIterations int
	llmTimeout    time.Duration
	address       string
	networkName   string
	log           *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

const defaultMaxIterations = 10

// 达到迭代上限时返回给用户的兜底回复，不作为错误向上传播。
const maxIterationsApology = "I'm sorry, I wasn't able to finish that request within my step limit. " +
	"Could you try rephrasing it or breaking it into smaller steps?"

// WithMaxIterations 设置一次对话中工具调用循环的迭代上限。
func WithMaxIterations(limit int) Option {
	return func(a *Agent) {
		a.maxIterations = limit
	}
}

// WithKnowledgeProvider 配置知识库，用于在推理前补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(a *Agent) {
		a.knowledge = provider
	}
}

// WithLLMTimeout 设置单次调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithHistoryStore 配置会话历史存储。
func WithHistoryStore(store history.Store) Option {
	return func(a *Agent) {
		a.history = store
	}
}

// WithTranscripts 配置对话落库仓库。
func WithTranscripts(repo mysql.TranscriptRepository) Option {
	return func(a *Agent) {
		a.transcripts = repo
	}
}

// WithIdentity 告知智能体自己的钱包地址与网络，用于系统提示词。
func WithIdentity(address, networkName string) Option {
	return func(a *Agent) {
		a.address = address
		a.networkName = networkName
	}
}

// New 创建一个 Agent。
func New(llmClient llm.Client, actions ActionProvider, opts ...Option) *Agent {
	ag := &Agent{
		llmClient:     llmClient,
		actions:       actions,
		maxIterations: defaultMaxIterations,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.maxIterations <= 0 {
		ag.maxIterations = defaultMaxIterations
	}
	ag.log = logger.Named("agent")
	return ag
}

// Chat 处理一条用户消息。模型可以在回复前多次调用链上动作，循环的
// 迭代次数有上限，超限时返回兜底回复而不是错误。
func (a *Agent) Chat(ctx context.Context, sessionKey, input string) (*Reply, error) {
	if a.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "用户消息不能为空")
	}

	messages := a.buildMessages(ctx, sessionKey, input)
	tools := a.buildTools()

	var steps []Step
	for iteration := 0; iteration < a.maxIterations; iteration++ {
		completion, err := a.complete(ctx, llm.Request{Messages: messages, Tools: tools})
		if err != nil {
			return nil, err
		}

		if len(completion.ToolCalls) == 0 {
			reply := &Reply{
				Content:   completion.Content,
				Steps:     steps,
				CreatedAt: time.Now().Unix(),
			}
			a.record(ctx, sessionKey, input, reply.Content)
			return reply, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		for _, call := range completion.ToolCalls {
			observation := a.runTool(ctx, call)
			steps = append(steps, Step{
				Action:      call.Name,
				Arguments:   call.Arguments,
				Observation: observation,
			})
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    observation,
				ToolCallID: call.ID,
			})
		}
	}

	a.log.Warn("工具调用循环达到迭代上限",
		slog.String("session", sessionKey),
		slog.Int("max_iterations", a.maxIterations),
	)
	reply := &Reply{
		Content:   maxIterationsApology,
		Steps:     steps,
		CreatedAt: time.Now().Unix(),
	}
	a.record(ctx, sessionKey, input, reply.Content)
	return reply, nil
}

func (a *Agent) complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	completion, err := a.llmClient.Complete(llmCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, "大模型推理失败")
	}
	return completion, nil
}

// runTool 执行一次工具调用。执行失败不会中断对话，错误文本作为观察
// 结果反馈给模型，由模型决定如何向用户解释。
func (a *Agent) runTool(ctx context.Context, call llm.ToolCall) string {
	if a.actions == nil {
		return "error: no on-chain actions are available"
	}

	var params map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &params); err != nil {
			return fmt.Sprintf("error: tool arguments are not valid JSON: %v", err)
		}
	}
	if params == nil {
		params = map[string]any{}
	}

	out, err := a.actions.Execute(ctx, call.Name, params)
	if err != nil {
		a.log.Warn("链上动作执行失败",
			slog.String("action", call.Name),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return fmt.Sprintf("error: %s", err.Error())
	}
	return out
}

func (a *Agent) buildMessages(ctx context.Context, sessionKey, input string) []llm.Message {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: a.systemPrompt()}}

	if a.knowledge != nil {
		if snippets := a.knowledge.Query(input); len(snippets) > 0 {
			var builder strings.Builder
			builder.WriteString("Reference notes:\n")
			for _, snippet := range snippets {
				builder.WriteString(fmt.Sprintf("- %s: %s\n", snippet.Title, snippet.Content))
			}
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: builder.String()})
		}
	}

	if a.history != nil {
		entries, err := a.history.Recent(ctx, sessionKey)
		if err != nil {
			a.log.Warn("加载会话历史失败", slog.String("session", sessionKey), slog.String("error", err.Error()))
		}
		for _, entry := range entries {
			role := entry.Role
			if role != llm.RoleUser && role != llm.RoleAssistant {
				continue
			}
			messages = append(messages, llm.Message{Role: role, Content: entry.Content})
		}
	}

	return append(messages, llm.Message{Role: llm.RoleUser, Content: input})
}

func (a *Agent) buildTools() []llm.Tool {
	if a.actions == nil {
		return nil
	}
	descriptors := a.actions.Actions()
	tools := make([]llm.Tool, 0, len(descriptors))
	for _, desc := range descriptors {
		tools = append(tools, llm.Tool{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  desc.Parameters,
		})
	}
	return tools
}

func (a *Agent) systemPrompt() string {
	var builder strings.Builder
	builder.WriteString("You are Biddy, a helpful assistant for the BidToEarn NFT auction platform. ")
	builder.WriteString("You help users create auctions, place bids, withdraw funds and inspect auction state using the tools available to you. ")
	builder.WriteString("All amounts are in ETH. Never invent auction data: always read it from the chain. ")
	builder.WriteString("Before any state-changing action, restate what you are about to do. ")
	builder.WriteString("If a tool reports an error, explain it to the user in plain language and suggest what to do next.")
	if a.address != "" {
		builder.WriteString(fmt.Sprintf(" Your wallet address is %s.", a.address))
	}
	if a.networkName != "" {
		builder.WriteString(fmt.Sprintf(" You operate on %s; remind users this is a test network if they ask about real funds.", a.networkName))
	}
	return builder.String()
}

// record 持久化一轮问答。历史和落库都是尽力而为，失败只记日志，
// 不影响已经生成的回复。
func (a *Agent) record(ctx context.Context, sessionKey, input, reply string) {
	now := time.Now().Unix()

	if a.history != nil {
		err := a.history.Append(ctx, sessionKey,
			history.Entry{Role: llm.RoleUser, Content: input, CreatedAt: now},
			history.Entry{Role: llm.RoleAssistant, Content: reply, CreatedAt: now},
		)
		if err != nil {
			a.log.Warn("写入会话历史失败", slog.String("session", sessionKey), slog.String("error", err.Error()))
		}
	}

	if a.transcripts != nil {
		for _, record := range []mysql.TranscriptRecord{
			{SessionKey: sessionKey, Role: llm.RoleUser, Content: input, CreatedAt: now},
			{SessionKey: sessionKey, Role: llm.RoleAssistant, Content: reply, CreatedAt: now},
		} {
			if err := a.transcripts.Save(ctx, record); err != nil {
				a.log.Warn("写入对话记录失败", slog.String("session", sessionKey), slog.String("error", err.Error()))
				break
			}
		}
	}
}
