package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"BidToEarn-Agent/internal/auction"
	"BidToEarn-Agent/internal/history"
	"BidToEarn-Agent/internal/llm"
)

type stubLLM struct {
	completions []*llm.Completion
	requests    []llm.Request
	err         error
	wait        time.Duration
}

func (s *stubLLM) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	s.requests = append(s.requests, req)
	if len(s.completions) == 0 {
		return &llm.Completion{Content: "done"}, nil
	}
	next := s.completions[0]
	if len(s.completions) > 1 {
		s.completions = s.completions[1:]
	}
	return next, nil
}

type stubActions struct {
	calls  []string
	params []map[string]any
	out    string
	err    error
}

func (s *stubActions) Actions() []auction.Descriptor {
	return []auction.Descriptor{
		{Name: "placeBid", Description: "Place a bid", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
}

func (s *stubActions) Execute(_ context.Context, name string, params map[string]any) (string, error) {
	s.calls = append(s.calls, name)
	s.params = append(s.params, params)
	if s.err != nil {
		return "", s.err
	}
	return s.out, nil
}

func TestChatDirectReply(t *testing.T) {
	llmClient := &stubLLM{completions: []*llm.Completion{{Content: "Hello, I am Biddy."}}}
	ag := New(llmClient, &stubActions{})

	reply, err := ag.Chat(context.Background(), "s1", "who are you?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Content != "Hello, I am Biddy." || len(reply.Steps) != 0 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestChatRunsToolLoop(t *testing.T) {
	actions := &stubActions{out: "Placed bid with transaction hash: 0xabc"}
	llmClient := &stubLLM{completions: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{{
			ID:        "call_1",
			Name:      "placeBid",
			Arguments: json.RawMessage(`{"tokenId":7,"bidAmount":"0.1"}`),
		}}},
		{Content: "Your bid is in!"},
	}}
	ag := New(llmClient, actions)

	reply, err := ag.Chat(context.Background(), "s1", "bid 0.1 on auction 7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(actions.calls) != 1 || actions.calls[0] != "placeBid" {
		t.Fatalf("expected one placeBid call, got %v", actions.calls)
	}
	if actions.params[0]["bidAmount"] != "0.1" {
		t.Fatalf("arguments not forwarded: %v", actions.params[0])
	}
	if reply.Content != "Your bid is in!" {
		t.Fatalf("unexpected reply: %q", reply.Content)
	}
	if len(reply.Steps) != 1 || reply.Steps[0].Action != "placeBid" {
		t.Fatalf("steps not recorded: %+v", reply.Steps)
	}
	if !strings.Contains(reply.Steps[0].Observation, "0xabc") {
		t.Fatalf("observation missing tool output: %q", reply.Steps[0].Observation)
	}

	// 第二轮请求必须携带工具结果消息。
	last := llmClient.requests[len(llmClient.requests)-1]
	found := false
	for _, msg := range last.Messages {
		if msg.Role == llm.RoleTool && msg.ToolCallID == "call_1" {
			found = true
		}
	}
	if !found {
		t.Fatal("tool result message missing from follow-up request")
	}
}

func TestChatToolErrorFedBackToModel(t *testing.T) {
	actions := &stubActions{err: errors.New("insufficient funds")}
	llmClient := &stubLLM{completions: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "placeBid", Arguments: json.RawMessage(`{}`)}}},
		{Content: "That bid failed because of insufficient funds."},
	}}
	ag := New(llmClient, actions)

	reply, err := ag.Chat(context.Background(), "s1", "bid")
	if err != nil {
		t.Fatalf("tool errors must not abort the chat: %v", err)
	}
	if !strings.Contains(reply.Steps[0].Observation, "insufficient funds") {
		t.Fatalf("error should be surfaced as an observation: %q", reply.Steps[0].Observation)
	}
}

func TestChatMaxIterationsApology(t *testing.T) {
	// 模型永远要求调用工具，循环必须在上限处停止并致歉。
	looping := &llm.Completion{ToolCalls: []llm.ToolCall{{ID: "c", Name: "placeBid", Arguments: json.RawMessage(`{}`)}}}
	llmClient := &stubLLM{completions: []*llm.Completion{looping}}
	actions := &stubActions{out: "ok"}
	ag := New(llmClient, actions, WithMaxIterations(3))

	reply, err := ag.Chat(context.Background(), "s1", "loop forever")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Content != maxIterationsApology {
		t.Fatalf("expected apology, got %q", reply.Content)
	}
	if len(actions.calls) != 3 {
		t.Fatalf("expected 3 tool calls before giving up, got %d", len(actions.calls))
	}
}

func TestChatTimeout(t *testing.T) {
	llmClient := &stubLLM{wait: 50 * time.Millisecond}
	ag := New(llmClient, &stubActions{}, WithLLMTimeout(10*time.Millisecond))

	_, err := ag.Chat(context.Background(), "s1", "hello")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
}

func TestChatUsesHistory(t *testing.T) {
	store := history.NewMemoryStore(10)
	llmClient := &stubLLM{completions: []*llm.Completion{{Content: "first"}, {Content: "second"}}}
	ag := New(llmClient, &stubActions{}, WithHistoryStore(store))

	if _, err := ag.Chat(context.Background(), "s1", "remember me"); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	if _, err := ag.Chat(context.Background(), "s1", "what did I say?"); err != nil {
		t.Fatalf("second chat: %v", err)
	}

	second := llmClient.requests[len(llmClient.requests)-1]
	var sawEarlierTurn bool
	for _, msg := range second.Messages {
		if msg.Role == llm.RoleUser && msg.Content == "remember me" {
			sawEarlierTurn = true
		}
	}
	if !sawEarlierTurn {
		t.Fatal("second request should replay the earlier user turn from history")
	}
}

func TestChatRejectsEmptyInput(t *testing.T) {
	ag := New(&stubLLM{}, &stubActions{})
	if _, err := ag.Chat(context.Background(), "s1", "   "); err == nil {
		t.Fatal("expected error for empty input")
	}
}
