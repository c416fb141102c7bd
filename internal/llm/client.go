package llm

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall is a model request to run one declared tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult carries a tool outcome back into the conversation. Errors are
// reported as structured content so the model can adapt.
type ToolResult struct {
	CallID  string
	Name    string
	Content map[string]any
	IsError bool
}

// Message is one turn of structured history. An assistant turn may carry tool
// calls; a user turn may carry tool results.
type Message struct {
	Role        string
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolSpec declares one callable tool with a JSON-schema input shape.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request is one chat-style completion call.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int32
	Temperature float32
}

// Response is either a tool-call request list or a final text payload.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      TokenUsage
}

// Client is a chat-style language-model collaborator.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
