package llm

import "context"

// Role 标识对话消息的发送方。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是一条对话记录。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request 描述一次发送给大模型的调用。
type Request struct {
	// Task 标识调用意图，例如 evaluate_proposal，便于后端记录与路由。
	Task string
	// System 覆盖默认的系统提示词，为空时由后端决定。
	System string
	Prompt string
	// History 为按时间顺序排列的历史对话。
	History []Message
	// JSON 要求模型只输出一个 JSON 对象。
	JSON bool
}

// Response 是大模型推理得到的输出。
type Response struct {
	Thought string
	Reply   string
	// Raw 为模型返回的原始文本，结构化调用从这里解析。
	Raw string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
