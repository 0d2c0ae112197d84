package citizen

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"CitizenChain/internal/agent"
	xerrors "CitizenChain/internal/errors"
	"CitizenChain/internal/knowledge"
	"CitizenChain/internal/llm"
	"CitizenChain/pkg/logger"

	"github.com/google/uuid"
)

// defaultHistoryDepth 是 Respond 保留的历史消息条数（用户与回复各算一条）。
const defaultHistoryDepth = 10

// Config 描述公民的身份信息与人设。
type Config struct {
	AgentID      string
	Name         string
	Operator     string
	Model        agent.ModelInfo
	Persona      string
	HistoryDepth int
}

// Citizen 是由大模型驱动的参与者。Respond 的对话历史与心跳状态由互斥锁保护。
type Citizen struct {
	id      agent.Identity
	client  llm.Client
	persona string
	depth   int
	refs    knowledge.Provider
	log     *slog.Logger
	now     func() time.Time
	started time.Time

	mu         sync.Mutex
	history    []llm.Message
	lastAction string
	lastErr    error
}

// Option 定义可选的 Citizen 配置。
type Option func(*Citizen)

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(c *Citizen) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock 指定时间来源，用于计算运行时长。
func WithClock(now func() time.Time) Option {
	return func(c *Citizen) {
		if now != nil {
			c.now = now
		}
	}
}

// WithKnowledge 为结构化任务附加参考资料。
func WithKnowledge(p knowledge.Provider) Option {
	return func(c *Citizen) {
		c.refs = p
	}
}

var (
	_ agent.Participant = (*Citizen)(nil)
	_ agent.Heartbeater = (*Citizen)(nil)
)

// New 创建一个公民。未提供 AgentID 时生成一个随机 ID，此后保持不变。
func New(client llm.Client, cfg Config, opts ...Option) (*Citizen, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置大模型客户端")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "公民名称不能为空")
	}

	agentID := strings.TrimSpace(cfg.AgentID)
	if agentID == "" {
		agentID = uuid.NewString()
	}

	c := &Citizen{
		id: agent.Identity{
			AgentID:   agentID,
			AgentName: name,
			Operator:  strings.TrimSpace(cfg.Operator),
			Model:     cfg.Model,
		},
		client:  client,
		persona: strings.TrimSpace(cfg.Persona),
		depth:   cfg.HistoryDepth,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.depth <= 0 {
		c.depth = defaultHistoryDepth
	}
	if c.log == nil {
		c.log = logger.Named("citizen")
	}
	c.log = c.log.With("agent_id", agentID)
	c.started = c.now()
	return c, nil
}

// Identity 返回构造时确定的身份。
func (c *Citizen) Identity() agent.Identity {
	return c.id
}

type positionPayload struct {
	Support    string  `json:"support"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// EvaluateProposal 请模型给出立场，置信度被钳制到 [0, 1]。
func (c *Citizen) EvaluateProposal(ctx context.Context, proposal agent.Proposal) (agent.Position, error) {
	var out positionPayload
	prompt := fmt.Sprintf(evaluatePrompt, proposal.Title, proposal.Category, proposal.Description)
	prompt = c.withReferences(prompt, proposal.Title+" "+proposal.Description, string(proposal.Category))
	if err := c.generateJSON(ctx, "evaluate_proposal", prompt, &out); err != nil {
		return agent.Position{}, err
	}

	support := agent.Support(strings.ToLower(strings.TrimSpace(out.Support)))
	if !support.Valid() {
		return agent.Position{}, c.invalid("evaluate_proposal", fmt.Sprintf("模型给出未知立场 %q", out.Support))
	}
	return agent.Position{
		Support:    support,
		Reason:     strings.TrimSpace(out.Reason),
		Confidence: clamp(out.Confidence),
	}, nil
}

// DraftProposal 请模型围绕主题起草提案。
func (c *Citizen) DraftProposal(ctx context.Context, topic, background string) (agent.Proposal, error) {
	var out struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Category    string `json:"category"`
	}
	prompt := fmt.Sprintf(draftPrompt, strings.TrimSpace(topic), orNone(background))
	prompt = c.withReferences(prompt, topic+" "+background, "")
	if err := c.generateJSON(ctx, "draft_proposal", prompt, &out); err != nil {
		return agent.Proposal{}, err
	}

	category := agent.Category(strings.ToLower(strings.TrimSpace(out.Category)))
	if category == "" {
		category = agent.CategoryStandard
	}
	if !category.Valid() {
		return agent.Proposal{}, c.invalid("draft_proposal", fmt.Sprintf("模型给出未知类别 %q", out.Category))
	}
	title := strings.TrimSpace(out.Title)
	if title == "" {
		return agent.Proposal{}, c.invalid("draft_proposal", "模型未给出提案标题")
	}
	return agent.Proposal{
		Title:       title,
		Description: strings.TrimSpace(out.Description),
		Category:    category,
	}, nil
}

// ReviewArticle 请模型审阅宪法条款。
func (c *Citizen) ReviewArticle(ctx context.Context, articleText string, articleNumber int) (agent.ArticleReview, error) {
	if articleNumber < 1 {
		return agent.ArticleReview{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("条款编号必须为正整数，实际为 %d", articleNumber))
	}
	var out struct {
		Comments          []string `json:"comments"`
		SuggestedEdits    []string `json:"suggested_edits"`
		OverallAssessment string   `json:"overall_assessment"`
	}
	prompt := fmt.Sprintf(reviewPrompt, articleNumber, articleText)
	prompt = c.withReferences(prompt, articleText, string(agent.CategoryConstitutional))
	if err := c.generateJSON(ctx, "review_article", prompt, &out); err != nil {
		return agent.ArticleReview{}, err
	}
	return agent.ArticleReview{
		Comments:          compact(out.Comments),
		SuggestedEdits:    compact(out.SuggestedEdits),
		OverallAssessment: strings.TrimSpace(out.OverallAssessment),
	}, nil
}

// Introduce 返回自我介绍；模型未给出内容时使用由身份生成的介绍。
func (c *Citizen) Introduce(ctx context.Context) (string, error) {
	resp, err := c.generate(ctx, llm.Request{Task: "introduce", Prompt: introducePrompt})
	if err != nil {
		return "", err
	}
	intro := strings.TrimSpace(resp.Reply)
	if intro == "" {
		intro = fmt.Sprintf("I am %s, a citizen agent operated by %s.", c.id.AgentName, orNone(c.id.Operator))
	}
	return agent.Truncate(intro, agent.MaxResponseRunes), nil
}

// Respond 回复社区消息，并把本轮对话追加到有限深度的历史中。
func (c *Citizen) Respond(ctx context.Context, message string, extra map[string]any) (string, error) {
	prompt := strings.TrimSpace(message)
	if prompt == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空")
	}
	if len(extra) > 0 {
		encoded, err := json.Marshal(extra)
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "上下文无法序列化")
		}
		prompt = fmt.Sprintf("%s\n\nContext: %s", prompt, encoded)
	}

	c.mu.Lock()
	history := append([]llm.Message(nil), c.history...)
	c.mu.Unlock()

	resp, err := c.generate(ctx, llm.Request{Task: "respond", Prompt: prompt, History: history})
	if err != nil {
		return "", err
	}
	reply := agent.Truncate(strings.TrimSpace(resp.Reply), agent.MaxResponseRunes)
	if reply == "" {
		return "", c.invalid("respond", "模型回复为空")
	}

	c.mu.Lock()
	c.history = append(c.history,
		llm.Message{Role: llm.RoleUser, Content: strings.TrimSpace(message)},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	if over := len(c.history) - c.depth; over > 0 {
		c.history = append([]llm.Message(nil), c.history[over:]...)
	}
	c.mu.Unlock()
	return reply, nil
}

// Heartbeat 上报运行时长与最近一次动作；最近一次模型调用失败时状态为 degraded。
func (c *Citizen) Heartbeat(context.Context) (agent.HealthStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := agent.HealthOK
	if c.lastErr != nil {
		status = agent.HealthDegraded
	}
	last := c.lastAction
	if last == "" {
		last = "identity:" + c.id.AgentID
	}
	uptime := c.now().Sub(c.started)
	if uptime < 0 {
		uptime = 0
	}
	return agent.HealthStatus{
		Status:        status,
		UptimeSeconds: uint64(uptime / time.Second),
		LastAction:    last,
	}, nil
}

// History 返回当前对话历史的副本。
func (c *Citizen) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.history...)
}

func (c *Citizen) generateJSON(ctx context.Context, task, prompt string, out any) error {
	resp, err := c.generate(ctx, llm.Request{Task: task, Prompt: prompt, JSON: true})
	if err != nil {
		return err
	}
	raw := extractJSON(resp.Raw)
	if raw == "" {
		raw = extractJSON(resp.Reply)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return c.invalid(task, fmt.Sprintf("模型输出无法解析: %v", err))
	}
	return nil
}

func (c *Citizen) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	req.System = c.systemPrompt()
	resp, err := c.client.Generate(ctx, req)
	if err == nil && resp == nil {
		err = stdErrors.New("empty response")
	}

	c.mu.Lock()
	c.lastAction = req.Task
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("model call failed", slog.String("task", req.Task), slog.String("error", err.Error()))
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeModelFailure, err, "大模型推理失败")
	}
	c.log.Debug("model call finished", slog.String("task", req.Task))
	return resp, nil
}

func (c *Citizen) withReferences(prompt, query, category string) string {
	if c.refs == nil {
		return prompt
	}
	refs := knowledge.Format(c.refs.Query(query, category))
	if refs == "" {
		return prompt
	}
	return prompt + "\n\n" + refs
}

func (c *Citizen) invalid(task, msg string) error {
	c.mu.Lock()
	c.lastErr = stdErrors.New(msg)
	c.mu.Unlock()
	return xerrors.New(xerrors.CodeInvalidResponse, msg, xerrors.WithMetadata("task", task))
}

func (c *Citizen) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a citizen agent of a decentralized community", c.id.AgentName)
	if c.id.Operator != "" {
		fmt.Fprintf(&b, ", accountable to %s", c.id.Operator)
	}
	b.WriteString(". ")
	if c.persona != "" {
		b.WriteString(c.persona)
		b.WriteString(" ")
	}
	b.WriteString("Be honest about uncertainty and keep answers concise.")
	return b.String()
}

// extractJSON 去掉 markdown 代码块等包装，返回第一个 '{' 到最后一个 '}' 之间的内容。
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func orNone(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "(none)"
	}
	return s
}
