package agent

import "context"

// Participant 是公民智能体必须满足的能力契约。任何实现了全部方法的类型都是合法的参与者。
//
// 除 Identity 外，每个调用都应可独立执行，且只通过返回值产生可见效果；
// 在多次调用之间维护内部状态的实现需要自行串行化对状态的修改。
type Participant interface {
	// Identity 返回构造时确定的身份，多次调用结果必须一致。
	Identity() Identity
	EvaluateProposal(ctx context.Context, proposal Proposal) (Position, error)
	// DraftProposal 起草提案，background 可为空。
	DraftProposal(ctx context.Context, topic, background string) (Proposal, error)
	ReviewArticle(ctx context.Context, articleText string, articleNumber int) (ArticleReview, error)
	Introduce(ctx context.Context) (string, error)
	// Respond 回复社区消息，extra 为可选的上下文。
	Respond(ctx context.Context, message string, extra map[string]any) (string, error)
}

// Heartbeater 是可选能力：实现它的参与者自行上报健康状态。
type Heartbeater interface {
	Heartbeat(ctx context.Context) (HealthStatus, error)
}

// Heartbeat 返回参与者的健康状态。未实现 Heartbeater 时使用由身份推导的默认值。
func Heartbeat(ctx context.Context, p Participant) (HealthStatus, error) {
	if hb, ok := p.(Heartbeater); ok {
		return hb.Heartbeat(ctx)
	}
	return DefaultHeartbeat(p.Identity()), nil
}

// DefaultHeartbeat 构造默认健康状态。
func DefaultHeartbeat(id Identity) HealthStatus {
	return HealthStatus{
		Status:     HealthOK,
		LastAction: "identity:" + id.AgentID,
	}
}
