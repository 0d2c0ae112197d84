package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	xerrors "CitizenChain/internal/errors"
)

// MaxResponseRunes 是 Respond 返回内容的字符数上限。
const MaxResponseRunes = 500

// CheckPosition 校验立场取值与置信度。
func CheckPosition(p Position) error {
	if !p.Support.Valid() {
		return xerrors.New(xerrors.CodeInvalidResponse,
			fmt.Sprintf("未知的立场取值 %q", p.Support),
			xerrors.WithMetadata("field", "support"))
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return xerrors.New(xerrors.CodeInvalidResponse,
			fmt.Sprintf("置信度 %v 超出 [0, 1]", p.Confidence),
			xerrors.WithMetadata("field", "confidence"))
	}
	return nil
}

// CheckProposal 校验起草的提案。
func CheckProposal(p Proposal) error {
	if !p.Category.Valid() {
		return xerrors.New(xerrors.CodeInvalidResponse,
			fmt.Sprintf("未知的提案类别 %q", p.Category),
			xerrors.WithMetadata("field", "category"))
	}
	if strings.TrimSpace(p.Title) == "" {
		return xerrors.New(xerrors.CodeInvalidResponse, "提案标题为空",
			xerrors.WithMetadata("field", "title"))
	}
	return nil
}

// CheckResponse 校验回复长度。
func CheckResponse(reply string) error {
	if n := utf8.RuneCountInString(reply); n > MaxResponseRunes {
		return xerrors.New(xerrors.CodeResponseTooLong,
			fmt.Sprintf("回复长度 %d 超过上限 %d", n, MaxResponseRunes))
	}
	return nil
}

// CheckIntroduction 校验自我介绍非空。
func CheckIntroduction(intro string) error {
	if strings.TrimSpace(intro) == "" {
		return xerrors.New(xerrors.CodeInvalidResponse, "自我介绍为空")
	}
	return nil
}

// CheckHealth 校验健康状态取值。
func CheckHealth(h HealthStatus) error {
	if !h.Status.Valid() {
		return xerrors.New(xerrors.CodeInvalidResponse,
			fmt.Sprintf("未知的健康状态 %q", h.Status),
			xerrors.WithMetadata("field", "status"))
	}
	return nil
}

// Truncate 将 s 截断到最多 max 个字符。
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// Guard 站在调用方一侧包装参与者：为每次调用施加超时，并拒绝违反契约的返回值。
// 合法的返回值原样透传。
type Guard struct {
	participant Participant
	timeout     time.Duration
	truncate    bool
}

// GuardOption 定义可选的 Guard 配置。
type GuardOption func(*Guard)

// WithTimeout 为每次调用设置超时，超时返回 TIMEOUT 错误。
func WithTimeout(timeout time.Duration) GuardOption {
	return func(g *Guard) {
		if timeout < 0 {
			timeout = 0
		}
		g.timeout = timeout
	}
}

// WithTruncate 让超长回复被截断而不是拒绝。
func WithTruncate() GuardOption {
	return func(g *Guard) {
		g.truncate = true
	}
}

// NewGuard 包装一个参与者。
func NewGuard(p Participant, opts ...GuardOption) *Guard {
	g := &Guard{participant: p}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

var (
	_ Participant = (*Guard)(nil)
	_ Heartbeater = (*Guard)(nil)
)

// Identity 透传被包装参与者的身份。
func (g *Guard) Identity() Identity {
	return g.participant.Identity()
}

// EvaluateProposal 调用参与者并校验返回的立场。
func (g *Guard) EvaluateProposal(ctx context.Context, proposal Proposal) (Position, error) {
	pos, err := invoke(ctx, g, "evaluate_proposal", func(ctx context.Context) (Position, error) {
		return g.participant.EvaluateProposal(ctx, proposal)
	})
	if err != nil {
		return Position{}, err
	}
	if err := CheckPosition(pos); err != nil {
		return Position{}, err
	}
	return pos, nil
}

// DraftProposal 调用参与者并校验起草的提案。
func (g *Guard) DraftProposal(ctx context.Context, topic, background string) (Proposal, error) {
	if strings.TrimSpace(topic) == "" {
		return Proposal{}, xerrors.New(xerrors.CodeInvalidArgument, "提案主题不能为空")
	}
	p, err := invoke(ctx, g, "draft_proposal", func(ctx context.Context) (Proposal, error) {
		return g.participant.DraftProposal(ctx, topic, background)
	})
	if err != nil {
		return Proposal{}, err
	}
	if err := CheckProposal(p); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

// ReviewArticle 在调用前校验条款编号。
func (g *Guard) ReviewArticle(ctx context.Context, articleText string, articleNumber int) (ArticleReview, error) {
	if articleNumber < 1 {
		return ArticleReview{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("条款编号必须为正整数，实际为 %d", articleNumber))
	}
	return invoke(ctx, g, "review_article", func(ctx context.Context) (ArticleReview, error) {
		return g.participant.ReviewArticle(ctx, articleText, articleNumber)
	})
}

// Introduce 调用参与者并校验自我介绍非空。
func (g *Guard) Introduce(ctx context.Context) (string, error) {
	intro, err := invoke(ctx, g, "introduce", func(ctx context.Context) (string, error) {
		return g.participant.Introduce(ctx)
	})
	if err != nil {
		return "", err
	}
	if err := CheckIntroduction(intro); err != nil {
		return "", err
	}
	return intro, nil
}

// Respond 调用参与者并对回复长度执行边界检查。
func (g *Guard) Respond(ctx context.Context, message string, extra map[string]any) (string, error) {
	reply, err := invoke(ctx, g, "respond", func(ctx context.Context) (string, error) {
		return g.participant.Respond(ctx, message, extra)
	})
	if err != nil {
		return "", err
	}
	if err := CheckResponse(reply); err != nil {
		if !g.truncate {
			return "", err
		}
		reply = Truncate(reply, MaxResponseRunes)
	}
	return reply, nil
}

// Heartbeat 返回参与者的健康状态，未实现时使用默认值。
func (g *Guard) Heartbeat(ctx context.Context) (HealthStatus, error) {
	h, err := invoke(ctx, g, "heartbeat", func(ctx context.Context) (HealthStatus, error) {
		return Heartbeat(ctx, g.participant)
	})
	if err != nil {
		return HealthStatus{}, err
	}
	if err := CheckHealth(h); err != nil {
		return HealthStatus{}, err
	}
	return h, nil
}

type outcome[T any] struct {
	value T
	err   error
}

// invoke 执行一次参与者调用。设置了超时时，即使实现忽略 ctx，调用方也会在期限到达时返回。
func invoke[T any](ctx context.Context, g *Guard, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if g.participant == nil {
		return zero, xerrors.New(xerrors.CodeInvalidArgument, "未配置参与者")
	}
	if g.timeout <= 0 {
		v, err := fn(ctx)
		return v, timeoutError(op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, timeoutError(op, out.err)
	case <-callCtx.Done():
		return zero, timeoutError(op, callCtx.Err())
	}
}

// timeoutError 将期限超时转换为 TIMEOUT 错误，其余错误原样返回。
func timeoutError(op string, err error) error {
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, context.DeadlineExceeded) && !xerrors.HasCode(err, xerrors.CodeTimeout) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "参与者调用超时", xerrors.WithMetadata("operation", op))
	}
	return err
}
