package citizen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"CitizenChain/internal/agent"
	xerrors "CitizenChain/internal/errors"
	"CitizenChain/internal/knowledge"
	"CitizenChain/internal/llm"
)

type stubLLM struct {
	mu       sync.Mutex
	replies  map[string]string
	err      error
	requests []llm.Request
}

func (s *stubLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	content := s.replies[req.Task]
	return &llm.Response{Reply: content, Raw: content}, nil
}

func (s *stubLLM) last() llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func newTestCitizen(t *testing.T, client llm.Client, opts ...Option) *Citizen {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	c, err := New(client, Config{
		Name:     "Ada",
		Operator: "ops@example.org",
		Model:    agent.ModelInfo{Provider: "openai", Model: "gpt-4o-mini"},
		Persona:  "You care about long-term treasury health.",
	}, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, Config{Name: "Ada"}); err == nil {
		t.Fatalf("expected error without llm client")
	}
	if _, err := New(&stubLLM{}, Config{}); err == nil {
		t.Fatalf("expected error without name")
	}
}

func TestIdentityGeneratedOnceAndStable(t *testing.T) {
	c := newTestCitizen(t, &stubLLM{})
	id := c.Identity()
	if id.AgentID == "" || id.AgentName != "Ada" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if c.Identity() != id {
		t.Fatalf("identity changed between calls")
	}

	fixed, err := New(&stubLLM{}, Config{AgentID: "citizen-1", Name: "Bo"}, WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil || fixed.Identity().AgentID != "citizen-1" {
		t.Fatalf("configured agent id not kept: %v", err)
	}
}

func TestEvaluateProposalClampsConfidence(t *testing.T) {
	client := &stubLLM{replies: map[string]string{
		"evaluate_proposal": "```json\n{\"support\":\"FOR\",\"reason\":\"good\",\"confidence\":1.7}\n```",
	}}
	c := newTestCitizen(t, client)

	pos, err := c.EvaluateProposal(context.Background(), agent.Proposal{Title: "Grant", Category: agent.CategoryStandard})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Support != agent.SupportFor || pos.Confidence != 1 || pos.Reason != "good" {
		t.Fatalf("unexpected position: %+v", pos)
	}
	if err := agent.CheckPosition(pos); err != nil {
		t.Fatalf("clamped position must pass the boundary check: %v", err)
	}
	req := client.last()
	if !req.JSON || !strings.Contains(req.Prompt, "Grant") || !strings.Contains(req.System, "Ada") {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestEvaluateProposalRejectsUnknownSupport(t *testing.T) {
	client := &stubLLM{replies: map[string]string{
		"evaluate_proposal": `{"support":"maybe","confidence":0.5}`,
	}}
	c := newTestCitizen(t, client)
	if _, err := c.EvaluateProposal(context.Background(), agent.Proposal{Title: "x"}); !errors.Is(err, xerrors.ErrInvalidResponse) {
		t.Fatalf("expected invalid response, got %v", err)
	}

	h, _ := c.Heartbeat(context.Background())
	if h.Status != agent.HealthDegraded {
		t.Fatalf("invalid output should degrade health, got %s", h.Status)
	}
}

func TestDraftProposal(t *testing.T) {
	client := &stubLLM{replies: map[string]string{
		"draft_proposal": `{"title":"Raise quorum","description":"to 20%","category":"Constitutional"}`,
	}}
	c := newTestCitizen(t, client)

	p, err := c.DraftProposal(context.Background(), "quorum", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Category != agent.CategoryConstitutional || p.Title != "Raise quorum" {
		t.Fatalf("unexpected proposal: %+v", p)
	}
	if !strings.Contains(client.last().Prompt, "(none)") {
		t.Fatalf("empty background should be rendered explicitly")
	}

	client.replies["draft_proposal"] = `{"title":"x","category":"emergency"}`
	if _, err := c.DraftProposal(context.Background(), "quorum", ""); !errors.Is(err, xerrors.ErrInvalidResponse) {
		t.Fatalf("expected invalid response, got %v", err)
	}

	client.replies["draft_proposal"] = `not json`
	if _, err := c.DraftProposal(context.Background(), "quorum", ""); !errors.Is(err, xerrors.ErrInvalidResponse) {
		t.Fatalf("expected invalid response for undecodable output, got %v", err)
	}
}

func TestReviewArticle(t *testing.T) {
	client := &stubLLM{replies: map[string]string{
		"review_article": `{"comments":["clear"," "],"suggested_edits":["define quorum"],"overall_assessment":"sound"}`,
	}}
	c := newTestCitizen(t, client)

	if _, err := c.ReviewArticle(context.Background(), "text", 0); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	review, err := c.ReviewArticle(context.Background(), "Article text", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(review.Comments) != 1 || review.SuggestedEdits[0] != "define quorum" || review.OverallAssessment != "sound" {
		t.Fatalf("unexpected review: %+v", review)
	}
}

func TestStructuredPromptsCiteReferences(t *testing.T) {
	client := &stubLLM{replies: map[string]string{
		"review_article":    `{"comments":[],"suggested_edits":[],"overall_assessment":"ok"}`,
		"evaluate_proposal": `{"support":"abstain","reason":"n/a","confidence":0.5}`,
	}}
	refs := knowledge.NewStaticProvider([]knowledge.Snippet{
		{Title: "Article 7", Content: "Amendments need a two-thirds majority.", Keywords: []string{"quorum"}, Categories: []string{"constitutional"}},
	}, 3)
	c := newTestCitizen(t, client, WithKnowledge(refs))

	if _, err := c.ReviewArticle(context.Background(), "The quorum is ten citizens.", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(client.last().Prompt, "[1] Article 7: Amendments need a two-thirds majority.") {
		t.Fatalf("review prompt should cite references: %q", client.last().Prompt)
	}

	proposal := agent.Proposal{Title: "Lower quorum", Description: "Set quorum to five.", Category: agent.CategoryStandard}
	if _, err := c.EvaluateProposal(context.Background(), proposal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(client.last().Prompt, "Reference material") {
		t.Fatalf("constitutional references must not reach standard proposals")
	}
}

func TestIntroduceFallsBackToIdentity(t *testing.T) {
	c := newTestCitizen(t, &stubLLM{replies: map[string]string{}})
	intro, err := c.Introduce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := agent.CheckIntroduction(intro); err != nil || !strings.Contains(intro, "Ada") {
		t.Fatalf("unexpected intro %q: %v", intro, err)
	}
}

func TestRespondTruncatesAndKeepsBoundedHistory(t *testing.T) {
	client := &stubLLM{replies: map[string]string{"respond": strings.Repeat("x", 600)}}
	c, err := New(client, Config{Name: "Ada", HistoryDepth: 4}, WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		reply, err := c.Respond(context.Background(), fmt.Sprintf("message %d", i), map[string]any{"channel": "forum"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if utf8.RuneCountInString(reply) != agent.MaxResponseRunes {
			t.Fatalf("reply not truncated: %d runes", utf8.RuneCountInString(reply))
		}
		if err := agent.CheckResponse(reply); err != nil {
			t.Fatalf("truncated reply must pass the boundary check: %v", err)
		}
	}

	history := c.History()
	if len(history) != 4 {
		t.Fatalf("expected 4 history messages, got %d", len(history))
	}
	if history[0].Content != "message 1" || history[0].Role != llm.RoleUser {
		t.Fatalf("oldest messages should be dropped first: %+v", history[0])
	}
	last := client.last()
	if len(last.History) != 4 || !strings.Contains(last.Prompt, `"channel":"forum"`) {
		t.Fatalf("unexpected request: %+v", last)
	}
}

func TestRespondConcurrentCallsSerializeHistory(t *testing.T) {
	client := &stubLLM{replies: map[string]string{"respond": "ok"}}
	c, _ := New(client, Config{Name: "Ada", HistoryDepth: 100}, WithLogger(slog.New(slog.DiscardHandler)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = c.Respond(context.Background(), fmt.Sprintf("m%d", i), nil)
		}(i)
	}
	wg.Wait()
	if got := len(c.History()); got != 40 {
		t.Fatalf("expected 40 history messages, got %d", got)
	}
}

func TestModelFailureMapping(t *testing.T) {
	c := newTestCitizen(t, &stubLLM{err: errors.New("rate limited")})
	_, err := c.Respond(context.Background(), "hi", nil)
	if xerrors.CodeOf(err) != xerrors.CodeModelFailure {
		t.Fatalf("expected model failure, got %v", err)
	}

	c = newTestCitizen(t, &stubLLM{err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded)})
	_, err = c.Introduce(context.Background())
	if !errors.Is(err, xerrors.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestHeartbeatReportsUptimeAndLastAction(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := newTestCitizen(t, &stubLLM{replies: map[string]string{"introduce": "hello"}}, WithClock(clock))

	h, err := agent.Heartbeat(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Status != agent.HealthOK || h.LastAction != "identity:"+c.Identity().AgentID {
		t.Fatalf("unexpected initial heartbeat: %+v", h)
	}

	now = now.Add(90 * time.Second)
	if _, err := c.Introduce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, _ = c.Heartbeat(context.Background())
	if h.UptimeSeconds != 90 || h.LastAction != "introduce" || h.Status != agent.HealthOK {
		t.Fatalf("unexpected heartbeat: %+v", h)
	}
}

func TestCitizenThroughGuard(t *testing.T) {
	client := &stubLLM{replies: map[string]string{
		"evaluate_proposal": `{"support":"for","reason":"aligned","confidence":0.73}`,
	}}
	g := agent.NewGuard(newTestCitizen(t, client), agent.WithTimeout(time.Second))
	pos, err := g.EvaluateProposal(context.Background(), agent.Proposal{Title: "t", Category: agent.CategoryStandard})
	if err != nil || pos.Confidence != 0.73 || pos.Support != agent.SupportFor {
		t.Fatalf("unexpected result: %+v, %v", pos, err)
	}
}
