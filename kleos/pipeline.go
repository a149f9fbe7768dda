package kleos

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/piskevalee-cpu/MARK/core"
	"github.com/piskevalee-cpu/MARK/memory"
	"github.com/piskevalee-cpu/MARK/provider"
)

const (
	// maxRefinements caps the total refinement passes per session,
	// counting the initial one. The rejection that would exceed it
	// aborts instead.
	maxRefinements = 3

	// executeRetries is how many extra execution attempts follow a
	// gateway failure.
	executeRetries = 1
)

// Retriever supplies user facts for injection into the execution prompt.
// *memory.Service satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]*memory.Fact, error)
}

// Pipeline drives sessions through the phases against a gateway.
type Pipeline struct {
	gateway   provider.Gateway
	memories  Retriever
	prompts   Prompts
	maxTokens int64
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithMemory injects retrieved facts into the execution prompt.
func WithMemory(r Retriever) Option {
	return func(p *Pipeline) { p.memories = r }
}

// WithPrompts overrides the stage prompts.
func WithPrompts(prompts Prompts) Option {
	return func(p *Pipeline) { p.prompts = prompts }
}

// WithMaxTokens caps response lengths.
func WithMaxTokens(n int64) Option {
	return func(p *Pipeline) { p.maxTokens = n }
}

// New creates a pipeline over the given gateway.
func New(gateway provider.Gateway, opts ...Option) *Pipeline {
	p := &Pipeline{
		gateway: gateway,
		prompts: DefaultPrompts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start analyzes a goal. The returned session pauses at
// PhaseAwaitingClarification with questions to answer, or skips straight
// to PhaseAwaitingApproval when the analyst found nothing to ask.
func (p *Pipeline) Start(ctx context.Context, goal string) (*Session, error) {
	trimmed := strings.TrimSpace(goal)
	if trimmed == "" {
		return nil, fmt.Errorf("start session: empty goal: %w", core.ErrValidation)
	}

	s := &Session{
		ID:             uuid.New().String(),
		OriginalPrompt: trimmed,
		Phase:          PhaseAnalyzing,
		CreatedAt:      time.Now(),
	}
	log.Printf("[KLEOS] Session %s: analyzing goal %q", shortID(s.ID), truncate(trimmed, 60))

	resp, err := p.gateway.Complete(ctx, &provider.Request{
		System:    p.prompts.Analyst,
		Prompt:    trimmed,
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return s, p.abort(s, err)
	}

	s.Questions = parseQuestions(resp.Text)
	if len(s.Questions) == 0 {
		log.Printf("[KLEOS] Session %s: no clarification needed", shortID(s.ID))
		if err := p.refine(ctx, s); err != nil {
			return s, err
		}
		return s, nil
	}

	s.Phase = PhaseAwaitingClarification
	log.Printf("[KLEOS] Session %s: %d clarifying questions", shortID(s.ID), len(s.Questions))
	return s, nil
}

// Answer records the user's answers and refines the prompt. The session
// moves to PhaseAwaitingApproval.
func (p *Pipeline) Answer(ctx context.Context, s *Session, answers []string) error {
	if s.Phase != PhaseAwaitingClarification {
		return p.phaseError(s, PhaseAwaitingClarification)
	}
	if len(answers) != len(s.Questions) {
		return fmt.Errorf("got %d answers for %d questions: %w",
			len(answers), len(s.Questions), core.ErrValidation)
	}

	s.Answers = make([]string, len(answers))
	for i, a := range answers {
		s.Answers[i] = strings.TrimSpace(a)
	}
	return p.refine(ctx, s)
}

// Reject sends the refined prompt back with feedback. Once
// maxRefinements passes are spent the rejection aborts the session with
// ErrRefinementExhausted instead of refining again.
func (p *Pipeline) Reject(ctx context.Context, s *Session, feedback string) error {
	if s.Phase != PhaseAwaitingApproval {
		return p.phaseError(s, PhaseAwaitingApproval)
	}
	// The initial refinement plus one per accepted rejection.
	if 1+len(s.Feedback) >= maxRefinements {
		s.Phase = PhaseAborted
		s.Err = ErrRefinementExhausted
		log.Printf("[KLEOS] Session %s: refinement exhausted after %d rejections",
			shortID(s.ID), len(s.Feedback)+1)
		return ErrRefinementExhausted
	}

	s.Feedback = append(s.Feedback, strings.TrimSpace(feedback))
	return p.refine(ctx, s)
}

// Approve executes the refined prompt and completes the session,
// returning the result. One retry follows a gateway failure; a second
// failure aborts with ErrExecutionFailed.
func (p *Pipeline) Approve(ctx context.Context, s *Session) (string, error) {
	if s.Phase != PhaseAwaitingApproval {
		return "", p.phaseError(s, PhaseAwaitingApproval)
	}
	s.Phase = PhaseExecuting
	log.Printf("[KLEOS] Session %s: executing", shortID(s.ID))

	req := &provider.Request{
		System:    p.prompts.Thinker,
		Prompt:    p.executionPrompt(ctx, s),
		MaxTokens: p.maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt <= executeRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[KLEOS] Session %s: retrying execution", shortID(s.ID))
		}
		resp, err := p.gateway.Complete(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		s.Result = resp.Text
		s.Phase = PhaseCompleted
		log.Printf("[KLEOS] Session %s: completed", shortID(s.ID))
		return s.Result, nil
	}

	s.Phase = PhaseAborted
	s.Err = ErrExecutionFailed
	return "", fmt.Errorf("%v: %w", lastErr, ErrExecutionFailed)
}

// Cancel aborts a session in any non-terminal phase. Cancelling a
// terminal session is a no-op.
func (p *Pipeline) Cancel(s *Session) {
	if s.Phase.Terminal() {
		return
	}
	s.Phase = PhaseAborted
	log.Printf("[KLEOS] Session %s: cancelled", shortID(s.ID))
}

// refine produces (or re-produces) the master prompt and parks the
// session at PhaseAwaitingApproval.
func (p *Pipeline) refine(ctx context.Context, s *Session) error {
	s.Phase = PhaseRefining

	resp, err := p.gateway.Complete(ctx, &provider.Request{
		System:    p.prompts.Refiner,
		Prompt:    p.refinementPrompt(s),
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return p.abort(s, err)
	}

	s.RefinedPrompt = strings.TrimSpace(resp.Text)
	s.Phase = PhaseAwaitingApproval
	return nil
}

// refinementPrompt assembles goal, clarifications and feedback for the
// refiner stage.
func (p *Pipeline) refinementPrompt(s *Session) string {
	var b strings.Builder
	b.WriteString("GOAL:\n")
	b.WriteString(s.OriginalPrompt)

	if len(s.Answers) > 0 {
		b.WriteString("\n\nCLARIFICATIONS:\n")
		for i, q := range s.Questions {
			if i >= len(s.Answers) || s.Answers[i] == "" {
				continue
			}
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", q, s.Answers[i])
		}
	}

	if len(s.Feedback) > 0 {
		b.WriteString("\nFEEDBACK ON EARLIER DRAFTS:\n")
		for i, f := range s.Feedback {
			fmt.Fprintf(&b, "%d. %s\n", i+1, f)
		}
	}
	return b.String()
}

// executionPrompt is the refined prompt plus any relevant user facts.
func (p *Pipeline) executionPrompt(ctx context.Context, s *Session) string {
	if p.memories == nil {
		return s.RefinedPrompt
	}

	facts, err := p.memories.Retrieve(ctx, s.OriginalPrompt, 0)
	if err != nil || len(facts) == 0 {
		if err != nil {
			log.Printf("[KLEOS] Session %s: memory retrieval failed: %v", shortID(s.ID), err)
		}
		return s.RefinedPrompt
	}

	var b strings.Builder
	b.WriteString(s.RefinedPrompt)
	b.WriteString("\n\n<MEMORIES>\n")
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f.Text)
		b.WriteString("\n")
	}
	b.WriteString("</MEMORIES>")
	return b.String()
}

func (p *Pipeline) abort(s *Session, err error) error {
	s.Phase = PhaseAborted
	s.Err = err
	log.Printf("[KLEOS] Session %s: aborted: %v", shortID(s.ID), err)
	return err
}

func (p *Pipeline) phaseError(s *Session, want Phase) error {
	return fmt.Errorf("session %s is %s, needs %s: %w",
		shortID(s.ID), s.Phase, want, ErrInvalidPhase)
}

// questionLine matches "1. text", "2) text" and similar.
var questionLine = regexp.MustCompile(`^\s*\d+[.)]\s*(.+)$`)

// parseQuestions extracts a numbered question list from analyst output.
func parseQuestions(text string) []string {
	if strings.Contains(strings.ToUpper(text), NoQuestionsMarker) {
		return nil
	}
	var questions []string
	for _, line := range strings.Split(text, "\n") {
		if m := questionLine.FindStringSubmatch(line); m != nil {
			questions = append(questions, strings.TrimSpace(m[1]))
		}
	}
	return questions
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
