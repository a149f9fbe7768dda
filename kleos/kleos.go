// Package kleos implements the bounded prompt-refinement pipeline: a
// raw goal is analyzed into clarifying questions, refined into a master
// prompt under user approval, and finally executed.
package kleos

import (
	"errors"
	"time"
)

// Phase is a pipeline state. Sessions only ever move forward, ending in
// PhaseCompleted or PhaseAborted; terminal sessions reject every call.
type Phase int

const (
	PhaseAnalyzing Phase = iota
	PhaseAwaitingClarification
	PhaseRefining
	PhaseAwaitingApproval
	PhaseExecuting
	PhaseCompleted
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseAwaitingClarification:
		return "awaiting_clarification"
	case PhaseRefining:
		return "refining"
	case PhaseAwaitingApproval:
		return "awaiting_approval"
	case PhaseExecuting:
		return "executing"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	}
	return "unknown"
}

// Terminal reports whether the phase accepts no further operations.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAborted
}

var (
	// ErrInvalidPhase marks an operation called in the wrong phase.
	ErrInvalidPhase = errors.New("operation not valid in current phase")

	// ErrRefinementExhausted marks a session rejected too many times.
	ErrRefinementExhausted = errors.New("refinement attempts exhausted")

	// ErrExecutionFailed marks a session whose execution failed after
	// the retry.
	ErrExecutionFailed = errors.New("execution failed")
)

// Session carries one goal through the pipeline.
type Session struct {
	ID             string
	OriginalPrompt string
	Phase          Phase
	Questions      []string
	Answers        []string
	RefinedPrompt  string
	Feedback       []string // rejection feedback, oldest first
	Result         string
	Err            error // terminal failure reason
	CreatedAt      time.Time
}
