package models

import (
	"fmt"
	"time"
)

type Stage string

const (
	StageGreeting           Stage = "greeting"
	StageFileUploaded       Stage = "file_uploaded"
	StageResearching        Stage = "researching"
	StageClassifying        Stage = "classifying"
	StageReviewNeeded       Stage = "review_needed"
	StageAnsweringQuestions Stage = "answering_questions"
	StageComplete           Stage = "complete"
)

const (
	ProgressFileUploaded      = 0.1
	ProgressPortfolioParsed   = 0.3
	ProgressResearching       = 0.45
	ProgressResearchCompleted = 0.6
	ProgressClassifying       = 0.75
	ProgressReviewNeeded      = 0.85
	ProgressComplete          = 1.0
)

// stageTransitions lists the forward edges of the pipeline. A new upload is
// accepted from every stage and re-running research from every stage after
// greeting; those edges are handled in CanTransition.
var stageTransitions = map[Stage][]Stage{
	StageFileUploaded:       {StageResearching},
	StageResearching:        {StageClassifying},
	StageClassifying:        {StageReviewNeeded, StageComplete},
	StageReviewNeeded:       {StageAnsweringQuestions, StageComplete},
	StageAnsweringQuestions: {StageAnsweringQuestions, StageComplete},
}

func CanTransition(from, to Stage) bool {
	switch to {
	case StageFileUploaded:
		return true
	case StageResearching:
		return from != StageGreeting
	}
	for _, next := range stageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type UploadedFile struct {
	Name        string    `json:"name"`
	URI         string    `json:"uri,omitempty"`
	Path        string    `json:"path,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// AgentContext is the session-scoped state shared with a session's agents.
// Only the orchestrator writes to it.
type AgentContext struct {
	SessionID         string                   `json:"session_id"`
	UploadedFile      *UploadedFile            `json:"uploaded_file,omitempty"`
	PortfolioItems    []PortfolioItem          `json:"portfolio_items"`
	Research          map[string]*FundResearch `json:"research,omitempty"`
	Categorizations   []*FundCategorization    `json:"categorizations"`
	ConfidenceScores  map[string]float64       `json:"confidence_scores"`
	ExtractionResults []ExtractionResult       `json:"extraction_results,omitempty"`
	Metadata          map[string]interface{}   `json:"metadata,omitempty"`
}

func NewAgentContext(sessionID string) *AgentContext {
	return &AgentContext{
		SessionID:        sessionID,
		PortfolioItems:   []PortfolioItem{},
		Research:         make(map[string]*FundResearch),
		Categorizations:  []*FundCategorization{},
		ConfidenceScores: make(map[string]float64),
		Metadata:         make(map[string]interface{}),
	}
}

func (ac *AgentContext) Categorization(ticker string) (*FundCategorization, bool) {
	for _, fc := range ac.Categorizations {
		if fc.Ticker == ticker {
			return fc, true
		}
	}
	return nil, false
}

type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

type ChatEntry struct {
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	Data      Payload   `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type StageTransition struct {
	From     Stage     `json:"from"`
	To       Stage     `json:"to"`
	Progress float64   `json:"progress"`
	At       time.Time `json:"at"`
}

type PortfolioConfidence struct {
	Overall             float64 `json:"overall"`
	Average             float64 `json:"average"`
	Min                 float64 `json:"min"`
	Max                 float64 `json:"max"`
	Std                 float64 `json:"std"`
	HighConfidenceRatio float64 `json:"high_confidence_ratio"`
}

type CategorizationResults struct {
	Classifications     []*FundCategorization `json:"classifications"`
	Summary             CategorizationSummary `json:"summary"`
	PortfolioConfidence PortfolioConfidence   `json:"portfolio_confidence"`
	CompletedAt         time.Time             `json:"completed_at"`
}

type Session struct {
	ID       string        `json:"id"`
	Stage    Stage         `json:"stage"`
	Progress float64       `json:"progress"`
	Context  *AgentContext `json:"context"`

	Transcript   []ChatEntry            `json:"transcript"`
	StageHistory []StageTransition      `json:"stage_history"`
	Results      *CategorizationResults `json:"results,omitempty"`

	ReviewQueue       []string          `json:"review_queue"`
	ReviewIndex       int               `json:"review_index"`
	PendingQuestion   *CategoryQuestion `json:"pending_question,omitempty"`
	AnsweredQuestions map[string]bool   `json:"answered_questions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:                id,
		Stage:             StageGreeting,
		Context:           NewAgentContext(id),
		Transcript:        []ChatEntry{},
		StageHistory:      []StageTransition{},
		ReviewQueue:       []string{},
		AnsweredQuestions: make(map[string]bool),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Transition moves the session to a new stage and records it in the history.
func (s *Session) Transition(to Stage, progress float64) (StageTransition, error) {
	if !CanTransition(s.Stage, to) {
		return StageTransition{}, NewInternalError("INVALID_STAGE_TRANSITION",
			fmt.Sprintf("Cannot move from %s to %s", s.Stage, to)).
			WithMetadata("session_id", s.ID)
	}
	if progress < 0 || progress > 1 {
		return StageTransition{}, NewInternalError("INVALID_PROGRESS", "Progress must be within [0,1]").
			WithMetadata("progress", progress)
	}

	transition := StageTransition{From: s.Stage, To: to, Progress: progress, At: time.Now().UTC()}
	s.Stage = to
	s.Progress = progress
	s.StageHistory = append(s.StageHistory, transition)
	s.UpdatedAt = transition.At
	return transition, nil
}

func (s *Session) SetProgress(progress float64) {
	if progress < 0 || progress > 1 {
		return
	}
	s.Progress = progress
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) AddChat(role ChatRole, content string, data Payload) {
	s.Transcript = append(s.Transcript, ChatEntry{
		Role:      role,
		Content:   content,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) CurrentReviewTicker() (string, bool) {
	if s.ReviewIndex < 0 || s.ReviewIndex >= len(s.ReviewQueue) {
		return "", false
	}
	return s.ReviewQueue[s.ReviewIndex], true
}

func (s *Session) ResetReview(tickers []string) {
	s.ReviewQueue = append([]string{}, tickers...)
	s.ReviewIndex = 0
	s.PendingQuestion = nil
}

func (s *Session) IsComplete() bool {
	return s.Stage == StageComplete
}

type SessionSnapshot struct {
	SessionID         string            `json:"session_id"`
	Stage             Stage             `json:"stage"`
	Progress          float64           `json:"progress"`
	StageHistory      []StageTransition `json:"stage_history"`
	PendingQuestion   *CategoryQuestion `json:"pending_question,omitempty"`
	TotalFunds        int               `json:"total_funds"`
	Classified        int               `json:"classified"`
	ReviewRemaining   int               `json:"review_remaining"`
	AnsweredQuestions int               `json:"answered_questions"`
	ChatMessages      int               `json:"chat_messages"`
	HasResults        bool              `json:"has_results"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (s *Session) Snapshot() SessionSnapshot {
	remaining := len(s.ReviewQueue) - s.ReviewIndex
	if remaining < 0 {
		remaining = 0
	}
	return SessionSnapshot{
		SessionID:         s.ID,
		Stage:             s.Stage,
		Progress:          s.Progress,
		StageHistory:      append([]StageTransition{}, s.StageHistory...),
		PendingQuestion:   s.PendingQuestion,
		TotalFunds:        len(s.Context.PortfolioItems),
		Classified:        len(s.Context.Categorizations),
		ReviewRemaining:   remaining,
		AnsweredQuestions: len(s.AnsweredQuestions),
		ChatMessages:      len(s.Transcript),
		HasResults:        s.Results != nil,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}
