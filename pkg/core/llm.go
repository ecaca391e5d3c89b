package core

import (
	"context"
)

// Severity orders detected conceptual errors.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
)

// Rank returns the ordering position of a severity. Unknown values rank
// below minor so a malformed provider response never forces an interruption.
func (s Severity) Rank() int {
	switch s {
	case SeverityMinor:
		return 1
	case SeverityModerate:
		return 2
	case SeverityMajor:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.Rank() >= floor.Rank()
}

// DetectErrorInput carries one learner utterance plus the teaching context.
type DetectErrorInput struct {
	Topic      string
	Utterance  string
	Transcript []string // prior turns, oldest first
}

// ErrorReport is the error-detector role's structured result.
type ErrorReport struct {
	HasError   bool     `json:"has_error"`
	ErrorText  string   `json:"error_text"`
	Correction string   `json:"correction"`
	Context    string   `json:"context,omitempty"`
	Severity   Severity `json:"severity"`
}

// AskQuestionInput asks the examiner role for one oral-exam question.
type AskQuestionInput struct {
	Topic          string
	Transcript     []string
	DetectedErrors []string
	Asked          []string // questions already asked this session
}

// ExamQuestion is the examiner role's structured result.
type ExamQuestion struct {
	Question string `json:"question"`
}

// GradeAnswerInput asks the examiner role to grade one answer.
type GradeAnswerInput struct {
	Topic    string
	Question string
	Answer   string
}

// AnswerGrade is the grading result. Score is 0-10 inclusive.
type AnswerGrade struct {
	Evaluation string `json:"evaluation"`
	Score      int    `json:"score"`
}

// SummarizeInput carries everything the summarizer role needs.
type SummarizeInput struct {
	Topic          string
	Transcript     []string
	DetectedErrors []string
	ExamScores     []int
}

// SummaryResult is the summarizer role's structured result. OverallScore is
// 0-100 inclusive; the list fields keep provider order.
type SummaryResult struct {
	MissedConcepts  []string `json:"missed_concepts"`
	StrongAreas     []string `json:"strong_areas"`
	Recommendations []string `json:"recommendations"`
	OverallScore    int      `json:"overall_score"`
}

// Provider is the interface every tutoring LLM backend implements, one
// operation per role the session engine uses.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "gemini").
	Name() string

	// DetectError runs the listener/error-detector role over one utterance.
	DetectError(ctx context.Context, in DetectErrorInput) (*ErrorReport, error)

	// AskQuestion runs the examiner role to produce the next question.
	AskQuestion(ctx context.Context, in AskQuestionInput) (*ExamQuestion, error)

	// GradeAnswer runs the examiner role to evaluate one answer.
	GradeAnswer(ctx context.Context, in GradeAnswerInput) (*AnswerGrade, error)

	// Summarize runs the summarizer role at session close.
	Summarize(ctx context.Context, in SummarizeInput) (*SummaryResult, error)
}

