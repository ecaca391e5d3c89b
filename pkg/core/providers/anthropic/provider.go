// Package anthropic implements the tutoring roles on the Anthropic Messages
// API. Each role call is a single non-streaming request instructed to answer
// with one JSON object matching the role's result shape.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/luminalearn/teachback/pkg/core"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// APIVersion is the required Anthropic API version header.
	APIVersion = "2023-06-01"

	// DefaultModel is used unless overridden via WithModel.
	DefaultModel = "claude-sonnet-4-20250514"

	// DefaultMaxTokens bounds role responses; summaries are the largest.
	DefaultMaxTokens = 1024
)

// Provider implements core.Provider on the Anthropic Messages API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint (used in tests).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimSuffix(u, "/") }
}

// WithModel overrides the model.
func WithModel(m string) Option {
	return func(p *Provider) { p.model = m }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a new Anthropic provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "anthropic"
}

// DetectError runs the listener/error-detector role.
func (p *Provider) DetectError(ctx context.Context, in core.DetectErrorInput) (*core.ErrorReport, error) {
	prompt := detectErrorPrompt(in)
	var out core.ErrorReport
	if err := p.roleCall(ctx, detectErrorSystem, prompt, &out); err != nil {
		return nil, err
	}
	if out.HasError && out.Severity.Rank() == 0 {
		out.Severity = core.SeverityMinor
	}
	return &out, nil
}

// AskQuestion runs the examiner role to produce the next question.
func (p *Provider) AskQuestion(ctx context.Context, in core.AskQuestionInput) (*core.ExamQuestion, error) {
	prompt := askQuestionPrompt(in)
	var out core.ExamQuestion
	if err := p.roleCall(ctx, examinerSystem, prompt, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Question) == "" {
		return nil, &Error{Type: ErrMalformed, Message: "examiner returned an empty question"}
	}
	return &out, nil
}

// GradeAnswer runs the examiner role to evaluate one answer.
func (p *Provider) GradeAnswer(ctx context.Context, in core.GradeAnswerInput) (*core.AnswerGrade, error) {
	prompt := gradeAnswerPrompt(in)
	var out core.AnswerGrade
	if err := p.roleCall(ctx, examinerSystem, prompt, &out); err != nil {
		return nil, err
	}
	out.Score = clamp(out.Score, 0, 10)
	return &out, nil
}

// Summarize runs the summarizer role at session close.
func (p *Provider) Summarize(ctx context.Context, in core.SummarizeInput) (*core.SummaryResult, error) {
	prompt := summarizePrompt(in)
	var out core.SummaryResult
	if err := p.roleCall(ctx, summarizerSystem, prompt, &out); err != nil {
		return nil, err
	}
	out.OverallScore = clamp(out.OverallScore, 0, 100)
	return &out, nil
}

const (
	detectErrorSystem = "You are a tutor listening to a learner teach a concept back to you. " +
		"Identify at most one conceptual error in the latest utterance. " +
		`Reply with one JSON object: {"has_error":bool,"error_text":string,"correction":string,"context":string,"severity":"minor"|"moderate"|"major"}.`

	examinerSystem = "You are an oral examiner. " +
		`For a question request reply {"question":string}. For a grading request reply {"evaluation":string,"score":int} with score between 0 and 10.`

	summarizerSystem = "You summarize a finished teach-back session. " +
		`Reply with one JSON object: {"missed_concepts":[string],"strong_areas":[string],"recommendations":[string],"overall_score":int} with overall_score between 0 and 100.`
)

func detectErrorPrompt(in core.DetectErrorInput) string {
	var b strings.Builder
	if in.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", in.Topic)
	}
	if len(in.Transcript) > 0 {
		b.WriteString("Earlier turns:\n")
		for _, t := range in.Transcript {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}
	fmt.Fprintf(&b, "Latest utterance: %s", in.Utterance)
	return b.String()
}

func askQuestionPrompt(in core.AskQuestionInput) string {
	var b strings.Builder
	if in.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", in.Topic)
	}
	for _, t := range in.Transcript {
		fmt.Fprintf(&b, "Transcript: %s\n", t)
	}
	for _, e := range in.DetectedErrors {
		fmt.Fprintf(&b, "Detected error: %s\n", e)
	}
	for _, q := range in.Asked {
		fmt.Fprintf(&b, "Already asked: %s\n", q)
	}
	b.WriteString("Ask the next examination question.")
	return b.String()
}

func gradeAnswerPrompt(in core.GradeAnswerInput) string {
	var b strings.Builder
	if in.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", in.Topic)
	}
	fmt.Fprintf(&b, "Question: %s\nAnswer: %s\nGrade this answer.", in.Question, in.Answer)
	return b.String()
}

func summarizePrompt(in core.SummarizeInput) string {
	var b strings.Builder
	if in.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", in.Topic)
	}
	for _, t := range in.Transcript {
		fmt.Fprintf(&b, "Transcript: %s\n", t)
	}
	for _, e := range in.DetectedErrors {
		fmt.Fprintf(&b, "Detected error: %s\n", e)
	}
	fmt.Fprintf(&b, "Exam scores: %v\nSummarize the session.", in.ExamScores)
	return b.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
