// Package gemini implements the tutoring roles on the Gemini API via the
// google.golang.org/genai SDK. It is the fallback provider: same role
// contract as anthropic, JSON response mode enforced by the SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/luminalearn/teachback/pkg/core"
)

// DefaultModel is used unless overridden via WithModel.
const DefaultModel = "gemini-2.0-flash"

// Provider implements core.Provider on the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel overrides the model.
func WithModel(m string) Option {
	return func(p *Provider) { p.model = m }
}

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	p := &Provider{client: client, model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// DetectError runs the listener/error-detector role.
func (p *Provider) DetectError(ctx context.Context, in core.DetectErrorInput) (*core.ErrorReport, error) {
	var b strings.Builder
	if in.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", in.Topic)
	}
	for _, t := range in.Transcript {
		fmt.Fprintf(&b, "Earlier turn: %s\n", t)
	}
	fmt.Fprintf(&b, "Latest utterance: %s\n", in.Utterance)
	b.WriteString("You are a tutor listening to a learner teach a concept back. Identify at most one conceptual error. " +
		`Reply with JSON {"has_error":bool,"error_text":string,"correction":string,"context":string,"severity":"minor"|"moderate"|"major"}.`)

	var out core.ErrorReport
	if err := p.roleCall(ctx, b.String(), &out); err != nil {
		return nil, err
	}
	if out.HasError && out.Severity.Rank() == 0 {
		out.Severity = core.SeverityMinor
	}
	return &out, nil
}

// AskQuestion runs the examiner role to produce the next question.
func (p *Provider) AskQuestion(ctx context.Context, in core.AskQuestionInput) (*core.ExamQuestion, error) {
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
	b.WriteString(`You are an oral examiner. Ask the next examination question. Reply with JSON {"question":string}.`)

	var out core.ExamQuestion
	if err := p.roleCall(ctx, b.String(), &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Question) == "" {
		return nil, fmt.Errorf("gemini: examiner returned an empty question")
	}
	return &out, nil
}

// GradeAnswer runs the examiner role to evaluate one answer.
func (p *Provider) GradeAnswer(ctx context.Context, in core.GradeAnswerInput) (*core.AnswerGrade, error) {
	prompt := fmt.Sprintf(
		"Topic: %s\nQuestion: %s\nAnswer: %s\nGrade this answer. Reply with JSON {\"evaluation\":string,\"score\":int} with score between 0 and 10.",
		in.Topic, in.Question, in.Answer,
	)

	var out core.AnswerGrade
	if err := p.roleCall(ctx, prompt, &out); err != nil {
		return nil, err
	}
	out.Score = clamp(out.Score, 0, 10)
	return &out, nil
}

// Summarize runs the summarizer role at session close.
func (p *Provider) Summarize(ctx context.Context, in core.SummarizeInput) (*core.SummaryResult, error) {
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
	fmt.Fprintf(&b, "Exam scores: %v\n", in.ExamScores)
	b.WriteString("Summarize this finished teach-back session. Reply with JSON " +
		`{"missed_concepts":[string],"strong_areas":[string],"recommendations":[string],"overall_score":int} with overall_score between 0 and 100.`)

	var out core.SummaryResult
	if err := p.roleCall(ctx, b.String(), &out); err != nil {
		return nil, err
	}
	out.OverallScore = clamp(out.OverallScore, 0, 100)
	return &out, nil
}

// Error represents a failure from the Gemini API.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gemini: %d: %s", e.Code, e.Message)
}

// IsRateLimit reports whether the provider rejected the call for rate limits.
func (e *Error) IsRateLimit() bool {
	return e.Code == http.StatusTooManyRequests
}

// roleCall sends one prompt in JSON response mode and decodes the reply.
func (p *Provider) roleCall(ctx context.Context, prompt string, out any) error {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return &Error{Code: apiErr.Code, Message: apiErr.Message}
		}
		return fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return fmt.Errorf("gemini: response contained no text")
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("gemini: decode role result: %w", err)
	}
	return nil
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
