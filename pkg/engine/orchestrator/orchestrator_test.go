package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luminalearn/teachback/pkg/core"
)

// stubProvider answers every role with canned results or a fixed error.
type stubProvider struct {
	name  string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) DetectError(ctx context.Context, in core.DetectErrorInput) (*core.ErrorReport, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &core.ErrorReport{HasError: true, ErrorText: "from " + s.name, Severity: core.SeverityMajor}, nil
}

func (s *stubProvider) AskQuestion(ctx context.Context, in core.AskQuestionInput) (*core.ExamQuestion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &core.ExamQuestion{Question: "from " + s.name}, nil
}

func (s *stubProvider) GradeAnswer(ctx context.Context, in core.GradeAnswerInput) (*core.AnswerGrade, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &core.AnswerGrade{Evaluation: "from " + s.name, Score: 8}, nil
}

func (s *stubProvider) Summarize(ctx context.Context, in core.SummarizeInput) (*core.SummaryResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &core.SummaryResult{OverallScore: 80}, nil
}

func newOrchestrator(primary, fallback core.Provider) *Orchestrator {
	return New(primary, fallback, NewBreaker(), slog.New(slog.DiscardHandler), Config{
		PrimaryTimeout:  time.Second,
		FallbackTimeout: time.Second,
	})
}

func TestPrimarySuccessSkipsFallback(t *testing.T) {
	primary := &stubProvider{name: "primary"}
	fallback := &stubProvider{name: "fallback"}
	o := newOrchestrator(primary, fallback)

	report, err := o.DetectError(context.Background(), core.DetectErrorInput{Utterance: "x"})
	require.NoError(t, err)
	require.Equal(t, "from primary", report.ErrorText)
	require.Zero(t, fallback.calls, "fallback must not be called when primary succeeds")
}

func TestFallbackResultSurfacesWithoutError(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("boom")}
	fallback := &stubProvider{name: "fallback"}
	o := newOrchestrator(primary, fallback)

	q, err := o.AskQuestion(context.Background(), core.AskQuestionInput{Topic: "dns"})
	require.NoError(t, err)
	require.Equal(t, "from fallback", q.Question)
	require.False(t, o.Breaker().Tripped())
}

func TestTotalFailureTripsBreakerAndRefusesFurtherCalls(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("p down")}
	fallback := &stubProvider{name: "fallback", err: errors.New("f down")}
	o := newOrchestrator(primary, fallback)

	_, err := o.GradeAnswer(context.Background(), core.GradeAnswerInput{Question: "q", Answer: "a"})
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.CodeAllLLMsFailed, coreErr.Code)
	require.False(t, coreErr.Recoverable)
	require.True(t, coreErr.FallbackActive)
	require.True(t, o.Breaker().Tripped())

	// Subsequent calls refuse with MAINTENANCE_MODE without touching providers.
	primaryCalls, fallbackCalls := primary.calls, fallback.calls
	_, err = o.Summarize(context.Background(), core.SummarizeInput{})
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.CodeMaintenanceMode, coreErr.Code)
	require.Equal(t, primaryCalls, primary.calls)
	require.Equal(t, fallbackCalls, fallback.calls)
}

func TestBreakerDoesNotSelfHeal(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("p down")}
	fallback := &stubProvider{name: "fallback", err: errors.New("f down")}
	o := newOrchestrator(primary, fallback)

	_, _ = o.Summarize(context.Background(), core.SummarizeInput{})
	require.True(t, o.Breaker().Tripped())

	// Providers recover, but only an explicit Clear reopens the engine.
	primary.err = nil
	_, err := o.Summarize(context.Background(), core.SummarizeInput{})
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.CodeMaintenanceMode, coreErr.Code)

	o.Breaker().Clear()
	out, err := o.Summarize(context.Background(), core.SummarizeInput{})
	require.NoError(t, err)
	require.Equal(t, 80, out.OverallScore)
}

func TestCallerCancellationIsNotProviderFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", err: context.Canceled}
	fallback := &stubProvider{name: "fallback"}
	o := newOrchestrator(primary, fallback)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.DetectError(ctx, core.DetectErrorInput{Utterance: "x"})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, fallback.calls)
	require.False(t, o.Breaker().Tripped())
}

// throttleErr mimics a provider 429 response.
type throttleErr struct{ provider string }

func (e *throttleErr) Error() string     { return e.provider + ": rate limited" }
func (e *throttleErr) IsRateLimit() bool { return true }

func TestAllLegsThrottledSurfacesRateLimitWithoutTrip(t *testing.T) {
	primary := &stubProvider{name: "primary", err: &throttleErr{provider: "primary"}}
	fallback := &stubProvider{name: "fallback", err: &throttleErr{provider: "fallback"}}
	o := newOrchestrator(primary, fallback)

	_, err := o.AskQuestion(context.Background(), core.AskQuestionInput{Topic: "dns"})
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.CodeLLMRateLimited, coreErr.Code)
	require.True(t, coreErr.Recoverable)
	require.True(t, coreErr.FallbackActive)
	require.False(t, o.Breaker().Tripped(), "congestion must not trip the breaker")

	// A retry after the limiter clears goes straight through.
	primary.err = nil
	q, err := o.AskQuestion(context.Background(), core.AskQuestionInput{Topic: "dns"})
	require.NoError(t, err)
	require.Equal(t, "from primary", q.Question)
}

func TestThrottledPrimaryWithNilFallbackIsRateLimit(t *testing.T) {
	primary := &stubProvider{name: "primary", err: &throttleErr{provider: "primary"}}
	o := newOrchestrator(primary, nil)

	_, err := o.DetectError(context.Background(), core.DetectErrorInput{Utterance: "x"})
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.CodeLLMRateLimited, coreErr.Code)
	require.False(t, o.Breaker().Tripped())
}

func TestThrottledPrimaryWithDeadFallbackIsTotalFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", err: &throttleErr{provider: "primary"}}
	fallback := &stubProvider{name: "fallback", err: errors.New("f down")}
	o := newOrchestrator(primary, fallback)

	_, err := o.Summarize(context.Background(), core.SummarizeInput{})
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.CodeAllLLMsFailed, coreErr.Code)
	require.True(t, o.Breaker().Tripped())
}

func TestNilFallbackMeansPrimaryFailureIsTotal(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("down")}
	o := newOrchestrator(primary, nil)

	_, err := o.DetectError(context.Background(), core.DetectErrorInput{Utterance: "x"})
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.CodeAllLLMsFailed, coreErr.Code)
	require.True(t, o.Breaker().Tripped())
}
