// Package orchestrator routes tutoring role calls across providers: primary
// first, fallback second, never in parallel so no turn is billed twice. Total
// failure trips the process-wide maintenance breaker.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/luminalearn/teachback/pkg/core"
)

// Config bounds each provider call.
type Config struct {
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
}

// Orchestrator fans role calls over a primary and a fallback provider.
type Orchestrator struct {
	primary  core.Provider
	fallback core.Provider
	breaker  *Breaker
	logger   *slog.Logger
	cfg      Config
}

// New creates an Orchestrator. fallback may be nil, in which case a primary
// failure is already total failure.
func New(primary, fallback core.Provider, breaker *Breaker, logger *slog.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = 30 * time.Second
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = 30 * time.Second
	}
	return &Orchestrator{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		logger:   logger,
		cfg:      cfg,
	}
}

// Breaker exposes the maintenance flag for admin handlers and health probes.
func (o *Orchestrator) Breaker() *Breaker {
	return o.breaker
}

// DetectError runs the listener/error-detector role.
func (o *Orchestrator) DetectError(ctx context.Context, in core.DetectErrorInput) (*core.ErrorReport, error) {
	return call(ctx, o, "detect_error", func(ctx context.Context, p core.Provider) (*core.ErrorReport, error) {
		return p.DetectError(ctx, in)
	})
}

// AskQuestion runs the examiner role to produce the next question.
func (o *Orchestrator) AskQuestion(ctx context.Context, in core.AskQuestionInput) (*core.ExamQuestion, error) {
	return call(ctx, o, "ask_question", func(ctx context.Context, p core.Provider) (*core.ExamQuestion, error) {
		return p.AskQuestion(ctx, in)
	})
}

// GradeAnswer runs the examiner role to evaluate one answer.
func (o *Orchestrator) GradeAnswer(ctx context.Context, in core.GradeAnswerInput) (*core.AnswerGrade, error) {
	return call(ctx, o, "grade_answer", func(ctx context.Context, p core.Provider) (*core.AnswerGrade, error) {
		return p.GradeAnswer(ctx, in)
	})
}

// Summarize runs the summarizer role.
func (o *Orchestrator) Summarize(ctx context.Context, in core.SummarizeInput) (*core.SummaryResult, error) {
	return call(ctx, o, "summarize", func(ctx context.Context, p core.Provider) (*core.SummaryResult, error) {
		return p.Summarize(ctx, in)
	})
}

// call runs one role invocation: refuse under maintenance, try primary, then
// fallback, then trip the breaker. Provider calls are sequential and each is
// bounded by its own timeout.
func call[T any](ctx context.Context, o *Orchestrator, role string, fn func(context.Context, core.Provider) (*T, error)) (*T, error) {
	if o.breaker.Tripped() {
		err := core.New(core.CodeMaintenanceMode)
		err.FallbackActive = true
		return nil, err
	}

	primaryCtx, cancel := context.WithTimeout(ctx, o.cfg.PrimaryTimeout)
	out, primaryErr := fn(primaryCtx, o.primary)
	cancel()
	if primaryErr == nil {
		return out, nil
	}

	// The caller aborting is not a provider failure; don't burn the
	// fallback or the breaker on it.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	o.logger.Warn("primary provider failed",
		"role", role,
		"provider", o.primary.Name(),
		"error", primaryErr,
	)

	var fallbackErr error
	if o.fallback != nil {
		fallbackCtx, cancel := context.WithTimeout(ctx, o.cfg.FallbackTimeout)
		out, fallbackErr = fn(fallbackCtx, o.fallback)
		cancel()
		if fallbackErr == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Warn("fallback provider failed",
			"role", role,
			"provider", o.fallback.Name(),
			"error", fallbackErr,
		)
	}

	// Every leg being throttled is congestion, not an outage: surface a
	// retryable rate-limit error and leave the breaker alone.
	if rateLimited(primaryErr) && (o.fallback == nil || rateLimited(fallbackErr)) {
		err := core.Wrap(core.CodeLLMRateLimited, errors.Join(primaryErr, fallbackErr))
		err.FallbackActive = true
		return nil, err
	}

	if o.breaker.Trip("all providers failed on " + role) {
		o.logger.Error("all providers failed, entering maintenance mode", "role", role)
	}

	err := core.Wrap(core.CodeAllLLMsFailed, errors.Join(primaryErr, fallbackErr))
	err.FallbackActive = true
	return nil, err
}

// rateLimited reports whether a provider rejected the call for rate limits,
// via the IsRateLimit method the provider error types expose.
func rateLimited(err error) bool {
	var rl interface{ IsRateLimit() bool }
	return errors.As(err, &rl) && rl.IsRateLimit()
}
