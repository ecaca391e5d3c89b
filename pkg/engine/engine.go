// Package engine composes the teach-back subsystems into one service: plan
// resolution, quota admission, the per-session state machines, the LLM
// orchestrator, voice normalization, durable storage and retention. The
// gateway talks to this package only.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/engine/orchestrator"
	"github.com/luminalearn/teachback/pkg/engine/plans"
	"github.com/luminalearn/teachback/pkg/engine/retention"
	"github.com/luminalearn/teachback/pkg/engine/session"
	"github.com/luminalearn/teachback/pkg/engine/sessions"
	"github.com/luminalearn/teachback/pkg/engine/store"
	"github.com/luminalearn/teachback/pkg/engine/voice"
)

// Deps wires a Service.
type Deps struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Voice        *voice.Processor
	Limiter      session.Admitter
	Resolver     plans.Resolver
	Enforcer     *retention.Enforcer
	Sync         session.ProgressSync // optional
	Logger       *slog.Logger
	Session      session.Config
}

// Service owns the live machines and the admin-facing engine state.
type Service struct {
	deps     Deps
	registry *sessions.Registry
	enabled  atomic.Bool

	mu           sync.Mutex
	overrides    map[string]string // userID → plan name, admin-set
	unregistered map[string]func()
}

// NewService builds a Service with the teach-back feature enabled.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Service{
		deps:         deps,
		registry:     sessions.NewRegistry(),
		overrides:    make(map[string]string),
		unregistered: make(map[string]func()),
	}
	s.enabled.Store(true)
	return s
}

// Registry exposes the live-session index, for shutdown draining.
func (s *Service) Registry() *sessions.Registry { return s.registry }

// Breaker exposes the maintenance flag, for admin and health handlers.
func (s *Service) Breaker() *orchestrator.Breaker { return s.deps.Orchestrator.Breaker() }

// FeatureEnabled reports whether teach-back accepts new sessions.
func (s *Service) FeatureEnabled() bool { return s.enabled.Load() }

// SetFeatureEnabled toggles the feature, admin-only.
func (s *Service) SetFeatureEnabled(on bool) { s.enabled.Store(on) }

// QuotaOverride returns the admin-set plan override for a user, if any.
func (s *Service) QuotaOverride(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.overrides[userID]
	return name, ok
}

// SetQuotaOverride pins a user to a plan's ceilings regardless of billing.
// An empty plan name removes the override.
func (s *Service) SetQuotaOverride(userID, plan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan == "" {
		delete(s.overrides, userID)
		return
	}
	s.overrides[userID] = plan
}

// ResolvePlan maps a user to their effective plan: admin override first,
// then billing.
func (s *Service) ResolvePlan(ctx context.Context, userID string) plans.Plan {
	if name, ok := s.QuotaOverride(userID); ok {
		return plans.ByName(name)
	}
	plan, err := s.deps.Resolver.Resolve(ctx, userID)
	if err != nil {
		s.deps.Logger.Warn("plan resolution failed, using free",
			"user_id", userID,
			"error", err,
		)
		return plans.ByName(plans.PlanFree)
	}
	return plan
}

// CreateSession builds, admits and starts a new session machine.
func (s *Service) CreateSession(ctx context.Context, userID, topic string, input, output store.Mode) (store.Session, error) {
	if !s.enabled.Load() {
		return store.Session{}, core.New(core.CodeFeatureDisabled)
	}

	plan := s.ResolvePlan(ctx, userID)
	m := session.New(userID, topic, input, output, session.Deps{
		Store:        s.deps.Store,
		Orchestrator: s.deps.Orchestrator,
		Voice:        s.deps.Voice,
		Limiter:      s.deps.Limiter,
		Plan:         plan,
		Sync:         s.deps.Sync,
		Logger:       s.deps.Logger,
		Config:       s.deps.Session,
	})
	if err := m.Start(ctx); err != nil {
		return store.Session{}, err
	}

	unregister := s.registry.Register(m)
	snap := m.Session()
	s.mu.Lock()
	s.unregistered[snap.ID] = unregister
	s.mu.Unlock()
	return snap, nil
}

// SubmitTurn routes one learner utterance to its live machine.
func (s *Service) SubmitTurn(ctx context.Context, sessionID, userID string, in voice.TurnInput) (*session.TurnResult, error) {
	m, err := s.registry.Get(sessionID, userID)
	if err != nil {
		return nil, err
	}
	return m.SubmitTurn(ctx, in)
}

// Acknowledge resumes a session from a correction.
func (s *Service) Acknowledge(ctx context.Context, sessionID, userID string) error {
	m, err := s.registry.Get(sessionID, userID)
	if err != nil {
		return err
	}
	return m.Acknowledge(ctx)
}

// FinishTeaching ends the teaching phase and returns the exam questions.
func (s *Service) FinishTeaching(ctx context.Context, sessionID, userID string) ([]store.ExaminationQA, error) {
	m, err := s.registry.Get(sessionID, userID)
	if err != nil {
		return nil, err
	}
	return m.FinishTeaching(ctx)
}

// SubmitAnswer grades one exam answer; the final answer completes the
// session and releases the machine.
func (s *Service) SubmitAnswer(ctx context.Context, sessionID, userID, answer string) (*session.AnswerResult, error) {
	m, err := s.registry.Get(sessionID, userID)
	if err != nil {
		return nil, err
	}
	result, err := m.SubmitAnswer(ctx, answer)
	if err == nil && result.State == session.StateCompleted {
		s.release(sessionID)
	}
	return result, err
}

// Abort ends a session early and releases the machine.
func (s *Service) Abort(ctx context.Context, sessionID, userID string) error {
	m, err := s.registry.Get(sessionID, userID)
	if err != nil {
		return err
	}
	if err := m.Abort(ctx); err != nil {
		return err
	}
	s.release(sessionID)
	return nil
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	unregister := s.unregistered[sessionID]
	delete(s.unregistered, sessionID)
	s.mu.Unlock()
	if unregister != nil {
		unregister()
	}
}

// SessionDetail is a stored session with its children, for the read
// endpoint.
type SessionDetail struct {
	Session      store.Session           `json:"session"`
	Transcript   []store.TranscriptEntry `json:"transcript"`
	Errors       []store.DetectedError   `json:"errors"`
	Examinations []store.ExaminationQA   `json:"examinations"`
	Summary      *store.SessionSummary   `json:"summary,omitempty"`
}

// GetSession loads a session and all its artifacts. Sessions belong to one
// user; anyone else gets NOT_FOUND.
func (s *Service) GetSession(ctx context.Context, sessionID, userID string) (*SessionDetail, error) {
	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, core.Newf(core.CodeNotFound, "no session %s", sessionID)
	}

	detail := &SessionDetail{Session: *sess}
	if detail.Transcript, err = s.deps.Store.ListTranscript(ctx, sessionID); err != nil {
		return nil, err
	}
	if detail.Errors, err = s.deps.Store.ListDetectedErrors(ctx, sessionID); err != nil {
		return nil, err
	}
	if detail.Examinations, err = s.deps.Store.ListExaminations(ctx, sessionID); err != nil {
		return nil, err
	}
	switch summary, err := s.deps.Store.GetSummary(ctx, sessionID); {
	case err == nil:
		detail.Summary = summary
	case core.HasCode(err, core.CodeNotFound):
		// Not every session has reached a summary yet.
	default:
		return nil, err
	}
	return detail, nil
}

// PlanChanged reacts to a billing plan change; a downgrade runs the
// retention cleanup immediately.
func (s *Service) PlanChanged(ctx context.Context, userID, oldPlan, newPlan string) (retention.Report, error) {
	if s.deps.Enforcer == nil {
		return retention.Report{}, nil
	}
	return s.deps.Enforcer.PlanChanged(ctx, userID, oldPlan, newPlan)
}

// Monitoring is the admin snapshot of engine health.
type Monitoring struct {
	FeatureEnabled bool      `json:"feature_enabled"`
	ActiveSessions int       `json:"active_sessions"`
	Maintenance    bool      `json:"maintenance"`
	BreakerReason  string    `json:"breaker_reason,omitempty"`
	BreakerSince   time.Time `json:"breaker_since,omitzero"`
	QuotaOverrides int       `json:"quota_overrides"`
}

// Monitor returns the current engine snapshot.
func (s *Service) Monitor() Monitoring {
	tripped, reason, at := s.Breaker().Status()
	s.mu.Lock()
	overrides := len(s.overrides)
	s.mu.Unlock()
	return Monitoring{
		FeatureEnabled: s.enabled.Load(),
		ActiveSessions: s.registry.Count(),
		Maintenance:    tripped,
		BreakerReason:  reason,
		BreakerSince:   at,
		QuotaOverrides: overrides,
	}
}
