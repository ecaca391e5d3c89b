package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/luminalearn/teachback/pkg/engine/plans"
	"github.com/luminalearn/teachback/pkg/engine/store"
)

// Report aggregates what one enforcement run removed.
type Report struct {
	UsersProcessed     int `json:"users_processed"`
	SessionsDeleted    int `json:"sessions_deleted"`
	Transcripts        int `json:"transcripts_deleted"`
	Errors             int `json:"errors_deleted"`
	Examinations       int `json:"examinations_deleted"`
	SummariesPreserved int `json:"summaries_preserved"`
}

func (r *Report) add(c store.PurgeCounts) {
	if c.SessionDeleted {
		r.SessionsDeleted++
	}
	r.Transcripts += c.Transcripts
	r.Errors += c.Errors
	r.Examinations += c.Examinations
	if c.SummaryPreserved {
		r.SummariesPreserved++
	}
}

func (r *Report) merge(o Report) {
	r.UsersProcessed += o.UsersProcessed
	r.SessionsDeleted += o.SessionsDeleted
	r.Transcripts += o.Transcripts
	r.Errors += o.Errors
	r.Examinations += o.Examinations
	r.SummariesPreserved += o.SummariesPreserved
}

// Enforcer applies the retention policy against the store.
type Enforcer struct {
	store    store.Store
	resolver plans.Resolver
	policy   Policy
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// NewEnforcer builds an Enforcer over st using resolver to map users to
// plans.
func NewEnforcer(st store.Store, resolver plans.Resolver, policy Policy, logger *slog.Logger, opts ...Option) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enforcer{store: st, resolver: resolver, policy: policy, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one full batch over every user with stored sessions. A
// storage error aborts the batch; users already processed stay cleaned and
// re-running is safe.
func (e *Enforcer) Run(ctx context.Context) (Report, error) {
	start := e.now()
	userIDs, err := e.store.ListUserIDs(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, userID := range userIDs {
		userReport, err := e.CleanupUser(ctx, userID)
		if err != nil {
			return report, err
		}
		report.merge(userReport)
	}
	e.logger.Info("retention run finished",
		"users", report.UsersProcessed,
		"sessions_deleted", report.SessionsDeleted,
		"summaries_preserved", report.SummariesPreserved,
		"elapsed", e.now().Sub(start),
	)
	return report, nil
}

// CleanupUser purges one user's sessions older than their plan's cutoff.
func (e *Enforcer) CleanupUser(ctx context.Context, userID string) (Report, error) {
	plan, err := e.resolver.Resolve(ctx, userID)
	if err != nil {
		// Plan lookup failures fall back to the shortest window rather
		// than skipping the user.
		e.logger.Warn("plan resolution failed, using free retention",
			"user_id", userID,
			"error", err,
		)
		plan = plans.ByName(plans.PlanFree)
	}
	return e.cleanupWithPlan(ctx, userID, plan.Name)
}

// PlanChanged reacts to a billing plan change. A downgrade to a shorter
// retention window cleans up immediately; an upgrade does nothing, existing
// data is not resurrected.
func (e *Enforcer) PlanChanged(ctx context.Context, userID, oldPlan, newPlan string) (Report, error) {
	if e.policy.Days(newPlan) >= e.policy.Days(oldPlan) {
		return Report{}, nil
	}
	e.logger.Info("plan downgrade, running immediate cleanup",
		"user_id", userID,
		"old_plan", oldPlan,
		"new_plan", newPlan,
	)
	return e.cleanupWithPlan(ctx, userID, newPlan)
}

func (e *Enforcer) cleanupWithPlan(ctx context.Context, userID, planName string) (Report, error) {
	days := e.policy.Days(planName)
	cutoff := e.now().AddDate(0, 0, -days)

	sessions, err := e.store.ListSessionsStartedBefore(ctx, userID, cutoff)
	if err != nil {
		return Report{}, err
	}

	report := Report{UsersProcessed: 1}
	for _, s := range sessions {
		counts, err := e.store.PurgeSession(ctx, s.ID)
		if err != nil {
			return report, err
		}
		report.add(counts)
		if e.policy.LogDeletions {
			entry := store.AuditEntry{
				ID:         uuid.NewString(),
				Actor:      "retention-enforcer",
				ActionType: "session_purge",
				TargetType: "session",
				TargetID:   s.ID,
				Details: map[string]any{
					"user_id":           userID,
					"plan":              planName,
					"cutoff":            cutoff.Format(time.RFC3339),
					"transcripts":       counts.Transcripts,
					"errors":            counts.Errors,
					"examinations":      counts.Examinations,
					"summary_preserved": counts.SummaryPreserved,
				},
				Timestamp: e.now(),
			}
			if err := e.store.SaveAuditEntry(ctx, &entry); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// Preview reports what a Run would delete right now, without touching
// anything. Admins use it to check a policy change before the next
// scheduled batch.
func (e *Enforcer) Preview(ctx context.Context) (Report, error) {
	userIDs, err := e.store.ListUserIDs(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, userID := range userIDs {
		plan, err := e.resolver.Resolve(ctx, userID)
		if err != nil {
			plan = plans.ByName(plans.PlanFree)
		}
		cutoff := e.now().AddDate(0, 0, -e.policy.Days(plan.Name))
		sessions, err := e.store.ListSessionsStartedBefore(ctx, userID, cutoff)
		if err != nil {
			return report, err
		}
		report.UsersProcessed++
		for _, s := range sessions {
			report.SessionsDeleted++
			if transcript, err := e.store.ListTranscript(ctx, s.ID); err == nil {
				report.Transcripts += len(transcript)
			}
			if errs, err := e.store.ListDetectedErrors(ctx, s.ID); err == nil {
				report.Errors += len(errs)
			}
			if exams, err := e.store.ListExaminations(ctx, s.ID); err == nil {
				report.Examinations += len(exams)
			}
			if e.policy.PreserveSummaries {
				if _, err := e.store.GetSummary(ctx, s.ID); err == nil {
					report.SummariesPreserved++
				}
			}
		}
	}
	return report, nil
}

// Schedule runs the batch daily until ctx ends. The first run happens after
// one interval, not immediately, so a crash-looping process doesn't hammer
// the store.
func (e *Enforcer) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Run(ctx); err != nil {
				e.logger.Error("retention run failed", "error", err)
			}
		}
	}
}
