// Package quota enforces the teach-back engine's own per-plan daily quotas,
// independent of the platform's other feature limits. Counters live in Redis
// keyed by (user, mode, day); INCR keeps check-and-increment atomic so two
// concurrent requests can never both squeeze under the ceiling.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/engine/plans"
)

// keyTTL keeps yesterday's counters around briefly for monitoring, then
// lets Redis expire them.
const keyTTL = 48 * time.Hour

// Limiter tracks per-user, per-mode, per-day usage against plan ceilings.
type Limiter struct {
	rdb redis.Cmdable
	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (used in tests to cross day
// boundaries).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter on the given Redis client.
func New(rdb redis.Cmdable, opts ...Option) *Limiter {
	l := &Limiter{rdb: rdb, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AdmitSession consumes one unit of the user's daily session quota, or
// returns QUOTA_EXCEEDED without consuming anything.
func (l *Limiter) AdmitSession(ctx context.Context, userID string, plan plans.Plan) error {
	return l.admit(ctx, userID, "sessions", plan.TextSessionsPerDay, core.CodeQuotaExceeded)
}

// AdmitVoiceTurn consumes one unit of the user's daily voice quota, or
// returns VOICE_QUOTA_EXCEEDED without consuming anything.
func (l *Limiter) AdmitVoiceTurn(ctx context.Context, userID string, plan plans.Plan) error {
	return l.admit(ctx, userID, "voice", plan.VoiceTurnsPerDay, core.CodeVoiceQuotaExceeded)
}

// CheckDuration reports SESSION_DURATION_EXCEEDED once a session has run
// past its plan's ceiling. Callers invoke this at every check point; the
// state machine reacts by forcing the session into examination.
func (l *Limiter) CheckDuration(startedAt time.Time, plan plans.Plan) error {
	if plan.MaxSessionDuration <= 0 {
		return nil
	}
	elapsed := l.now().Sub(startedAt)
	if elapsed <= plan.MaxSessionDuration {
		return nil
	}
	return core.New(core.CodeSessionDurationExceeded).
		WithDetail("elapsed_seconds", int(elapsed.Seconds())).
		WithDetail("limit_seconds", int(plan.MaxSessionDuration.Seconds()))
}

// Usage returns today's counters for monitoring.
func (l *Limiter) Usage(ctx context.Context, userID string) (sessions, voice int64, err error) {
	day := l.day()
	sessions, err = l.rdb.Get(ctx, l.key(userID, "sessions", day)).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, core.Wrap(core.CodeDatabaseError, err)
	}
	voice, err = l.rdb.Get(ctx, l.key(userID, "voice", day)).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, core.Wrap(core.CodeDatabaseError, err)
	}
	return sessions, voice, nil
}

func (l *Limiter) admit(ctx context.Context, userID, mode string, ceiling int, overCode core.Code) error {
	if ceiling <= 0 {
		return core.New(overCode).WithDetail("limit", 0)
	}

	key := l.key(userID, mode, l.day())
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return core.Wrap(core.CodeDatabaseError, err)
	}
	if n == 1 {
		// First writer of the day owns the expiry.
		if err := l.rdb.Expire(ctx, key, keyTTL).Err(); err != nil {
			return core.Wrap(core.CodeDatabaseError, err)
		}
	}
	if n > int64(ceiling) {
		// Undo our increment so the counter stays an honest usage count.
		_ = l.rdb.Decr(ctx, key).Err()
		return core.New(overCode).
			WithDetail("limit", ceiling).
			WithDetail("used", ceiling)
	}
	return nil
}

// Unlimited is the admitter for deployments without Redis. Daily counters
// are waived but the duration ceiling still holds, since it needs no state.
type Unlimited struct{}

func (Unlimited) AdmitSession(ctx context.Context, userID string, plan plans.Plan) error {
	return nil
}

func (Unlimited) AdmitVoiceTurn(ctx context.Context, userID string, plan plans.Plan) error {
	return nil
}

func (Unlimited) CheckDuration(startedAt time.Time, plan plans.Plan) error {
	if plan.MaxSessionDuration <= 0 {
		return nil
	}
	elapsed := time.Since(startedAt)
	if elapsed <= plan.MaxSessionDuration {
		return nil
	}
	return core.New(core.CodeSessionDurationExceeded).
		WithDetail("elapsed_seconds", int(elapsed.Seconds())).
		WithDetail("limit_seconds", int(plan.MaxSessionDuration.Seconds()))
}

func (l *Limiter) day() string {
	return l.now().UTC().Format("2006-01-02")
}

func (l *Limiter) key(userID, mode, day string) string {
	return fmt.Sprintf("tb:quota:%s:%s:%s", userID, mode, day)
}
