package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/engine/plans"
)

func setupLimiter(t *testing.T, now func() time.Time) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, WithClock(now))
}

func codeOf(t *testing.T, err error) core.Code {
	t.Helper()
	var coreErr *core.Error
	require.True(t, errors.As(err, &coreErr), "expected *core.Error, got %v", err)
	return coreErr.Code
}

func TestAdmitSession_CeilingEnforced(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	l := setupLimiter(t, func() time.Time { return now })
	ctx := context.Background()
	plan := plans.Plan{Name: "free", TextSessionsPerDay: 5}

	for i := 0; i < 5; i++ {
		require.NoError(t, l.AdmitSession(ctx, "u1", plan), "admission %d", i+1)
	}

	err := l.AdmitSession(ctx, "u1", plan)
	require.Equal(t, core.CodeQuotaExceeded, codeOf(t, err))

	// The rejected attempt must not inflate the counter.
	sessions, _, err := l.Usage(ctx, "u1")
	require.NoError(t, err)
	require.EqualValues(t, 5, sessions)
}

func TestAdmitSession_ResetsAtDayBoundary(t *testing.T) {
	now := time.Date(2026, 8, 28, 23, 59, 0, 0, time.UTC)
	clock := &now
	l := setupLimiter(t, func() time.Time { return *clock })
	ctx := context.Background()
	plan := plans.Plan{Name: "free", TextSessionsPerDay: 5}

	for i := 0; i < 5; i++ {
		require.NoError(t, l.AdmitSession(ctx, "u1", plan))
	}
	err := l.AdmitSession(ctx, "u1", plan)
	require.Equal(t, core.CodeQuotaExceeded, codeOf(t, err))

	next := now.Add(2 * time.Minute) // past midnight UTC
	clock = &next
	require.NoError(t, l.AdmitSession(ctx, "u1", plan))
}

func TestVoiceQuotaIsIndependent(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	l := setupLimiter(t, func() time.Time { return now })
	ctx := context.Background()
	plan := plans.Plan{Name: "free", TextSessionsPerDay: 1, VoiceTurnsPerDay: 2}

	require.NoError(t, l.AdmitSession(ctx, "u1", plan))
	err := l.AdmitSession(ctx, "u1", plan)
	require.Equal(t, core.CodeQuotaExceeded, codeOf(t, err))

	// Session exhaustion leaves voice turns untouched.
	require.NoError(t, l.AdmitVoiceTurn(ctx, "u1", plan))
	require.NoError(t, l.AdmitVoiceTurn(ctx, "u1", plan))
	err = l.AdmitVoiceTurn(ctx, "u1", plan)
	require.Equal(t, core.CodeVoiceQuotaExceeded, codeOf(t, err))
}

func TestQuotaIsPerUser(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	l := setupLimiter(t, func() time.Time { return now })
	ctx := context.Background()
	plan := plans.Plan{Name: "free", TextSessionsPerDay: 1}

	require.NoError(t, l.AdmitSession(ctx, "u1", plan))
	require.NoError(t, l.AdmitSession(ctx, "u2", plan))
}

func TestConcurrentAdmissionsNeverOvershoot(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	l := setupLimiter(t, func() time.Time { return now })
	plan := plans.Plan{Name: "free", TextSessionsPerDay: 5}

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.AdmitSession(context.Background(), "u1", plan); err == nil {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	require.Len(t, admitted, 5)
}

func TestCheckDuration(t *testing.T) {
	start := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	now := start.Add(20 * time.Minute)
	l := setupLimiter(t, func() time.Time { return now })
	plan := plans.Plan{Name: "free", MaxSessionDuration: 15 * time.Minute}

	err := l.CheckDuration(start, plan)
	require.Equal(t, core.CodeSessionDurationExceeded, codeOf(t, err))
	require.NoError(t, l.CheckDuration(now.Add(-10*time.Minute), plan))
}
