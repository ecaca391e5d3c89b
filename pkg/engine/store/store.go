package store

import (
	"context"
	"time"
)

// Store is the durable persistence contract for session artifacts.
//
// Save operations upsert by ID, so re-saving an entity (e.g. an
// ExaminationQA after grading) updates it in place, while saves under new
// IDs accumulate. List operations return entries in save order. Within one
// session, callers submit writes sequentially; the store keeps that order.
type Store interface {
	SaveSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)

	SaveTranscriptEntry(ctx context.Context, e *TranscriptEntry) error
	ListTranscript(ctx context.Context, sessionID string) ([]TranscriptEntry, error)

	SaveDetectedError(ctx context.Context, d *DetectedError) error
	ListDetectedErrors(ctx context.Context, sessionID string) ([]DetectedError, error)

	SaveExamination(ctx context.Context, qa *ExaminationQA) error
	ListExaminations(ctx context.Context, sessionID string) ([]ExaminationQA, error)

	SaveSummary(ctx context.Context, s *SessionSummary) error
	GetSummary(ctx context.Context, sessionID string) (*SessionSummary, error)

	// ListUserIDs returns the distinct owners of stored sessions; the
	// retention enforcer iterates these.
	ListUserIDs(ctx context.Context) ([]string, error)

	// ListSessionsStartedBefore returns a user's sessions with
	// started_at < cutoff, oldest first.
	ListSessionsStartedBefore(ctx context.Context, userID string, cutoff time.Time) ([]Session, error)

	// PurgeSession deletes a session's transcript, error and examination
	// rows plus the session row itself, atomically where the backend
	// supports it. The summary is never touched; the returned counts
	// report whether one exists. Purging an absent session is a no-op
	// with zero counts, so re-running a partially completed batch is safe.
	PurgeSession(ctx context.Context, sessionID string) (PurgeCounts, error)

	SaveAuditEntry(ctx context.Context, e *AuditEntry) error

	Close() error
}

// PurgeCounts reports what one PurgeSession call removed.
type PurgeCounts struct {
	SessionDeleted   bool
	Transcripts      int
	Errors           int
	Examinations     int
	SummaryPreserved bool
}
