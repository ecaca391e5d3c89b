// Package store provides durable persistence for teach-back session
// artifacts. Saving then retrieving any entity returns a value equal on all
// semantic fields: enums, nullable fields, and list ordering survive the
// round trip.
package store

import (
	"time"

	"github.com/luminalearn/teachback/pkg/core"
)

// Mode is a session I/O mode.
type Mode string

const (
	ModeText  Mode = "text"
	ModeVoice Mode = "voice"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerSystem Speaker = "system"
)

// Session is one teach-back session. Owned exclusively by one user, mutated
// only by the state machine, deleted only by the retention enforcer.
type Session struct {
	ID         string
	UserID     string
	Topic      string // optional
	InputMode  Mode
	OutputMode Mode
	State      string
	StartedAt  time.Time
	EndedAt    *time.Time // nil until the session closes
}

// TranscriptEntry is one utterance. Append-only; ordering by Timestamp is
// significant.
type TranscriptEntry struct {
	ID        string
	SessionID string
	Speaker   Speaker
	Content   string
	IsVoice   bool
	Timestamp time.Time
}

// DetectedError is one conceptual error the tutor interrupted on.
// Append-only.
type DetectedError struct {
	ID         string
	SessionID  string
	ErrorText  string
	Correction string
	Context    string // optional
	Severity   core.Severity
	DetectedAt time.Time
}

// ExaminationQA is one oral-exam exchange. UserAnswer, Evaluation and Score
// stay nil until the learner answers and the grader runs. Score is 0-10.
type ExaminationQA struct {
	ID         string
	SessionID  string
	Question   string
	UserAnswer *string
	Evaluation *string
	Score      *int
	AskedAt    time.Time
}

// SessionSummary is the aggregate outcome of a session. It may outlive the
// session's detail rows, and the session row itself, once retention runs.
// OverallScore is 0-100.
type SessionSummary struct {
	ID              string
	SessionID       string
	UserID          string
	TotalErrors     int
	MissedConcepts  []string
	StrongAreas     []string
	Recommendations []string
	OverallScore    int
	CreatedAt       time.Time
}

// AuditEntry records an administrative or retention action.
type AuditEntry struct {
	ID         string
	Actor      string
	ActionType string
	TargetType string
	TargetID   string
	Details    map[string]any
	Timestamp  time.Time
}
