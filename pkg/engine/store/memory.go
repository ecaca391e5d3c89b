package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/luminalearn/teachback/pkg/core"
)

// Memory is an in-process Store used by tests and single-node deployments
// without a database. All methods copy on the way in and out so callers can
// never mutate stored state through shared pointers.
type Memory struct {
	mu sync.Mutex

	sessions     map[string]*Session
	transcripts  map[string][]TranscriptEntry // keyed by session ID, in save order
	errors       map[string][]DetectedError
	examinations map[string][]ExaminationQA
	summaries    map[string]*SessionSummary // keyed by session ID
	audit        []AuditEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:     make(map[string]*Session),
		transcripts:  make(map[string][]TranscriptEntry),
		errors:       make(map[string][]DetectedError),
		examinations: make(map[string][]ExaminationQA),
		summaries:    make(map[string]*SessionSummary),
	}
}

func (m *Memory) SaveSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	if s.EndedAt != nil {
		ended := *s.EndedAt
		cp.EndedAt = &ended
	}
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, core.New(core.CodeNotFound).WithDetail("session_id", id)
	}
	cp := *s
	if s.EndedAt != nil {
		ended := *s.EndedAt
		cp.EndedAt = &ended
	}
	return &cp, nil
}

func (m *Memory) SaveTranscriptEntry(ctx context.Context, e *TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.transcripts[e.SessionID]
	for i := range entries {
		if entries[i].ID == e.ID {
			entries[i] = *e
			return nil
		}
	}
	m.transcripts[e.SessionID] = append(entries, *e)
	return nil
}

func (m *Memory) ListTranscript(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TranscriptEntry(nil), m.transcripts[sessionID]...), nil
}

func (m *Memory) SaveDetectedError(ctx context.Context, d *DetectedError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.errors[d.SessionID]
	for i := range entries {
		if entries[i].ID == d.ID {
			entries[i] = *d
			return nil
		}
	}
	m.errors[d.SessionID] = append(entries, *d)
	return nil
}

func (m *Memory) ListDetectedErrors(ctx context.Context, sessionID string) ([]DetectedError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DetectedError(nil), m.errors[sessionID]...), nil
}

func (m *Memory) SaveExamination(ctx context.Context, qa *ExaminationQA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := copyExamination(qa)
	entries := m.examinations[qa.SessionID]
	for i := range entries {
		if entries[i].ID == qa.ID {
			entries[i] = cp
			return nil
		}
	}
	m.examinations[qa.SessionID] = append(entries, cp)
	return nil
}

func (m *Memory) ListExaminations(ctx context.Context, sessionID string) ([]ExaminationQA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.examinations[sessionID]
	out := make([]ExaminationQA, 0, len(entries))
	for i := range entries {
		out = append(out, copyExamination(&entries[i]))
	}
	return out, nil
}

func (m *Memory) SaveSummary(ctx context.Context, s *SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.MissedConcepts = append([]string(nil), s.MissedConcepts...)
	cp.StrongAreas = append([]string(nil), s.StrongAreas...)
	cp.Recommendations = append([]string(nil), s.Recommendations...)
	m.summaries[s.SessionID] = &cp
	return nil
}

func (m *Memory) GetSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[sessionID]
	if !ok {
		return nil, core.New(core.CodeNotFound).WithDetail("session_id", sessionID)
	}
	cp := *s
	cp.MissedConcepts = append([]string(nil), s.MissedConcepts...)
	cp.StrongAreas = append([]string(nil), s.StrongAreas...)
	cp.Recommendations = append([]string(nil), s.Recommendations...)
	return &cp, nil
}

func (m *Memory) ListUserIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, s := range m.sessions {
		seen[s.UserID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ListSessionsStartedBefore(ctx context.Context, userID string, cutoff time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.StartedAt.Before(cutoff) {
			cp := *s
			if s.EndedAt != nil {
				ended := *s.EndedAt
				cp.EndedAt = &ended
			}
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *Memory) PurgeSession(ctx context.Context, sessionID string) (PurgeCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var counts PurgeCounts
	counts.Transcripts = len(m.transcripts[sessionID])
	counts.Errors = len(m.errors[sessionID])
	counts.Examinations = len(m.examinations[sessionID])
	_, counts.SummaryPreserved = m.summaries[sessionID]
	_, counts.SessionDeleted = m.sessions[sessionID]

	delete(m.transcripts, sessionID)
	delete(m.errors, sessionID)
	delete(m.examinations, sessionID)
	delete(m.sessions, sessionID)
	return counts, nil
}

func (m *Memory) SaveAuditEntry(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	if e.Details != nil {
		cp.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	m.audit = append(m.audit, cp)
	return nil
}

// AuditEntries returns a copy of the audit log, oldest first. Test helper.
func (m *Memory) AuditEntries() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error {
	return nil
}

func copyExamination(qa *ExaminationQA) ExaminationQA {
	cp := *qa
	if qa.UserAnswer != nil {
		v := *qa.UserAnswer
		cp.UserAnswer = &v
	}
	if qa.Evaluation != nil {
		v := *qa.Evaluation
		cp.Evaluation = &v
	}
	if qa.Score != nil {
		v := *qa.Score
		cp.Score = &v
	}
	return cp
}

var _ Store = (*Memory)(nil)
