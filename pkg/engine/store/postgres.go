package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luminalearn/teachback/pkg/core"
)

// Postgres is the production Store, backed by a pgx connection pool.
// Schema lives in the goose migrations under migrations/.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Store on an existing pool. The caller owns the pool's
// lifetime; Close here is a no-op so the pool can be shared.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) SaveSession(ctx context.Context, s *Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, topic, input_mode, output_mode, state, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			input_mode = EXCLUDED.input_mode,
			output_mode = EXCLUDED.output_mode,
			ended_at = EXCLUDED.ended_at`,
		s.ID, s.UserID, s.Topic, string(s.InputMode), string(s.OutputMode), s.State, s.StartedAt, s.EndedAt,
	)
	if err != nil {
		return core.Wrap(core.CodeDatabaseError, err)
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, topic, input_mode, output_mode, state, started_at, ended_at
		FROM sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.UserID, &s.Topic, &s.InputMode, &s.OutputMode, &s.State, &s.StartedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.New(core.CodeNotFound).WithDetail("session_id", id)
	}
	if err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	return &s, nil
}

func (p *Postgres) SaveTranscriptEntry(ctx context.Context, e *TranscriptEntry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO transcripts (id, session_id, speaker, content, is_voice, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content`,
		e.ID, e.SessionID, string(e.Speaker), e.Content, e.IsVoice, e.Timestamp,
	)
	if err != nil {
		return core.Wrap(core.CodeDatabaseError, err)
	}
	return nil
}

func (p *Postgres) ListTranscript(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, speaker, content, is_voice, ts
		FROM transcripts WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	defer rows.Close()

	var out []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Speaker, &e.Content, &e.IsVoice, &e.Timestamp); err != nil {
			return nil, core.Wrap(core.CodeDatabaseError, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	return out, nil
}

func (p *Postgres) SaveDetectedError(ctx context.Context, d *DetectedError) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO errors (id, session_id, error_text, correction, context, severity, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.SessionID, d.ErrorText, d.Correction, d.Context, string(d.Severity), d.DetectedAt,
	)
	if err != nil {
		return core.Wrap(core.CodeDatabaseError, err)
	}
	return nil
}

func (p *Postgres) ListDetectedErrors(ctx context.Context, sessionID string) ([]DetectedError, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, error_text, correction, context, severity, detected_at
		FROM errors WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	defer rows.Close()

	var out []DetectedError
	for rows.Next() {
		var d DetectedError
		if err := rows.Scan(&d.ID, &d.SessionID, &d.ErrorText, &d.Correction, &d.Context, &d.Severity, &d.DetectedAt); err != nil {
			return nil, core.Wrap(core.CodeDatabaseError, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	return out, nil
}

func (p *Postgres) SaveExamination(ctx context.Context, qa *ExaminationQA) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO examinations (id, session_id, question, user_answer, evaluation, score, asked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			user_answer = EXCLUDED.user_answer,
			evaluation = EXCLUDED.evaluation,
			score = EXCLUDED.score`,
		qa.ID, qa.SessionID, qa.Question, qa.UserAnswer, qa.Evaluation, qa.Score, qa.AskedAt,
	)
	if err != nil {
		return core.Wrap(core.CodeDatabaseError, err)
	}
	return nil
}

func (p *Postgres) ListExaminations(ctx context.Context, sessionID string) ([]ExaminationQA, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, question, user_answer, evaluation, score, asked_at
		FROM examinations WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	defer rows.Close()

	var out []ExaminationQA
	for rows.Next() {
		var qa ExaminationQA
		if err := rows.Scan(&qa.ID, &qa.SessionID, &qa.Question, &qa.UserAnswer, &qa.Evaluation, &qa.Score, &qa.AskedAt); err != nil {
			return nil, core.Wrap(core.CodeDatabaseError, err)
		}
		out = append(out, qa)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	return out, nil
}

func (p *Postgres) SaveSummary(ctx context.Context, s *SessionSummary) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO summaries (id, session_id, user_id, total_errors, missed_concepts, strong_areas, recommendations, overall_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO NOTHING`,
		s.ID, s.SessionID, s.UserID, s.TotalErrors, s.MissedConcepts, s.StrongAreas, s.Recommendations, s.OverallScore, s.CreatedAt,
	)
	if err != nil {
		return core.Wrap(core.CodeDatabaseError, err)
	}
	return nil
}

func (p *Postgres) GetSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	var s SessionSummary
	err := p.pool.QueryRow(ctx, `
		SELECT id, session_id, user_id, total_errors, missed_concepts, strong_areas, recommendations, overall_score, created_at
		FROM summaries WHERE session_id = $1`, sessionID,
	).Scan(&s.ID, &s.SessionID, &s.UserID, &s.TotalErrors, &s.MissedConcepts, &s.StrongAreas, &s.Recommendations, &s.OverallScore, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.New(core.CodeNotFound).WithDetail("session_id", sessionID)
	}
	if err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	return &s, nil
}

func (p *Postgres) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT user_id FROM sessions ORDER BY user_id`)
	if err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, core.Wrap(core.CodeDatabaseError, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	return out, nil
}

func (p *Postgres) ListSessionsStartedBefore(ctx context.Context, userID string, cutoff time.Time) ([]Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, topic, input_mode, output_mode, state, started_at, ended_at
		FROM sessions WHERE user_id = $1 AND started_at < $2 ORDER BY started_at`, userID, cutoff)
	if err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.Topic, &s.InputMode, &s.OutputMode, &s.State, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, core.Wrap(core.CodeDatabaseError, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.CodeDatabaseError, err)
	}
	return out, nil
}

// PurgeSession runs all deletes for one session in a single transaction so a
// crash mid-cleanup cannot orphan child rows. Summaries are left in place.
func (p *Postgres) PurgeSession(ctx context.Context, sessionID string) (PurgeCounts, error) {
	var counts PurgeCounts

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return counts, core.Wrap(core.CodeDatabaseError, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM transcripts WHERE session_id = $1`, sessionID)
	if err != nil {
		return counts, core.Wrap(core.CodeDatabaseError, err)
	}
	counts.Transcripts = int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, `DELETE FROM errors WHERE session_id = $1`, sessionID)
	if err != nil {
		return counts, core.Wrap(core.CodeDatabaseError, err)
	}
	counts.Errors = int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, `DELETE FROM examinations WHERE session_id = $1`, sessionID)
	if err != nil {
		return counts, core.Wrap(core.CodeDatabaseError, err)
	}
	counts.Examinations = int(tag.RowsAffected())

	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM summaries WHERE session_id = $1)`, sessionID).Scan(&counts.SummaryPreserved)
	if err != nil {
		return counts, core.Wrap(core.CodeDatabaseError, err)
	}

	tag, err = tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return counts, core.Wrap(core.CodeDatabaseError, err)
	}
	counts.SessionDeleted = tag.RowsAffected() > 0

	if err := tx.Commit(ctx); err != nil {
		return PurgeCounts{}, core.Wrap(core.CodeDatabaseError, err)
	}
	return counts, nil
}

func (p *Postgres) SaveAuditEntry(ctx context.Context, e *AuditEntry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor, action_type, target_type, target_id, details, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Actor, e.ActionType, e.TargetType, e.TargetID, e.Details, e.Timestamp,
	)
	if err != nil {
		return core.Wrap(core.CodeDatabaseError, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return nil
}

var _ Store = (*Postgres)(nil)
