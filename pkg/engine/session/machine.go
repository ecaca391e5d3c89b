package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/engine/orchestrator"
	"github.com/luminalearn/teachback/pkg/engine/plans"
	"github.com/luminalearn/teachback/pkg/engine/store"
	"github.com/luminalearn/teachback/pkg/engine/voice"
)

// Admitter is the quota surface the machine needs. Satisfied by
// quota.Limiter.
type Admitter interface {
	AdmitSession(ctx context.Context, userID string, plan plans.Plan) error
	AdmitVoiceTurn(ctx context.Context, userID string, plan plans.Plan) error
	CheckDuration(startedAt time.Time, plan plans.Plan) error
}

// ProgressSync pushes a completed session to downstream learning systems.
// Failures are logged, never surfaced; the session data is already durable.
type ProgressSync interface {
	SessionCompleted(ctx context.Context, s *store.Session, summary *store.SessionSummary) error
}

// Config tunes one machine.
type Config struct {
	// SeverityFloor is the minimum detected-error severity that interrupts
	// the learner. Defaults to moderate.
	SeverityFloor core.Severity

	// AckTimeout bounds how long a correction waits for acknowledgment
	// before auto-resuming. Defaults to 30s.
	AckTimeout time.Duration

	// ExamQuestions is how many questions the examination asks. Defaults
	// to 3.
	ExamQuestions int

	// StoreTimeout bounds persistence done off the request path, such as
	// the acknowledgment auto-resume. Defaults to 10s.
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SeverityFloor == "" {
		c.SeverityFloor = core.SeverityModerate
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 30 * time.Second
	}
	if c.ExamQuestions <= 0 {
		c.ExamQuestions = 3
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	return c
}

// Deps wires one machine to its collaborators.
type Deps struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Voice        *voice.Processor
	Limiter      Admitter
	Plan         plans.Plan
	Sync         ProgressSync // optional
	Logger       *slog.Logger
	Clock        func() time.Time // optional, for tests
	Config       Config
}

// Machine drives one session. All exported operations are safe for
// concurrent use; transitions on one session are strictly sequential. The
// mutex is never held across provider, voice, or store calls, so an Abort
// can land while a turn is in flight and the turn's results are discarded.
type Machine struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	session  store.Session
	history  []string // prior turn contents, oldest first
	errTexts []string // detected error texts, oldest first
	exam     []store.ExaminationQA
	ackSeq   int // invalidates stale auto-resume timers
	ackTimer *time.Timer
}

// New builds a machine for a fresh session in the created state. Nothing is
// persisted until Start.
func New(userID, topic string, inputMode, outputMode store.Mode, deps Deps) *Machine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Machine{
		deps: deps,
		cfg:  deps.Config.withDefaults(),
		now:  now,
		session: store.Session{
			ID:         uuid.NewString(),
			UserID:     userID,
			Topic:      topic,
			InputMode:  inputMode,
			OutputMode: outputMode,
			State:      string(StateCreated),
		},
	}
}

// Session returns a snapshot of the session row.
func (m *Machine) Session() store.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.session.State)
}

// Start admits the session against the user's quota and persists it in the
// active state. On quota denial no session row is written.
func (m *Machine) Start(ctx context.Context) error {
	if m.deps.Orchestrator.Breaker().Tripped() {
		err := core.New(core.CodeMaintenanceMode)
		err.FallbackActive = true
		return err
	}

	m.mu.Lock()
	snap := m.session
	m.mu.Unlock()
	if _, err := next(State(snap.State), EventStart); err != nil {
		return err
	}

	if err := m.deps.Limiter.AdmitSession(ctx, snap.UserID, m.deps.Plan); err != nil {
		return err
	}

	snap.State = string(StateActive)
	snap.StartedAt = m.now()
	if err := m.deps.Store.SaveSession(ctx, &snap); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if State(m.session.State) != StateCreated {
		return core.New(core.CodeSessionCompleted)
	}
	m.session = snap
	return nil
}

// TurnResult is what one learner turn produced.
type TurnResult struct {
	// Reply is the tutor's spoken correction, empty when the tutor just
	// keeps listening.
	Reply      string
	ReplyAudio []byte
	Correction *store.DetectedError
	State      State

	// Degradation carries a voice-path failure that did not fail the turn,
	// such as a synthesis error that left the reply text-only.
	Degradation *core.Error
}

// SubmitTurn processes one learner utterance: normalize voice input, persist
// the transcript entry, run error detection, and interrupt with a correction
// when the detected severity reaches the floor. A duration ceiling breach
// forces the examination instead.
func (m *Machine) SubmitTurn(ctx context.Context, in voice.TurnInput) (*TurnResult, error) {
	m.mu.Lock()
	snap := m.session
	history := append([]string(nil), m.history...)
	m.mu.Unlock()

	if _, err := next(State(snap.State), EventInterrupt); err != nil {
		// Interrupt is the only event SubmitTurn may need, so its guard
		// doubles as the turn guard: turns are accepted in active only.
		return nil, err
	}

	if err := m.deps.Limiter.CheckDuration(snap.StartedAt, m.deps.Plan); err != nil {
		if ferr := m.forceExamination(ctx); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}

	if len(in.Audio) > 0 {
		if err := m.deps.Limiter.AdmitVoiceTurn(ctx, snap.UserID, m.deps.Plan); err != nil {
			return nil, err
		}
	}

	turn, err := m.deps.Voice.Normalize(ctx, in)
	if err != nil {
		var coreErr *core.Error
		if errors.As(err, &coreErr) && (coreErr.Code == core.CodeSTTFailed || coreErr.Code == core.CodeSTTUnavailable) {
			m.degradeToText(ctx)
		}
		return nil, err
	}

	entry := store.TranscriptEntry{
		ID:        uuid.NewString(),
		SessionID: snap.ID,
		Speaker:   store.SpeakerUser,
		Content:   turn.Text,
		IsVoice:   turn.IsVoice,
		Timestamp: m.now(),
	}
	if err := m.deps.Store.SaveTranscriptEntry(ctx, &entry); err != nil {
		return nil, err
	}

	report, err := m.deps.Orchestrator.DetectError(ctx, core.DetectErrorInput{
		Topic:      snap.Topic,
		Utterance:  turn.Text,
		Transcript: history,
	})
	if err != nil {
		return nil, err
	}

	result := &TurnResult{}
	var detected *store.DetectedError
	if report.HasError && report.Severity.AtLeast(m.cfg.SeverityFloor) {
		detected = &store.DetectedError{
			ID:         uuid.NewString(),
			SessionID:  snap.ID,
			ErrorText:  report.ErrorText,
			Correction: report.Correction,
			Context:    report.Context,
			Severity:   report.Severity,
			DetectedAt: m.now(),
		}
		if err := m.deps.Store.SaveDetectedError(ctx, detected); err != nil {
			return nil, err
		}
		reply := store.TranscriptEntry{
			ID:        uuid.NewString(),
			SessionID: snap.ID,
			Speaker:   store.SpeakerSystem,
			Content:   report.Correction,
			IsVoice:   snap.OutputMode == store.ModeVoice,
			Timestamp: m.now(),
		}
		if err := m.deps.Store.SaveTranscriptEntry(ctx, &reply); err != nil {
			return nil, err
		}
		result.Reply = report.Correction
		result.Correction = detected

		if snap.OutputMode == store.ModeVoice {
			audio, speakErr := m.deps.Voice.Speak(ctx, report.Correction)
			if speakErr != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				var coreErr *core.Error
				if errors.As(speakErr, &coreErr) {
					result.Degradation = coreErr
				}
			} else {
				result.ReplyAudio = audio.Audio
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if State(m.session.State) != State(snap.State) {
		// The session moved on (aborted, or forced into examination)
		// while this turn was in flight; discard the result.
		return nil, core.New(core.CodeSessionCompleted)
	}
	m.history = append(m.history, turn.Text)
	if detected == nil {
		result.State = State(m.session.State)
		return result, nil
	}

	// The error row is already durable, so the interrupt may commit.
	if err := m.commitLocked(ctx, EventInterrupt, nil); err != nil {
		return nil, err
	}
	m.errTexts = append(m.errTexts, detected.ErrorText)
	m.armAckTimerLocked()
	result.State = State(m.session.State)
	return result, nil
}

// Acknowledge resumes active after a correction. Only valid while
// correcting; once the timeout auto-resumes, a late acknowledgment fails.
func (m *Machine) Acknowledge(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := next(State(m.session.State), EventAcknowledge); err != nil {
		return err
	}
	if err := m.commitLocked(ctx, EventAcknowledge, nil); err != nil {
		return err
	}
	m.disarmAckTimerLocked()
	return nil
}

// FinishTeaching ends the teaching phase and opens the examination: the
// examiner produces the scheduled questions, each persisted before the
// state commits. Valid from active or correcting.
func (m *Machine) FinishTeaching(ctx context.Context) ([]store.ExaminationQA, error) {
	m.mu.Lock()
	snap := m.session
	history := append([]string(nil), m.history...)
	errTexts := append([]string(nil), m.errTexts...)
	asked := make([]string, 0, len(m.exam))
	for _, qa := range m.exam {
		asked = append(asked, qa.Question)
	}
	m.mu.Unlock()

	if _, err := next(State(snap.State), EventFinish); err != nil {
		return nil, err
	}

	fresh := make([]store.ExaminationQA, 0, m.cfg.ExamQuestions)
	for len(asked)+len(fresh) < m.cfg.ExamQuestions {
		q, err := m.deps.Orchestrator.AskQuestion(ctx, core.AskQuestionInput{
			Topic:          snap.Topic,
			Transcript:     history,
			DetectedErrors: errTexts,
			Asked:          asked,
		})
		if err != nil {
			// Already-persisted questions are reused on retry.
			return nil, err
		}
		qa := store.ExaminationQA{
			ID:        uuid.NewString(),
			SessionID: snap.ID,
			Question:  q.Question,
			AskedAt:   m.now(),
		}
		if err := m.deps.Store.SaveExamination(ctx, &qa); err != nil {
			return nil, err
		}
		fresh = append(fresh, qa)
		asked = append(asked, qa.Question)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.exam = append(m.exam, fresh...)
	if State(m.session.State) != State(snap.State) {
		return nil, core.New(core.CodeSessionCompleted)
	}
	if err := m.commitLocked(ctx, EventFinish, nil); err != nil {
		return nil, err
	}
	m.disarmAckTimerLocked()
	out := append([]store.ExaminationQA(nil), m.exam...)
	return out, nil
}

// AnswerResult is the outcome of grading one examination answer.
type AnswerResult struct {
	Evaluation string
	Score      int

	// NextQuestion is the next unanswered question, empty once the exam is
	// over.
	NextQuestion string

	// Summary is set when this was the final answer and the session
	// completed.
	Summary *store.SessionSummary
	State   State
}

// SubmitAnswer grades the pending examination question. Grading the final
// question auto-advances through summarizing to completed.
func (m *Machine) SubmitAnswer(ctx context.Context, answer string) (*AnswerResult, error) {
	m.mu.Lock()
	if st := State(m.session.State); st != StateExamining {
		m.mu.Unlock()
		if _, err := next(st, EventExamDone); err != nil {
			return nil, err
		}
		return nil, core.Newf(core.CodeInvalidStateTransition, "no examination in progress in state %q", st)
	}
	pending := -1
	for i := range m.exam {
		if m.exam[i].Score == nil {
			pending = i
			break
		}
	}
	if pending < 0 {
		m.mu.Unlock()
		return nil, core.New(core.CodeStateCorruption).
			WithDetail("reason", "examining with no pending question")
	}
	snap := m.session
	qa := m.exam[pending]
	m.mu.Unlock()

	grade, err := m.deps.Orchestrator.GradeAnswer(ctx, core.GradeAnswerInput{
		Topic:    snap.Topic,
		Question: qa.Question,
		Answer:   answer,
	})
	if err != nil {
		return nil, err
	}

	qa.UserAnswer = &answer
	qa.Evaluation = &grade.Evaluation
	score := clamp(grade.Score, 0, 10)
	qa.Score = &score
	if err := m.deps.Store.SaveExamination(ctx, &qa); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if State(m.session.State) != StateExamining {
		m.mu.Unlock()
		return nil, core.New(core.CodeSessionCompleted)
	}
	m.exam[pending] = qa
	result := &AnswerResult{Evaluation: grade.Evaluation, Score: score}
	for i := range m.exam {
		if m.exam[i].Score == nil {
			result.NextQuestion = m.exam[i].Question
			break
		}
	}
	if result.NextQuestion != "" {
		result.State = State(m.session.State)
		m.mu.Unlock()
		return result, nil
	}
	if err := m.commitLocked(ctx, EventExamDone, nil); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	summary, err := m.summarize(ctx)
	if err != nil {
		return nil, err
	}
	result.Summary = summary
	result.State = StateCompleted
	return result, nil
}

// Abort ends the session from any non-terminal state. In-flight turns
// observe the state change and discard their results.
func (m *Machine) Abort(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if State(m.session.State).Terminal() {
		return core.New(core.CodeSessionCompleted)
	}
	ended := m.now()
	if err := m.commitLocked(ctx, EventAbort, &ended); err != nil {
		return err
	}
	m.disarmAckTimerLocked()
	return nil
}

// summarize runs the summarizer role, persists the summary, and completes
// the session. Called with the session already in summarizing. A summarizer
// failure degrades to a locally computed summary rather than stranding the
// session.
func (m *Machine) summarize(ctx context.Context) (*store.SessionSummary, error) {
	m.mu.Lock()
	snap := m.session
	history := append([]string(nil), m.history...)
	errTexts := append([]string(nil), m.errTexts...)
	scores := make([]int, 0, len(m.exam))
	for _, qa := range m.exam {
		if qa.Score != nil {
			scores = append(scores, *qa.Score)
		}
	}
	m.mu.Unlock()

	result, err := m.deps.Orchestrator.Summarize(ctx, core.SummarizeInput{
		Topic:          snap.Topic,
		Transcript:     history,
		DetectedErrors: errTexts,
		ExamScores:     scores,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.deps.Logger.Warn("summarizer unavailable, computing summary locally",
			"session_id", snap.ID,
			"error", err,
		)
		result = localSummary(errTexts, scores)
	}

	summary := store.SessionSummary{
		ID:              uuid.NewString(),
		SessionID:       snap.ID,
		UserID:          snap.UserID,
		TotalErrors:     len(errTexts),
		MissedConcepts:  result.MissedConcepts,
		StrongAreas:     result.StrongAreas,
		Recommendations: result.Recommendations,
		OverallScore:    clamp(result.OverallScore, 0, 100),
		CreatedAt:       m.now(),
	}
	if err := m.deps.Store.SaveSummary(ctx, &summary); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if State(m.session.State) != StateSummarizing {
		m.mu.Unlock()
		return nil, core.New(core.CodeSessionCompleted)
	}
	ended := m.now()
	if err := m.commitLocked(ctx, EventSummarized, &ended); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	final := m.session
	m.mu.Unlock()

	if m.deps.Sync != nil {
		if err := m.deps.Sync.SessionCompleted(ctx, &final, &summary); err != nil {
			m.deps.Logger.Warn("progress sync failed",
				"session_id", final.ID,
				"error", core.Wrap(core.CodeSyncFailed, err),
			)
		}
	}
	return &summary, nil
}

// forceExamination moves the session into examining after a duration
// ceiling breach, generating the exam as FinishTeaching would.
func (m *Machine) forceExamination(ctx context.Context) error {
	_, err := m.FinishTeaching(ctx)
	return err
}

// degradeToText flips the session's input mode to text after a speech
// failure and persists the change. Best effort; the learner continues
// either way.
func (m *Machine) degradeToText(ctx context.Context) {
	m.mu.Lock()
	if m.session.InputMode == store.ModeText {
		m.mu.Unlock()
		return
	}
	m.session.InputMode = store.ModeText
	snap := m.session
	m.mu.Unlock()

	if err := m.deps.Store.SaveSession(ctx, &snap); err != nil {
		m.deps.Logger.Warn("failed to persist text-mode degradation",
			"session_id", snap.ID,
			"error", err,
		)
	}
}

// commitLocked persists the session row in the target state, then flips the
// in-memory state. Callers hold m.mu. Storage never ends up behind the
// reported state.
func (m *Machine) commitLocked(ctx context.Context, ev Event, endedAt *time.Time) error {
	to, err := next(State(m.session.State), ev)
	if err != nil {
		return err
	}
	snap := m.session
	snap.State = string(to)
	if endedAt != nil {
		snap.EndedAt = endedAt
	}
	if err := m.deps.Store.SaveSession(ctx, &snap); err != nil {
		return err
	}
	m.session = snap
	return nil
}

// armAckTimerLocked schedules the auto-resume for an unacknowledged
// correction. Callers hold m.mu.
func (m *Machine) armAckTimerLocked() {
	m.ackSeq++
	seq := m.ackSeq
	m.ackTimer = time.AfterFunc(m.cfg.AckTimeout, func() {
		m.autoResume(seq)
	})
}

func (m *Machine) disarmAckTimerLocked() {
	m.ackSeq++
	if m.ackTimer != nil {
		m.ackTimer.Stop()
		m.ackTimer = nil
	}
}

// autoResume returns the session to active when a correction was never
// acknowledged. Stale timers (superseded by an acknowledgment or a later
// transition) are no-ops.
func (m *Machine) autoResume(seq int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.ackSeq || State(m.session.State) != StateCorrecting {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
	defer cancel()
	if err := m.commitLocked(ctx, EventAcknowledge, nil); err != nil {
		m.deps.Logger.Warn("acknowledgment auto-resume failed",
			"session_id", m.session.ID,
			"error", err,
		)
	}
}

// localSummary builds a degraded summary from session data alone when the
// summarizer role is unavailable.
func localSummary(errTexts []string, scores []int) *core.SummaryResult {
	overall := 100
	if len(scores) > 0 {
		total := 0
		for _, s := range scores {
			total += s
		}
		overall = total * 10 / len(scores)
	}
	overall -= 5 * len(errTexts)
	return &core.SummaryResult{
		MissedConcepts: append([]string(nil), errTexts...),
		OverallScore:   clamp(overall, 0, 100),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
