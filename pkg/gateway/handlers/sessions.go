package handlers

import (
	"net/http"

	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/engine"
	"github.com/luminalearn/teachback/pkg/engine/store"
	"github.com/luminalearn/teachback/pkg/engine/voice"
)

type createSessionRequest struct {
	Topic      string `json:"topic"`
	InputMode  string `json:"input_mode"`
	OutputMode string `json:"output_mode"`
}

type sessionResponse struct {
	Success bool          `json:"success"`
	Session store.Session `json:"session"`
}

// CreateSession handles POST /v1/sessions.
func CreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(r)
		if !ok {
			writeError(w, core.Newf(core.CodeNotFound, "no principal"))
			return
		}
		var req createSessionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		input, err := parseMode(req.InputMode)
		if err != nil {
			writeError(w, err)
			return
		}
		output, err := parseMode(req.OutputMode)
		if err != nil {
			writeError(w, err)
			return
		}

		sess, err := deps.Engine.CreateSession(r.Context(), p.UserID, req.Topic, input, output)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionResponse{Success: true, Session: sess})
	}
}

type turnRequest struct {
	Text       string `json:"text,omitempty"`
	Audio      []byte `json:"audio,omitempty"` // base64 in JSON
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type turnResponse struct {
	Success    bool                 `json:"success"`
	State      string               `json:"state"`
	Reply      string               `json:"reply,omitempty"`
	ReplyAudio []byte               `json:"reply_audio,omitempty"`
	Correction *store.DetectedError `json:"correction,omitempty"`
	Warning    *core.Error          `json:"warning,omitempty"`
}

// SubmitTurn handles POST /v1/sessions/{id}/turns.
func SubmitTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(r)
		if !ok {
			writeError(w, core.Newf(core.CodeNotFound, "no principal"))
			return
		}
		var req turnRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}

		result, err := deps.Engine.SubmitTurn(r.Context(), r.PathValue("id"), p.UserID, voice.TurnInput{
			Text:       req.Text,
			Audio:      req.Audio,
			Format:     req.Format,
			SampleRate: req.SampleRate,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, turnResponse{
			Success:    true,
			State:      string(result.State),
			Reply:      result.Reply,
			ReplyAudio: result.ReplyAudio,
			Correction: result.Correction,
			Warning:    result.Degradation,
		})
	}
}

type stateResponse struct {
	Success bool   `json:"success"`
	State   string `json:"state"`
}

// Acknowledge handles POST /v1/sessions/{id}/acknowledge.
func Acknowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(r)
		if !ok {
			writeError(w, core.Newf(core.CodeNotFound, "no principal"))
			return
		}
		if err := deps.Engine.Acknowledge(r.Context(), r.PathValue("id"), p.UserID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stateResponse{Success: true, State: "active"})
	}
}

type examResponse struct {
	Success   bool                  `json:"success"`
	Questions []store.ExaminationQA `json:"questions"`
}

// FinishTeaching handles POST /v1/sessions/{id}/finish.
func FinishTeaching(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(r)
		if !ok {
			writeError(w, core.Newf(core.CodeNotFound, "no principal"))
			return
		}
		questions, err := deps.Engine.FinishTeaching(r.Context(), r.PathValue("id"), p.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, examResponse{Success: true, Questions: questions})
	}
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type answerResponse struct {
	Success      bool                  `json:"success"`
	State        string                `json:"state"`
	Evaluation   string                `json:"evaluation"`
	Score        int                   `json:"score"`
	NextQuestion string                `json:"next_question,omitempty"`
	Summary      *store.SessionSummary `json:"summary,omitempty"`
}

// SubmitAnswer handles POST /v1/sessions/{id}/answers.
func SubmitAnswer(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(r)
		if !ok {
			writeError(w, core.Newf(core.CodeNotFound, "no principal"))
			return
		}
		var req answerRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		result, err := deps.Engine.SubmitAnswer(r.Context(), r.PathValue("id"), p.UserID, req.Answer)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, answerResponse{
			Success:      true,
			State:        string(result.State),
			Evaluation:   result.Evaluation,
			Score:        result.Score,
			NextQuestion: result.NextQuestion,
			Summary:      result.Summary,
		})
	}
}

// AbortSession handles DELETE /v1/sessions/{id}.
func AbortSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(r)
		if !ok {
			writeError(w, core.Newf(core.CodeNotFound, "no principal"))
			return
		}
		if err := deps.Engine.Abort(r.Context(), r.PathValue("id"), p.UserID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stateResponse{Success: true, State: "aborted"})
	}
}

type sessionDetailResponse struct {
	Success bool `json:"success"`
	*engine.SessionDetail
}

// GetSession handles GET /v1/sessions/{id}.
func GetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(r)
		if !ok {
			writeError(w, core.Newf(core.CodeNotFound, "no principal"))
			return
		}
		detail, err := deps.Engine.GetSession(r.Context(), r.PathValue("id"), p.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionDetailResponse{Success: true, SessionDetail: detail})
	}
}

func parseMode(raw string) (store.Mode, error) {
	switch raw {
	case "", "text":
		return store.ModeText, nil
	case "voice":
		return store.ModeVoice, nil
	default:
		return "", core.Newf(core.CodeNoInput, "mode must be text or voice, got %q", raw)
	}
}
