package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/engine"
	"github.com/luminalearn/teachback/pkg/engine/orchestrator"
	"github.com/luminalearn/teachback/pkg/engine/plans"
	"github.com/luminalearn/teachback/pkg/engine/session"
	"github.com/luminalearn/teachback/pkg/engine/store"
	"github.com/luminalearn/teachback/pkg/engine/voice"
	"github.com/luminalearn/teachback/pkg/gateway/config"
	"github.com/luminalearn/teachback/pkg/gateway/handlers"
)

type cannedProvider struct{}

func (cannedProvider) Name() string { return "canned" }

func (cannedProvider) DetectError(ctx context.Context, in core.DetectErrorInput) (*core.ErrorReport, error) {
	return &core.ErrorReport{HasError: false}, nil
}

func (cannedProvider) AskQuestion(ctx context.Context, in core.AskQuestionInput) (*core.ExamQuestion, error) {
	return &core.ExamQuestion{Question: "Explain it back one more time."}, nil
}

func (cannedProvider) GradeAnswer(ctx context.Context, in core.GradeAnswerInput) (*core.AnswerGrade, error) {
	return &core.AnswerGrade{Evaluation: "solid", Score: 8}, nil
}

func (cannedProvider) Summarize(ctx context.Context, in core.SummarizeInput) (*core.SummaryResult, error) {
	return &core.SummaryResult{OverallScore: 80, StrongAreas: []string{"fundamentals"}}, nil
}

type openAdmitter struct{}

func (openAdmitter) AdmitSession(ctx context.Context, userID string, plan plans.Plan) error {
	return nil
}

func (openAdmitter) AdmitVoiceTurn(ctx context.Context, userID string, plan plans.Plan) error {
	return nil
}

func (openAdmitter) CheckDuration(startedAt time.Time, plan plans.Plan) error { return nil }

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	orch := orchestrator.New(cannedProvider{}, nil, orchestrator.NewBreaker(), logger, orchestrator.Config{})
	svc := engine.NewService(engine.Deps{
		Store:        store.NewMemory(),
		Orchestrator: orch,
		Voice:        voice.New(nil, nil, "", logger),
		Limiter:      openAdmitter{},
		Resolver:     plans.Static{},
		Logger:       logger,
		Session:      session.Config{ExamQuestions: 1},
	})
	cfg := config.Config{
		AuthMode:   config.AuthModeRequired,
		APIKeys:    map[string]string{"tok-alice": "alice", "tok-bob": "bob"},
		AdminToken: "tok-admin",
	}
	srv := New(cfg, logger, handlers.Deps{Engine: svc, Logger: logger})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func do(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && resp.Header.Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestSessionFlowOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/v1/sessions", "tok-alice",
		map[string]any{"topic": "pointers", "input_mode": "text", "output_mode": "text"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := body["session"].(map[string]any)
	id := sess["id"].(string)
	require.NotEmpty(t, id)
	require.Equal(t, "active", sess["state"])

	resp, body = do(t, ts, http.MethodPost, "/v1/sessions/"+id+"/turns", "tok-alice",
		map[string]any{"text": "a pointer holds an address"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "active", body["state"])

	resp, body = do(t, ts, http.MethodPost, "/v1/sessions/"+id+"/finish", "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["questions"], 1)

	resp, body = do(t, ts, http.MethodPost, "/v1/sessions/"+id+"/answers", "tok-alice",
		map[string]any{"answer": "it stores where a value lives"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "completed", body["state"])
	require.Equal(t, float64(8), body["score"])
	require.NotNil(t, body["summary"])

	resp, body = do(t, ts, http.MethodGet, "/v1/sessions/"+id, "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, body["summary"])
}

func TestOwnershipHiddenAcrossUsers(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/v1/sessions", "tok-alice",
		map[string]any{"topic": "recursion"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["session"].(map[string]any)["id"].(string)

	resp, body = do(t, ts, http.MethodGet, "/v1/sessions/"+id, "tok-bob", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	errObj := body["error"].(map[string]any)
	require.Equal(t, "NOT_FOUND", errObj["code"])
}

func TestInvalidTransitionMapsTo409(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/v1/sessions", "tok-alice",
		map[string]any{"topic": "maps"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["session"].(map[string]any)["id"].(string)

	// Answering before the exam starts is not a legal transition.
	resp, body = do(t, ts, http.MethodPost, "/v1/sessions/"+id+"/answers", "tok-alice",
		map[string]any{"answer": "too early"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "INVALID_STATE_TRANSITION", body["error"].(map[string]any)["code"])
}

func TestAdminSurface(t *testing.T) {
	_, ts := newTestServer(t)

	// Hidden from regular users.
	resp, _ := do(t, ts, http.MethodGet, "/api/admin/teach-back/monitoring", "tok-alice", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, ts, http.MethodGet, "/api/admin/teach-back/monitoring", "tok-admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["engine"].(map[string]any)["feature_enabled"])

	// Disable the feature, creation refuses with 503.
	resp, _ = do(t, ts, http.MethodPut, "/api/admin/teach-back/feature", "tok-admin",
		map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, ts, http.MethodPost, "/v1/sessions", "tok-alice",
		map[string]any{"topic": "slices"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "FEATURE_DISABLED", body["error"].(map[string]any)["code"])
}

func TestProbesAndDraining(t *testing.T) {
	srv, ts := newTestServer(t)

	resp, _ := do(t, ts, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, ts, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["ok"])

	srv.SetDraining(true)
	resp, body = do(t, ts, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, true, body["draining"])
}

func TestUnauthenticatedRejected(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := do(t, ts, http.MethodPost, "/v1/sessions", "",
		map[string]any{"topic": "channels"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
}
