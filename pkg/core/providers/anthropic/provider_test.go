package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/luminalearn/teachback/pkg/core"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func textResponse(t *testing.T, w http.ResponseWriter, text string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	})
}

func TestDetectError_DecodesReport(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") != APIVersion {
			t.Errorf("missing version header")
		}
		textResponse(t, w, `{"has_error":true,"error_text":"mixed up osmosis","correction":"osmosis moves water","severity":"major"}`)
	})

	report, err := p.DetectError(context.Background(), core.DetectErrorInput{
		Topic:     "osmosis",
		Utterance: "osmosis moves salt across the membrane",
	})
	if err != nil {
		t.Fatalf("DetectError: %v", err)
	}
	if !report.HasError || report.Severity != core.SeverityMajor {
		t.Fatalf("report=%+v", report)
	}
}

func TestDetectError_ToleratesFencedJSON(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		textResponse(t, w, "```json\n{\"has_error\":false,\"severity\":\"\"}\n```")
	})

	report, err := p.DetectError(context.Background(), core.DetectErrorInput{Utterance: "fine"})
	if err != nil {
		t.Fatalf("DetectError: %v", err)
	}
	if report.HasError {
		t.Fatal("expected no error detected")
	}
}

func TestGradeAnswer_ClampsScore(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		textResponse(t, w, `{"evaluation":"excellent","score":14}`)
	})

	grade, err := p.GradeAnswer(context.Background(), core.GradeAnswerInput{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("GradeAnswer: %v", err)
	}
	if grade.Score != 10 {
		t.Fatalf("score=%d, want clamped to 10", grade.Score)
	}
}

func TestAskQuestion_EmptyQuestionIsMalformed(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		textResponse(t, w, `{"question":""}`)
	})

	_, err := p.AskQuestion(context.Background(), core.AskQuestionInput{Topic: "dns"})
	provErr, ok := err.(*Error)
	if !ok || provErr.Type != ErrMalformed {
		t.Fatalf("err=%v, want malformed", err)
	}
}

func TestRoleCall_MapsRateLimitError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	})

	_, err := p.Summarize(context.Background(), core.SummarizeInput{Topic: "dns"})
	provErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("err=%T", err)
	}
	if !provErr.IsRateLimit() {
		t.Fatalf("type=%s", provErr.Type)
	}
	if provErr.RetryAfter == nil || *provErr.RetryAfter != 7 {
		t.Fatalf("retry_after=%v", provErr.RetryAfter)
	}
}
