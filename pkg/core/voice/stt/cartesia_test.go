package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNewCartesiaDefaults(t *testing.T) {
	p := NewCartesia("api-key")
	if p.Name() != "cartesia" {
		t.Fatalf("name = %q, want cartesia", p.Name())
	}
	if p.httpClient == nil {
		t.Fatal("default provider should initialize http client")
	}
	if p.baseURL == "" || p.wsURL == "" {
		t.Fatal("default provider should initialize endpoints")
	}
}

func TestTranscribeDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stt" {
			t.Fatalf("path = %q, want /stt", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer api-key" {
			t.Fatalf("authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != defaultModel {
			t.Fatalf("model = %q, want %q", got, defaultModel)
		}
		lang := "en"
		duration := 1.5
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": "hello world", "language": lang, "duration": duration,
		})
	}))
	defer srv.Close()

	p := &CartesiaProvider{apiKey: "api-key", httpClient: srv.Client(), baseURL: srv.URL}
	out, err := p.Transcribe(context.Background(), strings.NewReader("audio-bytes"), TranscribeOptions{Format: "wav"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if out.Text != "hello world" {
		t.Fatalf("text = %q, want hello world", out.Text)
	}
	if out.Language != "en" || out.Duration != 1.5 {
		t.Fatalf("language=%q duration=%v", out.Language, out.Duration)
	}
}

func TestTranscribeSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := &CartesiaProvider{apiKey: "api-key", httpClient: srv.Client(), baseURL: srv.URL}
	_, err := p.Transcribe(context.Background(), strings.NewReader("x"), TranscribeOptions{})
	if err == nil || !strings.Contains(err.Error(), "cartesia error 400") {
		t.Fatalf("err = %v, want cartesia error 400", err)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("model"); got != defaultModel {
			t.Errorf("model = %q, want %q", got, defaultModel)
		}
		if got := r.URL.Query().Get("sample_rate"); got != "16000" {
			t.Errorf("sample_rate = %q, want 16000", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch mt {
			case websocket.BinaryMessage:
				received <- msg
				_ = conn.WriteJSON(map[string]any{"type": "transcript", "text": "partial", "is_final": false})
			case websocket.TextMessage:
				switch string(msg) {
				case "finalize":
					_ = conn.WriteJSON(map[string]any{"type": "transcript", "text": "final text", "is_final": true})
					_ = conn.WriteJSON(map[string]any{"type": "done"})
				case "done":
					return
				}
			}
		}
	}))
	defer srv.Close()

	p := &CartesiaProvider{
		apiKey: "api-key",
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
	stream, err := p.NewStream(context.Background(), TranscribeOptions{})
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	defer stream.Close()

	if err := stream.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	select {
	case got := <-received:
		if len(got) != 3 {
			t.Fatalf("server received %d bytes, want 3", len(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received audio")
	}

	var deltas []TranscriptDelta
	if err := stream.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for len(deltas) < 2 {
		select {
		case d, ok := <-stream.Deltas():
			if !ok {
				t.Fatalf("deltas closed after %d updates, want 2", len(deltas))
			}
			deltas = append(deltas, d)
		case <-deadline:
			t.Fatalf("timed out after %d deltas", len(deltas))
		}
	}

	if deltas[0].IsFinal || deltas[0].Text != "partial" {
		t.Fatalf("first delta = %+v, want partial non-final", deltas[0])
	}
	if !deltas[1].IsFinal || deltas[1].Text != "final text" {
		t.Fatalf("second delta = %+v, want final", deltas[1])
	}
}

func TestStreamRejectsWritesAfterClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p := &CartesiaProvider{apiKey: "api-key", wsURL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	stream, err := p.NewStream(context.Background(), TranscribeOptions{})
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Close is idempotent.
	if err := stream.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := stream.SendAudio([]byte{1}); err == nil {
		t.Fatal("send after close should fail")
	}
	if err := stream.Finalize(); err == nil {
		t.Fatal("finalize after close should fail")
	}
}

func TestExtFor(t *testing.T) {
	cases := []struct {
		format string
		want   string
	}{
		{"", "wav"},
		{"wav", "wav"},
		{"pcm_s16le", "wav"},
		{"mp3", "mp3"},
	}
	for _, tc := range cases {
		if got := extFor(tc.format); got != tc.want {
			t.Fatalf("extFor(%q) = %q, want %q", tc.format, got, tc.want)
		}
	}
}
