package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaWSURL   = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion = "2025-04-16"

	defaultModel      = "ink-whisper"
	defaultSampleRate = 16000
)

// CartesiaProvider implements the STT Provider interface on Cartesia's API.
type CartesiaProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	wsURL      string
}

// NewCartesia creates a new Cartesia STT provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    cartesiaBaseURL,
		wsURL:      cartesiaWSURL,
	}
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

// Transcribe converts a complete audio clip to text.
func (c *CartesiaProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	audioData, err := io.ReadAll(audio)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio."+extFor(opts.Format))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audioData); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	if err := mw.WriteField("model", model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if opts.Language != "" {
		if err := mw.WriteField("language", opts.Language); err != nil {
			return nil, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stt", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cartesia error %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Text     string   `json:"text"`
		Language *string  `json:"language,omitempty"`
		Duration *float64 `json:"duration,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	t := &Transcript{Text: parsed.Text}
	if parsed.Language != nil {
		t.Language = *parsed.Language
	}
	if parsed.Duration != nil {
		t.Duration = *parsed.Duration
	}
	return t, nil
}

// NewStream opens a streaming transcription session over WebSocket.
func (c *CartesiaProvider) NewStream(ctx context.Context, opts TranscribeOptions) (Stream, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	q := u.Query()
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	q.Set("model", model)

	language := opts.Language
	if language == "" {
		language = "en"
	}
	q.Set("language", language)

	encoding := opts.Format
	if encoding == "" {
		encoding = "pcm_s16le"
	}
	q.Set("encoding", encoding)

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	s := &cartesiaStream{
		conn:   conn,
		deltas: make(chan TranscriptDelta, 100),
	}
	go s.readLoop()
	return s, nil
}

type cartesiaStream struct {
	conn    *websocket.Conn
	deltas  chan TranscriptDelta
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (s *cartesiaStream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *cartesiaStream) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

func (s *cartesiaStream) Deltas() <-chan TranscriptDelta {
	return s.deltas
}

func (s *cartesiaStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *cartesiaStream) readLoop() {
	defer close(s.deltas)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var evt struct {
			Type    string `json:"type"`
			Text    string `json:"text"`
			IsFinal bool   `json:"is_final"`
		}
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "transcript":
			s.deltas <- TranscriptDelta{Text: evt.Text, IsFinal: evt.IsFinal}
		case "done":
			return
		}
	}
}

func extFor(format string) string {
	switch format {
	case "", "wav", "pcm_s16le":
		return "wav"
	default:
		return format
	}
}
