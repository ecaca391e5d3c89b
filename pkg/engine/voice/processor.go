// Package voice normalizes session input to text and renders spoken replies.
// Voice is an overlay on a text session: when either direction breaks, the
// session keeps going in text mode.
package voice

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/core/voice/stt"
	"github.com/luminalearn/teachback/pkg/core/voice/tts"
)

// TurnInput is one user turn before normalization. Exactly one of Text or
// Audio carries the content; Audio wins when both are set.
type TurnInput struct {
	Text       string
	Audio      []byte
	Format     string
	SampleRate int
}

// Turn is a normalized user turn.
type Turn struct {
	Text    string
	IsVoice bool
}

// Processor sits between the session machine and the speech providers.
// Either provider may be nil for text-only deployments.
type Processor struct {
	stt    stt.Provider
	tts    tts.Provider
	voice  string
	logger *slog.Logger
}

// New creates a Processor. voiceID selects the synthesis voice.
func New(sttProvider stt.Provider, ttsProvider tts.Provider, voiceID string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{stt: sttProvider, tts: ttsProvider, voice: voiceID, logger: logger}
}

// Normalize turns raw turn input into text. Empty input yields NO_INPUT.
// A transcription failure yields a recoverable STT error so the caller can
// degrade the session to text mode; it never ends the session.
func (p *Processor) Normalize(ctx context.Context, in TurnInput) (*Turn, error) {
	if len(in.Audio) > 0 {
		if p.stt == nil {
			err := core.New(core.CodeSTTUnavailable)
			err.FallbackActive = true
			return nil, err
		}
		transcript, err := p.stt.Transcribe(ctx, bytes.NewReader(in.Audio), stt.TranscribeOptions{
			Format:     in.Format,
			SampleRate: in.SampleRate,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("transcription failed, degrading to text",
				"provider", p.stt.Name(),
				"error", err,
			)
			werr := core.Wrap(core.CodeSTTFailed, err)
			werr.FallbackActive = true
			return nil, werr
		}
		if strings.TrimSpace(transcript.Text) == "" {
			return nil, core.New(core.CodeNoInput)
		}
		return &Turn{Text: transcript.Text, IsVoice: true}, nil
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, core.New(core.CodeNoInput)
	}
	return &Turn{Text: text}, nil
}

// Speak renders a tutor reply as audio. On synthesis failure it returns a
// nil synthesis together with the typed error; the caller delivers the text
// reply either way.
func (p *Processor) Speak(ctx context.Context, text string) (*tts.Synthesis, error) {
	if p.tts == nil {
		err := core.New(core.CodeTTSUnavailable)
		err.FallbackActive = true
		return nil, err
	}
	out, err := p.tts.Synthesize(ctx, text, tts.SynthesizeOptions{Voice: p.voice, Format: "wav"})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("synthesis failed, replying text-only",
			"provider", p.tts.Name(),
			"error", err,
		)
		werr := core.Wrap(core.CodeTTSFailed, err)
		werr.FallbackActive = true
		return nil, werr
	}
	return out, nil
}
