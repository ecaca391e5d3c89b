// Package stt provides the speech-to-text boundary of the voice processor.
package stt

import (
	"context"
	"io"
)

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts a complete audio clip to text.
	Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error)

	// NewStream opens a streaming transcription session for live audio.
	NewStream(ctx context.Context, opts TranscribeOptions) (Stream, error)
}

// Stream is a live transcription session. Audio goes in incrementally,
// transcript deltas come out on Deltas.
type Stream interface {
	SendAudio(data []byte) error
	Finalize() error
	Deltas() <-chan TranscriptDelta
	Close() error
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model      string // provider-specific model
	Language   string // ISO language code (default "en")
	Format     string // audio format hint (wav, mp3, pcm_s16le, ...)
	SampleRate int    // sample rate in Hz
}

// Transcript is the result of transcription.
type Transcript struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
}

// TranscriptDelta is a streaming transcript update.
type TranscriptDelta struct {
	Text    string
	IsFinal bool
}
