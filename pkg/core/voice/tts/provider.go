// Package tts provides the text-to-speech boundary of the voice processor.
package tts

import (
	"context"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string  // voice identifier
	Language   string  // language code
	Speed      float64 // speed multiplier
	Format     string  // "wav", "mp3", or "pcm"
	SampleRate int     // sample rate in Hz
}

// Synthesis is the result of text-to-speech.
type Synthesis struct {
	Audio      []byte
	Format     string
	SampleRate int
}
