package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/core/voice/stt"
	"github.com/luminalearn/teachback/pkg/core/voice/tts"
)

type stubSTT struct {
	text string
	err  error
}

func (s *stubSTT) Name() string { return "stub-stt" }

func (s *stubSTT) Transcribe(ctx context.Context, audio io.Reader, opts stt.TranscribeOptions) (*stt.Transcript, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &stt.Transcript{Text: s.text}, nil
}

func (s *stubSTT) NewStream(ctx context.Context, opts stt.TranscribeOptions) (stt.Stream, error) {
	return nil, errors.New("not implemented")
}

type stubTTS struct {
	err error
}

func (s *stubTTS) Name() string { return "stub-tts" }

func (s *stubTTS) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.Synthesis, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &tts.Synthesis{Audio: []byte("riff"), Format: opts.Format}, nil
}

func newProcessor(s stt.Provider, t tts.Provider) *Processor {
	return New(s, t, "tutor-voice", slog.New(slog.DiscardHandler))
}

func TestNormalizeText(t *testing.T) {
	p := newProcessor(nil, nil)

	turn, err := p.Normalize(context.Background(), TurnInput{Text: "  photosynthesis uses CO2  "})
	require.NoError(t, err)
	require.Equal(t, "photosynthesis uses CO2", turn.Text)
	require.False(t, turn.IsVoice)
}

func TestNormalizeEmptyInput(t *testing.T) {
	p := newProcessor(&stubSTT{text: "ignored"}, nil)

	for _, in := range []TurnInput{{}, {Text: "   "}} {
		_, err := p.Normalize(context.Background(), in)
		var coreErr *core.Error
		require.ErrorAs(t, err, &coreErr)
		require.Equal(t, core.CodeNoInput, coreErr.Code)
	}
}

func TestNormalizeVoice(t *testing.T) {
	p := newProcessor(&stubSTT{text: "mitochondria make ATP"}, nil)

	turn, err := p.Normalize(context.Background(), TurnInput{Audio: []byte{1, 2, 3}, Format: "wav"})
	require.NoError(t, err)
	require.Equal(t, "mitochondria make ATP", turn.Text)
	require.True(t, turn.IsVoice)
}

func TestNormalizeSTTFailureIsRecoverable(t *testing.T) {
	p := newProcessor(&stubSTT{err: errors.New("connection reset")}, nil)

	_, err := p.Normalize(context.Background(), TurnInput{Audio: []byte{1}})
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.CodeSTTFailed, coreErr.Code)
	require.True(t, coreErr.Recoverable)
	require.True(t, coreErr.FallbackActive)
}

func TestNormalizeSilentAudioIsNoInput(t *testing.T) {
	p := newProcessor(&stubSTT{text: "   "}, nil)

	_, err := p.Normalize(context.Background(), TurnInput{Audio: []byte{1}})
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.CodeNoInput, coreErr.Code)
}

func TestSpeak(t *testing.T) {
	p := newProcessor(nil, &stubTTS{})

	out, err := p.Speak(context.Background(), "well explained")
	require.NoError(t, err)
	require.NotEmpty(t, out.Audio)
}

func TestSpeakFailureLeavesTextPath(t *testing.T) {
	p := newProcessor(nil, &stubTTS{err: errors.New("503")})

	out, err := p.Speak(context.Background(), "well explained")
	require.Nil(t, out)
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.CodeTTSFailed, coreErr.Code)
	require.True(t, coreErr.Recoverable)
}

func TestSpeakWithoutProvider(t *testing.T) {
	p := newProcessor(nil, nil)

	_, err := p.Speak(context.Background(), "hi")
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.CodeTTSUnavailable, coreErr.Code)
}
