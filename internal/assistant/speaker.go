package assistant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rbright/parley/internal/audio"
	"google.golang.org/genai"
)

// ErrNoAudio is returned when a speech response carries no audio part.
var ErrNoAudio = errors.New("speech response contained no audio")

// Speaker synthesizes reply text with the Gemini TTS model.
type Speaker struct {
	client *genai.Client
	cfg    Config
}

func NewSpeaker(client *genai.Client, cfg Config) *Speaker {
	return &Speaker{client: client, cfg: cfg.withDefaults()}
}

// Synthesize returns text as one mono PCM frame, normally at 24 kHz.
func (s *Speaker) Synthesize(ctx context.Context, text string) (audio.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.client.Models.GenerateContent(ctx, s.cfg.TTSModel, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.cfg.TTSVoice},
			},
		},
	})
	if err != nil {
		return audio.Frame{}, fmt.Errorf("synthesize speech with %s: %w", s.cfg.TTSModel, err)
	}

	blob := firstAudio(resp)
	if blob == nil || len(blob.Data) == 0 {
		return audio.Frame{}, ErrNoAudio
	}
	frame, err := audio.DecodeFrame(blob.Data, rateFromMIME(blob.MIMEType, audio.PlaybackRate))
	if err != nil {
		return audio.Frame{}, fmt.Errorf("decode speech audio: %w", err)
	}
	return frame, nil
}

func firstAudio(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil {
				return part.InlineData
			}
		}
	}
	return nil
}

// rateFromMIME reads the rate parameter of an audio/L16 or audio/pcm mime type.
func rateFromMIME(mime string, fallback int) int {
	for _, param := range strings.Split(mime, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}
