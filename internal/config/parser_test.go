package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseJSONCOverridesDefaults(t *testing.T) {
	input := `
{
  // live session
  "live": {
    "model": "gemini-live-test",
    "voice": "Puck",
    "input_transcription": true,
  },
  "audio": {
    "input": "Elgato",
    "block_samples": 2048,
    "queue_frames": 8,
  },
  "assistant": {
    "speak_replies": false,
    "thinking_budget": 1024,
  },
  "session": {"teardown_timeout_ms": 500},
  "metrics": {"listen": "127.0.0.1:9464"},
}
`

	cfg, warnings, err := Parse(input, Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
	if cfg.Live.Model != "gemini-live-test" || cfg.Live.Voice != "Puck" {
		t.Fatalf("unexpected live config: %+v", cfg.Live)
	}
	if cfg.Audio.Input != "Elgato" || cfg.Audio.BlockSamples != 2048 || cfg.Audio.QueueFrames != 8 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.Fallback != "default" {
		t.Fatalf("expected default fallback to survive, got %q", cfg.Audio.Fallback)
	}
	if cfg.Assistant.SpeakReplies || cfg.Assistant.ThinkingBudget != 1024 {
		t.Fatalf("unexpected assistant config: %+v", cfg.Assistant)
	}
	if cfg.Assistant.TextModel != "gemini-2.5-flash" {
		t.Fatalf("expected default text model, got %q", cfg.Assistant.TextModel)
	}
	if cfg.Session.TeardownTimeout().Milliseconds() != 500 {
		t.Fatalf("unexpected teardown timeout: %v", cfg.Session.TeardownTimeout())
	}
	if cfg.Metrics.Listen != "127.0.0.1:9464" {
		t.Fatalf("unexpected metrics.listen: %q", cfg.Metrics.Listen)
	}
}

func TestParseUnknownKeyFails(t *testing.T) {
	_, _, err := Parse(`{"recorder": {"grpc": "127.0.0.1:50051"}}`, Default())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseEmptyContentUsesBase(t *testing.T) {
	cfg, _, err := Parse("  \n", Default())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestParseWarnsOnInlineAPIKey(t *testing.T) {
	cfg, warnings, err := Parse(`{"gemini": {"api_key": " secret "}}`, Default())
	require.NoError(t, err)
	require.Equal(t, "secret", cfg.Gemini.APIKey)
	require.NotEmpty(t, warnings)
	require.Contains(t, warnings[0].Message, "gemini.api_key")
}

func TestParseYAML(t *testing.T) {
	input := `
live:
  voice: Charon
audio:
  fallback: "USB Mic"
playback:
  enable: false
indicator:
  text_listening: Listening…
`
	cfg, warnings, err := ParseYAML(input, Default())
	require.NoError(t, err)
	require.Equal(t, "Charon", cfg.Live.Voice)
	require.Equal(t, "USB Mic", cfg.Audio.Fallback)
	require.False(t, cfg.Playback.Enable)
	require.Equal(t, "Listening…", cfg.Indicator.TextListening)

	// speak_replies defaults on, so disabling playback warns.
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "speak_replies")
}

func TestParseYAMLUnknownKeyFails(t *testing.T) {
	_, _, err := ParseYAML("audio:\n  inptu: x\n", Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2")
	require.Contains(t, err.Error(), "inptu")
}

func TestParseYAMLEmptyUsesBase(t *testing.T) {
	cfg, _, err := ParseYAML("", Default())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestParseYAMLRejectsMultipleDocuments(t *testing.T) {
	_, _, err := ParseYAML("live:\n  voice: A\n---\nlive:\n  voice: B\n", Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple YAML documents")
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("PARLEY_TEST_KEY", " from-env ")

	g := GeminiConfig{APIKeyEnv: "PARLEY_TEST_KEY"}
	require.Equal(t, "from-env", g.ResolveAPIKey())

	g.APIKey = "inline"
	require.Equal(t, "inline", g.ResolveAPIKey())

	require.Empty(t, GeminiConfig{}.ResolveAPIKey())
}
