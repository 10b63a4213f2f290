// Package config resolves, parses, validates, and defaults parley configuration.
package config

import (
	"os"
	"strings"
	"time"
)

// Config is the fully materialized runtime configuration used by parley.
type Config struct {
	Gemini    GeminiConfig
	Live      LiveConfig
	Audio     AudioConfig
	Playback  PlaybackConfig
	Assistant AssistantConfig
	Session   SessionConfig
	Indicator IndicatorConfig
	Metrics   MetricsConfig
}

// GeminiConfig holds credentials shared by the live and REST clients.
type GeminiConfig struct {
	APIKeyEnv string
	APIKey    string
	// BaseURL overrides the REST endpoint used for replies and speech.
	BaseURL string
}

// ResolveAPIKey prefers an inline key over the configured environment variable.
func (g GeminiConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(g.APIKey); key != "" {
		return key
	}
	if g.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(g.APIKeyEnv))
}

// LiveConfig controls the realtime conversation session.
type LiveConfig struct {
	BaseURL            string
	Model              string
	Voice              string
	InputTranscription bool
	SystemInstruction  string
	DialTimeoutMS      int
}

func (l LiveConfig) DialTimeout() time.Duration {
	return time.Duration(l.DialTimeoutMS) * time.Millisecond
}

// AudioConfig controls input-source selection and outbound framing.
type AudioConfig struct {
	Input        string
	Fallback     string
	BlockSamples int
	QueueFrames  int
	DebugDumpDir string
	// DebugDumpSeconds caps how much capture a debug dump keeps.
	DebugDumpSeconds int
}

// PlaybackConfig controls reply audio output.
type PlaybackConfig struct {
	Enable    bool
	Sink      string
	LatencyMS int
}

// AssistantConfig selects the models used to answer finalized utterances.
type AssistantConfig struct {
	Enable         bool
	SpeakReplies   bool
	TextModel      string
	FastModel      string
	GroundedModel  string
	ComplexModel   string
	ThinkingBudget int
	TTSModel       string
	TTSVoice       string
	TimeoutMS      int
}

func (a AssistantConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMS) * time.Millisecond
}

// SessionConfig bounds session lifecycle work.
type SessionConfig struct {
	TeardownTimeoutMS int
}

func (s SessionConfig) TeardownTimeout() time.Duration {
	return time.Duration(s.TeardownTimeoutMS) * time.Millisecond
}

// IndicatorConfig controls desktop notifications and audio cues.
type IndicatorConfig struct {
	Enable         bool
	DesktopAppName string
	SoundEnable    bool
	TextListening  string
	TextSpeaking   string
	TextError      string
	ErrorTimeoutMS int
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
