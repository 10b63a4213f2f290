package config

import (
	"fmt"
	"strings"
)

// filePayload is the on-disk shape shared by JSONC and YAML. Pointer fields
// distinguish "absent" from zero so defaults survive partial files.
type filePayload struct {
	Gemini    *fileGemini    `json:"gemini" yaml:"gemini"`
	Live      *fileLive      `json:"live" yaml:"live"`
	Audio     *fileAudio     `json:"audio" yaml:"audio"`
	Playback  *filePlayback  `json:"playback" yaml:"playback"`
	Assistant *fileAssistant `json:"assistant" yaml:"assistant"`
	Session   *fileSession   `json:"session" yaml:"session"`
	Indicator *fileIndicator `json:"indicator" yaml:"indicator"`
	Metrics   *fileMetrics   `json:"metrics" yaml:"metrics"`
}

type fileGemini struct {
	APIKeyEnv *string `json:"api_key_env" yaml:"api_key_env"`
	APIKey    *string `json:"api_key" yaml:"api_key"`
	BaseURL   *string `json:"base_url" yaml:"base_url"`
}

type fileLive struct {
	BaseURL            *string `json:"base_url" yaml:"base_url"`
	Model              *string `json:"model" yaml:"model"`
	Voice              *string `json:"voice" yaml:"voice"`
	InputTranscription *bool   `json:"input_transcription" yaml:"input_transcription"`
	SystemInstruction  *string `json:"system_instruction" yaml:"system_instruction"`
	DialTimeoutMS      *int    `json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
}

type fileAudio struct {
	Input        *string `json:"input" yaml:"input"`
	Fallback     *string `json:"fallback" yaml:"fallback"`
	BlockSamples *int    `json:"block_samples" yaml:"block_samples"`
	QueueFrames  *int    `json:"queue_frames" yaml:"queue_frames"`
	DebugDumpDir *string `json:"debug_dump_dir" yaml:"debug_dump_dir"`
	DebugDumpSec *int    `json:"debug_dump_seconds" yaml:"debug_dump_seconds"`
}

type filePlayback struct {
	Enable    *bool   `json:"enable" yaml:"enable"`
	Sink      *string `json:"sink" yaml:"sink"`
	LatencyMS *int    `json:"latency_ms" yaml:"latency_ms"`
}

type fileAssistant struct {
	Enable         *bool   `json:"enable" yaml:"enable"`
	SpeakReplies   *bool   `json:"speak_replies" yaml:"speak_replies"`
	TextModel      *string `json:"text_model" yaml:"text_model"`
	FastModel      *string `json:"fast_model" yaml:"fast_model"`
	GroundedModel  *string `json:"grounded_model" yaml:"grounded_model"`
	ComplexModel   *string `json:"complex_model" yaml:"complex_model"`
	ThinkingBudget *int    `json:"thinking_budget" yaml:"thinking_budget"`
	TTSModel       *string `json:"tts_model" yaml:"tts_model"`
	TTSVoice       *string `json:"tts_voice" yaml:"tts_voice"`
	TimeoutMS      *int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type fileSession struct {
	TeardownTimeoutMS *int `json:"teardown_timeout_ms" yaml:"teardown_timeout_ms"`
}

type fileIndicator struct {
	Enable         *bool   `json:"enable" yaml:"enable"`
	DesktopAppName *string `json:"desktop_app_name" yaml:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable" yaml:"sound_enable"`
	TextListening  *string `json:"text_listening" yaml:"text_listening"`
	TextSpeaking   *string `json:"text_speaking" yaml:"text_speaking"`
	TextError      *string `json:"text_error" yaml:"text_error"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms" yaml:"error_timeout_ms"`
}

type fileMetrics struct {
	Listen *string `json:"listen" yaml:"listen"`
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (payload filePayload) applyTo(cfg *Config) []Warning {
	warnings := make([]Warning, 0)

	if g := payload.Gemini; g != nil {
		setString(&cfg.Gemini.APIKeyEnv, g.APIKeyEnv)
		setString(&cfg.Gemini.APIKey, g.APIKey)
		setString(&cfg.Gemini.BaseURL, g.BaseURL)
		if g.APIKey != nil && strings.TrimSpace(*g.APIKey) != "" {
			warnings = append(warnings, Warning{Message: "gemini.api_key is stored in the config file; prefer gemini.api_key_env"})
		}
	}

	if l := payload.Live; l != nil {
		setString(&cfg.Live.BaseURL, l.BaseURL)
		setString(&cfg.Live.Model, l.Model)
		setString(&cfg.Live.Voice, l.Voice)
		setValue(&cfg.Live.InputTranscription, l.InputTranscription)
		setString(&cfg.Live.SystemInstruction, l.SystemInstruction)
		setValue(&cfg.Live.DialTimeoutMS, l.DialTimeoutMS)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setValue(&cfg.Audio.BlockSamples, a.BlockSamples)
		setValue(&cfg.Audio.QueueFrames, a.QueueFrames)
		setString(&cfg.Audio.DebugDumpDir, a.DebugDumpDir)
		setValue(&cfg.Audio.DebugDumpSeconds, a.DebugDumpSec)
	}

	if p := payload.Playback; p != nil {
		setValue(&cfg.Playback.Enable, p.Enable)
		setString(&cfg.Playback.Sink, p.Sink)
		setValue(&cfg.Playback.LatencyMS, p.LatencyMS)
	}

	if a := payload.Assistant; a != nil {
		setValue(&cfg.Assistant.Enable, a.Enable)
		setValue(&cfg.Assistant.SpeakReplies, a.SpeakReplies)
		setString(&cfg.Assistant.TextModel, a.TextModel)
		setString(&cfg.Assistant.FastModel, a.FastModel)
		setString(&cfg.Assistant.GroundedModel, a.GroundedModel)
		setString(&cfg.Assistant.ComplexModel, a.ComplexModel)
		setValue(&cfg.Assistant.ThinkingBudget, a.ThinkingBudget)
		setString(&cfg.Assistant.TTSModel, a.TTSModel)
		setString(&cfg.Assistant.TTSVoice, a.TTSVoice)
		setValue(&cfg.Assistant.TimeoutMS, a.TimeoutMS)
	}

	if s := payload.Session; s != nil {
		setValue(&cfg.Session.TeardownTimeoutMS, s.TeardownTimeoutMS)
	}

	if i := payload.Indicator; i != nil {
		setValue(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		setValue(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setString(&cfg.Indicator.TextListening, i.TextListening)
		setString(&cfg.Indicator.TextSpeaking, i.TextSpeaking)
		setString(&cfg.Indicator.TextError, i.TextError)
		setValue(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	if m := payload.Metrics; m != nil {
		setString(&cfg.Metrics.Listen, m.Listen)
	}

	return warnings
}

// finish applies payload onto base and validates the result.
func finish(payload filePayload, base Config) (Config, []Warning, error) {
	cfg := base
	warnings := payload.applyTo(&cfg)

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, append(warnings, validatedWarnings...), nil
}
