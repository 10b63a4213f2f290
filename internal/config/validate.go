package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Gemini.APIKeyEnv) == "" && strings.TrimSpace(cfg.Gemini.APIKey) == "" {
		return nil, fmt.Errorf("one of gemini.api_key_env or gemini.api_key must be set")
	}
	if cfg.Gemini.BaseURL != "" {
		if err := validateURL("gemini.base_url", cfg.Gemini.BaseURL, "http", "https"); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(cfg.Live.Model) == "" {
		return nil, fmt.Errorf("live.model must not be empty")
	}
	if err := validateURL("live.base_url", cfg.Live.BaseURL, "ws", "wss"); err != nil {
		return nil, err
	}
	if cfg.Live.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("live.dial_timeout_ms must be > 0")
	}
	if !cfg.Live.InputTranscription {
		warnings = append(warnings, Warning{Message: "live.input_transcription=false: no utterances will be finalized"})
	}

	if cfg.Audio.BlockSamples <= 0 {
		return nil, fmt.Errorf("audio.block_samples must be > 0")
	}
	if cfg.Audio.QueueFrames <= 0 {
		return nil, fmt.Errorf("audio.queue_frames must be > 0")
	}
	if cfg.Audio.DebugDumpSeconds <= 0 {
		return nil, fmt.Errorf("audio.debug_dump_seconds must be > 0")
	}
	if cfg.Playback.LatencyMS <= 0 {
		return nil, fmt.Errorf("playback.latency_ms must be > 0")
	}

	if cfg.Assistant.Enable {
		for name, value := range map[string]string{
			"assistant.text_model":     cfg.Assistant.TextModel,
			"assistant.fast_model":     cfg.Assistant.FastModel,
			"assistant.grounded_model": cfg.Assistant.GroundedModel,
			"assistant.complex_model":  cfg.Assistant.ComplexModel,
			"assistant.tts_model":      cfg.Assistant.TTSModel,
		} {
			if strings.TrimSpace(value) == "" {
				return nil, fmt.Errorf("%s must not be empty when assistant.enable=true", name)
			}
		}
	}
	if cfg.Assistant.ThinkingBudget < 0 {
		return nil, fmt.Errorf("assistant.thinking_budget must be >= 0")
	}
	if cfg.Assistant.TimeoutMS <= 0 {
		return nil, fmt.Errorf("assistant.timeout_ms must be > 0")
	}
	if cfg.Assistant.SpeakReplies && !cfg.Playback.Enable {
		warnings = append(warnings, Warning{Message: "assistant.speak_replies has no effect while playback.enable=false"})
	}

	if cfg.Session.TeardownTimeoutMS <= 0 {
		return nil, fmt.Errorf("session.teardown_timeout_ms must be > 0")
	}

	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.enable=true")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if listen := strings.TrimSpace(cfg.Metrics.Listen); listen != "" {
		if _, _, err := net.SplitHostPort(listen); err != nil {
			return nil, fmt.Errorf("metrics.listen must be host:port: %w", err)
		}
	}

	return warnings, nil
}

func validateURL(field string, raw string, schemes ...string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme && parsed.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL", field, strings.Join(schemes, " or "))
}
