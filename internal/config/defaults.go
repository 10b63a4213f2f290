package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Gemini: GeminiConfig{
			APIKeyEnv: "GEMINI_API_KEY",
		},
		Live: LiveConfig{
			BaseURL:            "wss://generativelanguage.googleapis.com/ws",
			Model:              "gemini-2.5-flash-native-audio-preview-09-2025",
			Voice:              "Zephyr",
			InputTranscription: true,
			DialTimeoutMS:      10000,
		},
		Audio: AudioConfig{
			Input:            "default",
			Fallback:         "default",
			BlockSamples:     4096,
			QueueFrames:      32,
			DebugDumpSeconds: 600,
		},
		Playback: PlaybackConfig{
			Enable:    true,
			LatencyMS: 20,
		},
		Assistant: AssistantConfig{
			Enable:         true,
			SpeakReplies:   true,
			TextModel:      "gemini-2.5-flash",
			FastModel:      "gemini-flash-lite-latest",
			GroundedModel:  "gemini-2.5-flash",
			ComplexModel:   "gemini-2.5-pro",
			ThinkingBudget: 32768,
			TTSModel:       "gemini-2.5-flash-preview-tts",
			TTSVoice:       "Kore",
			TimeoutMS:      60000,
		},
		Session: SessionConfig{
			TeardownTimeoutMS: 2000,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			DesktopAppName: "parley",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
	}
}
