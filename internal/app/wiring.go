package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rbright/parley/internal/assistant"
	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/live"
	"github.com/rbright/parley/internal/observe"
	"github.com/rbright/parley/internal/playback"
	"github.com/rbright/parley/internal/session"
	"github.com/rbright/parley/internal/version"
)

// services holds the collaborators shared by the owner session and ask.
type services struct {
	logger    *slog.Logger
	provider  *observe.Provider
	responder *assistant.Responder
	scheduler *playback.Scheduler
}

func (s *services) metrics() *observe.Metrics {
	if s.provider == nil {
		return nil
	}
	return s.provider.Metrics
}

// close releases playback and flushes telemetry. Errors are logged.
func (s *services) close(ctx context.Context) {
	if s.scheduler != nil {
		if err := s.scheduler.Close(); err != nil {
			s.logger.Debug("playback close failed", "error", err.Error())
		}
	}
	if err := s.provider.Shutdown(ctx); err != nil {
		s.logger.Debug("telemetry shutdown failed", "error", err.Error())
	}
}

type playbackHooks struct {
	onError    func(error)
	onSpeaking func(bool)
}

// buildServices wires telemetry, the assistant, and playback from cfg. A
// missing API key disables the assistant rather than failing.
func buildServices(ctx context.Context, cfg config.Config, logger *slog.Logger, hooks playbackHooks) (*services, error) {
	svc := &services{logger: logger}

	if cfg.Metrics.Listen != "" {
		provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version.Version})
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		svc.provider = provider
	}

	var tts *assistant.Speaker
	if cfg.Assistant.Enable {
		acfg := assistantConfig(cfg)
		client, err := assistant.NewClient(ctx, acfg)
		switch {
		case errors.Is(err, assistant.ErrNoAPIKey):
			logger.Warn("assistant disabled: no gemini api key", "env", cfg.Gemini.APIKeyEnv)
		case err != nil:
			svc.close(ctx)
			return nil, fmt.Errorf("init assistant: %w", err)
		default:
			svc.responder = assistant.NewResponder(client, acfg, logger, svc.metrics())
			tts = assistant.NewSpeaker(client, acfg)
		}
	}

	if cfg.Playback.Enable {
		opts := playback.Options{
			Open:       playerOpener(cfg.Playback),
			OnError:    hooks.onError,
			OnSpeaking: hooks.onSpeaking,
			Logger:     logger,
			Metrics:    svc.metrics(),
		}
		if tts != nil {
			opts.Synthesizer = tts
		}
		svc.scheduler = playback.New(opts)
	}
	return svc, nil
}

func assistantConfig(cfg config.Config) assistant.Config {
	return assistant.Config{
		APIKey:         cfg.Gemini.ResolveAPIKey(),
		BaseURL:        cfg.Gemini.BaseURL,
		TextModel:      cfg.Assistant.TextModel,
		FastModel:      cfg.Assistant.FastModel,
		GroundedModel:  cfg.Assistant.GroundedModel,
		ComplexModel:   cfg.Assistant.ComplexModel,
		ThinkingBudget: cfg.Assistant.ThinkingBudget,
		TTSModel:       cfg.Assistant.TTSModel,
		TTSVoice:       cfg.Assistant.TTSVoice,
		RequestTimeout: cfg.Assistant.Timeout(),
	}
}

func playerOpener(cfg config.PlaybackConfig) func() (playback.Device, error) {
	return func() (playback.Device, error) {
		player, err := audio.OpenPlayer(audio.PlayerOptions{
			Sink:           cfg.Sink,
			LatencySeconds: float64(cfg.LatencyMS) / 1000,
		})
		if err != nil {
			return nil, err
		}
		return player, nil
	}
}

// microphoneOpener selects the configured source and opens a capture stream on it.
func microphoneOpener(cfg config.AudioConfig, logger *slog.Logger) func(context.Context) (session.Microphone, error) {
	return func(ctx context.Context) (session.Microphone, error) {
		selection, err := audio.SelectDevice(ctx, cfg.Input, cfg.Fallback)
		if err != nil {
			return nil, err
		}
		if selection.Warning != "" {
			logger.Warn("audio device fallback", "warning", selection.Warning)
		}
		capture, err := audio.OpenCapture(ctx, selection.Device, audio.CaptureOptions{BlockSamples: cfg.BlockSamples})
		if err != nil {
			return nil, err
		}
		logger.Info("audio device selected", "device", selection.Device.Describe())
		return capture, nil
	}
}

// channelOpener dials the live endpoint with the configured model and voice.
func channelOpener(cfg config.Config, logger *slog.Logger) func(context.Context) (session.Channel, error) {
	return func(ctx context.Context) (session.Channel, error) {
		channel, err := live.Dial(ctx, live.Config{
			BaseURL:            cfg.Live.BaseURL,
			APIKey:             cfg.Gemini.ResolveAPIKey(),
			Model:              cfg.Live.Model,
			Voice:              cfg.Live.Voice,
			InputTranscription: cfg.Live.InputTranscription,
			SystemInstruction:  cfg.Live.SystemInstruction,
			DialTimeout:        cfg.Live.DialTimeout(),
			Logger:             logger,
		})
		if err != nil {
			return nil, err
		}
		return channel, nil
	}
}
