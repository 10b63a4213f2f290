package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbright/parley/internal/config"
)

const askSpeechGrace = 2 * time.Minute

// commandAsk answers one text prompt without opening a live session.
func (r Runner) commandAsk(ctx context.Context, cfg config.Config, logger *slog.Logger, prompt string) int {
	if !cfg.Assistant.Enable {
		fmt.Fprintln(r.Stderr, "error: assistant is disabled (assistant.enable=false)")
		return exitFailure
	}
	if cfg.Gemini.ResolveAPIKey() == "" {
		fmt.Fprintf(r.Stderr, "error: no gemini api key; set $%s\n", cfg.Gemini.APIKeyEnv)
		return exitFailure
	}

	hooks := playbackHooks{
		onError: func(err error) {
			logger.Warn("reply playback failed", "error", err.Error())
		},
	}
	svc, err := buildServices(ctx, cfg, logger, hooks)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		svc.close(shutdownCtx)
	}()

	if svc.responder == nil {
		fmt.Fprintln(r.Stderr, "error: assistant is unavailable")
		return exitFailure
	}
	var spoken speaker
	if cfg.Assistant.SpeakReplies && svc.scheduler != nil {
		spoken = svc.scheduler
	}
	conv := newConversation(svc.responder, spoken, r.Stdout, logger)

	item, answerErr := conv.answer(ctx, prompt)
	if item != nil {
		waitCtx, cancel := context.WithTimeout(ctx, askSpeechGrace)
		defer cancel()
		if err := item.Wait(waitCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("reply speech failed", "error", err.Error())
		}
	}
	if answerErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", answerErr)
		return exitFailure
	}
	return exitOK
}
