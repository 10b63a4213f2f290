package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/parley/internal/assistant"
	"github.com/rbright/parley/internal/playback"
	"github.com/rbright/parley/internal/transcript"
)

const utteranceBacklog = 8

type responder interface {
	Respond(ctx context.Context, prompt string) (assistant.Reply, error)
}

type speaker interface {
	EnqueueText(ctx context.Context, text string) *playback.Item
}

// conversation answers finalized utterances off the session goroutine, one
// at a time and in the order they were heard.
type conversation struct {
	responder responder
	speaker   speaker
	out       io.Writer
	logger    *slog.Logger

	utterances chan string
}

func newConversation(r responder, s speaker, out io.Writer, logger *slog.Logger) *conversation {
	return &conversation{
		responder:  r,
		speaker:    s,
		out:        out,
		logger:     logger,
		utterances: make(chan string, utteranceBacklog),
	}
}

// submit queues an utterance without blocking; the newest is dropped when the backlog is full.
func (c *conversation) submit(text string) {
	select {
	case c.utterances <- text:
	default:
		c.logger.Warn("utterance dropped: assistant backlog full", "length", len(text))
	}
}

// run answers queued utterances until ctx is done.
func (c *conversation) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-c.utterances:
			_, _ = c.answer(ctx, text)
		}
	}
}

// answer prints the prompt and reply and hands the reply to playback. The
// returned item is nil when nothing was spoken. A failed request still speaks
// the failure reply and returns the request error.
func (c *conversation) answer(ctx context.Context, text string) (*playback.Item, error) {
	prompt := transcript.Tidy(text)
	if prompt == "" {
		return nil, nil
	}
	fmt.Fprintf(c.out, "you: %s\n", prompt)
	if c.responder == nil {
		return nil, nil
	}

	reply, err := c.responder.Respond(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("assistant reply failed", "error", err.Error())
		fmt.Fprintf(c.out, "assistant: %s\n", assistant.FailureReplyText)
		return c.speak(ctx, assistant.FailureReplyText), err
	}

	c.logger.Info("assistant replied",
		"route", string(reply.Route),
		"model", reply.Model,
		"elapsed_ms", reply.Elapsed.Milliseconds(),
		"sources", len(reply.Sources),
	)
	fmt.Fprintf(c.out, "assistant: %s\n", strings.TrimSpace(reply.Text))
	for i, source := range reply.Sources {
		fmt.Fprintf(c.out, "  [%d] %s %s\n", i+1, source.Title, source.URI)
	}
	return c.speak(ctx, reply.Text), nil
}

func (c *conversation) speak(ctx context.Context, text string) *playback.Item {
	if c.speaker == nil {
		return nil
	}
	return c.speaker.EnqueueText(ctx, text)
}

// syncWriter serializes writes from the conversation worker and the command goroutine.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
