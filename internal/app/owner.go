package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/indicator"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/live"
	"github.com/rbright/parley/internal/observe"
	"github.com/rbright/parley/internal/playback"
	"github.com/rbright/parley/internal/session"
	"golang.org/x/sync/errgroup"
)

const (
	acquireProbeTimeout = 180 * time.Millisecond
	acquireRetries      = 8
	shutdownTimeout     = 2 * time.Second
)

func (r Runner) commandToggle(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}

	if code, forwarded := r.forwardToggle(ctx, socketPath); forwarded {
		return code
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: acquireProbeTimeout,
		Retries:      acquireRetries,
	})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			if code, forwarded := r.forwardToggle(ctx, socketPath); forwarded {
				return code
			}
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	return r.runOwner(ctx, cfg, logger, listener)
}

// forwardToggle hands toggle to an existing owner. forwarded is false when none answered.
func (r Runner) forwardToggle(ctx context.Context, socketPath string) (int, bool) {
	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandToggle)
	if !handled {
		return 0, false
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure, true
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return exitOK, true
}

// runOwner runs one session in the foreground while serving IPC on listener.
func (r Runner) runOwner(ctx context.Context, cfg config.Config, logger *slog.Logger, listener net.Listener) int {
	out := &syncWriter{w: r.Stdout}
	notifier := indicator.NewDesktopNotify(cfg.Indicator, logger)
	defer notifier.Wait()

	var controller *session.Controller
	hooks := indicatorHooks(ctx, notifier, func() bool {
		return controller != nil && fsm.Active(controller.State())
	})

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

	var (
		reply responder
		voice speaker
	)
	if svc.responder != nil {
		reply = svc.responder
	}
	if cfg.Assistant.SpeakReplies && svc.scheduler != nil {
		voice = svc.scheduler
	}
	conv := newConversation(reply, voice, out, logger)

	opts := session.Options{
		OpenMicrophone:  microphoneOpener(cfg.Audio, logger),
		OpenChannel:     channelOpener(cfg, logger),
		QueueFrames:     cfg.Audio.QueueFrames,
		DebugDumpDir:    cfg.Audio.DebugDumpDir,
		DebugDumpSecs:   cfg.Audio.DebugDumpSeconds,
		TeardownTimeout: cfg.Session.TeardownTimeout(),
		Logger:          logger,
		Metrics:         svc.metrics(),
		Listener: session.Listener{
			OnLiveTranscript: func(text string) {
				logger.Debug("live transcript", "length", len(text))
			},
			OnFinalUtterance: conv.submit,
			OnError:          hooks.onError,
		},
	}
	if svc.scheduler != nil {
		opts.Playback = svc.scheduler
	}
	controller = session.NewController(opts)

	if err := controller.Start(); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}
	notifier.ShowListening(ctx)

	groupCtx, cancelGroup := context.WithCancel(ctx)
	defer cancelGroup()
	g, gctx := errgroup.WithContext(groupCtx)
	g.Go(func() error {
		return ipc.Serve(gctx, listener, controller)
	})
	g.Go(func() error {
		return observe.Serve(gctx, cfg.Metrics.Listen, logger)
	})
	g.Go(func() error {
		return conv.run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.TeardownTimeout()+time.Second)
		defer cancel()
		return controller.Stop(stopCtx)
	})

	result := controller.Wait(context.Background())
	cancelGroup()
	groupErr := g.Wait()

	notifier.CueStop(ctx)
	notifier.Hide(context.Background())
	logSessionResult(logger, result)

	if groupErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", groupErr)
		return exitFailure
	}
	if result.State == fsm.StateErrored {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return exitFailure
	}
	fmt.Fprintf(out, "session ended: %d utterance(s)\n", result.Utterances)
	if result.DebugDump != "" {
		fmt.Fprintf(out, "debug audio: %s\n", result.DebugDump)
	}
	return exitOK
}

// indicatorHooks routes playback state and failures to the indicator. Output
// device errors surface the same way as session errors; listening resumes
// after speech only while the session is still active.
func indicatorHooks(ctx context.Context, notifier indicator.Controller, active func() bool) playbackHooks {
	return playbackHooks{
		onError: func(err error) {
			notifier.ShowError(ctx, errorSummary(err))
		},
		onSpeaking: func(speaking bool) {
			switch {
			case speaking:
				notifier.ShowSpeaking(ctx)
			case active():
				notifier.ResumeListening(ctx)
			}
		},
	}
}

// errorSummary is the short indicator text for a session error.
func errorSummary(err error) string {
	switch {
	case session.IsDeviceError(err):
		return "Audio device unavailable"
	case errors.Is(err, live.ErrChannel):
		return "Gemini connection lost"
	case errors.Is(err, session.ErrDecode):
		return "Reply audio could not be played"
	case errors.Is(err, playback.ErrNoSynthesizer):
		return "Reply could not be spoken"
	default:
		return ""
	}
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"session_id", result.SessionID,
		"state", string(result.State),
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"utterances", result.Utterances,
		"frames_sent", result.FramesSent,
		"frames_dropped", result.FramesDropped,
	}
	if result.DebugDump != "" {
		fields = append(fields, "debug_dump", result.DebugDump)
	}

	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}
