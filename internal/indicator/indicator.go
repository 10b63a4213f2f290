// Package indicator handles desktop state notifications and audio cue playback.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parley/internal/config"
)

// Controller is the session-facing indicator contract.
type Controller interface {
	ShowListening(context.Context)
	ResumeListening(context.Context)
	ShowSpeaking(context.Context)
	ShowError(context.Context, string)
	CueStop(context.Context)
	Hide(context.Context)
}

const (
	persistentTimeoutMS = 300000
	defaultErrorMS      = 1200
	dispatchTimeout     = 400 * time.Millisecond
	cueTimeout          = 4 * time.Second
)

// DesktopNotify routes indicator state through freedesktop notifications and
// plays synthesized cues on the default output.
type DesktopNotify struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	notifyFn  func(ctx context.Context, appName string, replaceID uint32, summary string, timeoutMS int) (uint32, error)
	dismissFn func(ctx context.Context, id uint32) error
	openCue   func() (cuePlayer, error)

	mu             sync.Mutex
	notificationID uint32
	soundMu        sync.Mutex
	cues           sync.WaitGroup
}

// NewDesktopNotify creates an indicator controller from config.
func NewDesktopNotify(cfg config.IndicatorConfig, logger *slog.Logger) *DesktopNotify {
	return &DesktopNotify{
		cfg:       cfg,
		logger:    logger,
		messages:  indicatorMessagesFromEnv(cfg),
		notifyFn:  desktopNotify,
		dismissFn: desktopDismiss,
		openCue:   openCuePlayer,
	}
}

// ShowListening signals that the microphone is live and emits the listen cue.
func (d *DesktopNotify) ShowListening(ctx context.Context) {
	d.playCue(cueListen)
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, persistentTimeoutMS, d.messages.listening)
	})
}

// ResumeListening restores the listening notification without a cue.
func (d *DesktopNotify) ResumeListening(ctx context.Context) {
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, persistentTimeoutMS, d.messages.listening)
	})
}

// ShowSpeaking signals that assistant audio is playing.
func (d *DesktopNotify) ShowSpeaking(ctx context.Context) {
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, persistentTimeoutMS, d.messages.speaking)
	})
}

// ShowError displays an error message and emits the error cue.
func (d *DesktopNotify) ShowError(ctx context.Context, text string) {
	d.playCue(cueError)
	if !d.cfg.Enable {
		return
	}
	if strings.TrimSpace(text) == "" {
		text = d.messages.errorText
	}
	timeout := d.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = defaultErrorMS
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, timeout, text)
	})
}

// CueStop emits the session-end cue.
func (d *DesktopNotify) CueStop(context.Context) {
	d.playCue(cueStop)
}

// Hide dismisses the active notification.
func (d *DesktopNotify) Hide(ctx context.Context) {
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, d.dismiss)
}

// Wait blocks until queued cues finished playing.
func (d *DesktopNotify) Wait() {
	d.cues.Wait()
}

// notify sends a replaceable desktop notification and stores its ID.
func (d *DesktopNotify) notify(ctx context.Context, timeoutMS int, text string) error {
	d.mu.Lock()
	replaceID := d.notificationID
	d.mu.Unlock()

	appName := strings.TrimSpace(d.cfg.DesktopAppName)
	if appName == "" {
		appName = "parley"
	}

	id, err := d.notifyFn(ctx, appName, replaceID, text, timeoutMS)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.notificationID = id
	d.mu.Unlock()
	return nil
}

// dismiss closes the current notification ID when present.
func (d *DesktopNotify) dismiss(ctx context.Context) error {
	d.mu.Lock()
	id := d.notificationID
	d.notificationID = 0
	d.mu.Unlock()

	if id == 0 {
		return nil
	}
	return d.dismissFn(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (d *DesktopNotify) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := fn(runCtx); err != nil {
		d.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (d *DesktopNotify) playCue(kind cueKind) {
	if !d.cfg.SoundEnable {
		return
	}
	d.cues.Add(1)
	go func() {
		defer d.cues.Done()
		d.soundMu.Lock()
		defer d.soundMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), cueTimeout)
		defer cancel()
		if err := emitCue(ctx, d.openCue, kind); err != nil {
			d.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (d *DesktopNotify) log(message string, err error) {
	if d.logger == nil || err == nil {
		return
	}
	d.logger.Debug(message, "error", err.Error())
}
