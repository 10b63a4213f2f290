package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/playback"
	"github.com/stretchr/testify/require"
)

type indicatorRecorder struct {
	mu     sync.Mutex
	calls  []string
	errors []string
}

func (r *indicatorRecorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *indicatorRecorder) ShowListening(context.Context)   { r.record("listening") }
func (r *indicatorRecorder) ResumeListening(context.Context) { r.record("resume") }
func (r *indicatorRecorder) ShowSpeaking(context.Context)    { r.record("speaking") }
func (r *indicatorRecorder) CueStop(context.Context)         { r.record("cue-stop") }
func (r *indicatorRecorder) Hide(context.Context)            { r.record("hide") }

func (r *indicatorRecorder) ShowError(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "error")
	r.errors = append(r.errors, text)
}

func (r *indicatorRecorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), append([]string(nil), r.errors...)
}

func TestIndicatorHooksResumeListeningOnlyWhileActive(t *testing.T) {
	rec := &indicatorRecorder{}
	active := true
	hooks := indicatorHooks(context.Background(), rec, func() bool { return active })

	hooks.onSpeaking(true)
	hooks.onSpeaking(false)
	active = false
	hooks.onSpeaking(true)
	hooks.onSpeaking(false)

	calls, _ := rec.snapshot()
	require.Equal(t, []string{"speaking", "resume", "speaking"}, calls)
}

func TestOutputDeviceFailureReachesIndicator(t *testing.T) {
	rec := &indicatorRecorder{}
	hooks := indicatorHooks(context.Background(), rec, func() bool { return false })

	scheduler := playback.New(playback.Options{
		Open: func() (playback.Device, error) {
			return nil, errors.New("sink unplugged")
		},
		OnError:    hooks.onError,
		OnSpeaking: hooks.onSpeaking,
	})
	t.Cleanup(func() { _ = scheduler.Close() })

	item, err := scheduler.EnqueuePCM([]byte{0x00, 0x10, 0x00, 0x20}, audio.PlaybackRate)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	waitErr := item.Wait(ctx)
	require.ErrorIs(t, waitErr, audio.ErrDeviceUnavailable)

	_, texts := rec.snapshot()
	require.Equal(t, []string{"Audio device unavailable"}, texts)
}

func TestErrorSummaryForUnspokenReply(t *testing.T) {
	require.Equal(t, "Reply could not be spoken", errorSummary(playback.ErrNoSynthesizer))
}
