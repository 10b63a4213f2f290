// Package playback renders assistant audio one item at a time, in arrival order.
//
// Items are either decoded PCM frames or text that is synthesized into speech.
// Synthesis for a text item starts as soon as it is enqueued, so it overlaps the
// item currently playing, but rendering still follows enqueue order.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/observe"
)

var (
	// ErrDiscarded completes items dropped by Reset or Close before they finished.
	ErrDiscarded = errors.New("playback item discarded")
	// ErrClosed completes items enqueued after Close.
	ErrClosed = errors.New("playback scheduler closed")
	// ErrNoSynthesizer completes text items when no synthesizer is configured.
	ErrNoSynthesizer = errors.New("no speech synthesizer configured")
)

// Device renders one frame and returns once it has finished playing.
type Device interface {
	Play(ctx context.Context, frame audio.Frame) error
	Close() error
}

// Synthesizer turns reply text into speech audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Frame, error)
}

// Options configures a Scheduler.
type Options struct {
	// Open acquires the output device. It is called lazily before the first
	// item plays, and again after a device failure.
	Open        func() (Device, error)
	Synthesizer Synthesizer
	// OnError receives non-fatal failures: undecodable payloads, synthesis
	// errors, and device problems. It runs on the scheduler goroutine.
	OnError func(error)
	// OnSpeaking reports transitions between idle and rendering.
	OnSpeaking func(speaking bool)
	Logger     *slog.Logger
	Metrics    *observe.Metrics
}

// Scheduler owns the playback queue and the output device.
type Scheduler struct {
	open    func() (Device, error)
	synth   Synthesizer
	onError func(error)
	onSpeak func(bool)
	logger  *slog.Logger
	metrics *observe.Metrics

	mu            sync.Mutex
	queue         []*Item
	playing       *Item
	cancelPlaying context.CancelFunc
	seq           uint64
	closed        bool

	// device is only touched by the dispatch goroutine until it exits.
	device   Device
	speaking bool

	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// New starts a scheduler. Call Close to stop it and release the device.
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Scheduler{
		open:    opts.Open,
		synth:   opts.Synthesizer,
		onError: opts.OnError,
		onSpeak: opts.OnSpeaking,
		logger:  logger,
		metrics: opts.Metrics,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// EnqueuePCM decodes a 16-bit little-endian payload at rate and enqueues it.
// A malformed payload is not enqueued; the error wraps audio.ErrMalformedPCM.
func (s *Scheduler) EnqueuePCM(payload []byte, rate int) (*Item, error) {
	frame, err := audio.DecodeFrame(payload, rate)
	if err != nil {
		s.metrics.RecordDecodeError(context.Background())
		return nil, err
	}
	return s.Enqueue(frame), nil
}

// Enqueue appends a decoded frame.
func (s *Scheduler) Enqueue(frame audio.Frame) *Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	item := newItem(s.seq, KindAudio)
	item.resolve([]audio.Frame{frame}, nil)
	s.pushLocked(item)
	return item
}

// EnqueueText appends reply text and begins synthesizing it immediately.
// Empty text completes at once without touching the device.
func (s *Scheduler) EnqueueText(ctx context.Context, text string) *Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	item := newItem(s.seq, KindText)
	item.text = strings.TrimSpace(text)
	if item.text == "" {
		item.resolve(nil, nil)
		item.finish(nil)
		return item
	}
	if s.closed {
		item.resolve(nil, ErrClosed)
		item.finish(ErrClosed)
		return item
	}
	if s.synth == nil {
		item.resolve(nil, ErrNoSynthesizer)
		s.pushLocked(item)
		return item
	}

	synthCtx, cancel := context.WithCancel(ctx)
	item.cancel = cancel
	go func() {
		frame, err := s.synth.Synthesize(synthCtx, item.text)
		if err != nil {
			item.resolve(nil, fmt.Errorf("synthesize reply: %w", err))
			return
		}
		item.resolve([]audio.Frame{frame}, nil)
	}()
	s.pushLocked(item)
	return item
}

func (s *Scheduler) pushLocked(item *Item) {
	if s.closed {
		item.finish(ErrClosed)
		return
	}
	s.queue = append(s.queue, item)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Pending counts items not yet finished, including the one playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if s.playing != nil {
		n++
	}
	return n
}

// Reset stops the current item and discards everything queued.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	dropped := s.queue
	s.queue = nil
	if s.cancelPlaying != nil {
		s.cancelPlaying()
	}
	s.mu.Unlock()

	for _, item := range dropped {
		item.finish(ErrDiscarded)
	}
	if len(dropped) > 0 {
		s.logger.Debug("playback queue reset", "discarded", len(dropped))
	}
}

// Close discards pending items, waits for the scheduler goroutine to exit,
// and releases the device. It is safe to call more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Reset()
	close(s.done)
	<-s.stopped

	if s.device != nil {
		err := s.device.Close()
		s.device = nil
		if err != nil {
			return fmt.Errorf("close playback device: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) dispatch() {
	defer close(s.stopped)
	defer s.setSpeaking(false)

	for {
		item, ctx, ok := s.next()
		if !ok {
			return
		}
		s.setSpeaking(true)
		s.render(ctx, item)

		s.mu.Lock()
		if s.playing == item {
			s.cancelPlaying()
			s.playing = nil
			s.cancelPlaying = nil
		}
		s.mu.Unlock()
	}
}

// next dequeues the head item, blocking while the queue is empty.
func (s *Scheduler) next() (*Item, context.Context, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, nil, false
		}
		if len(s.queue) > 0 {
			item := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			ctx, cancel := context.WithCancel(context.Background())
			s.playing = item
			s.cancelPlaying = cancel
			s.mu.Unlock()
			return item, ctx, true
		}
		s.mu.Unlock()

		s.setSpeaking(false)
		select {
		case <-s.notify:
		case <-s.done:
			return nil, nil, false
		}
	}
}

func (s *Scheduler) render(ctx context.Context, item *Item) {
	started := time.Now()

	select {
	case <-item.ready:
	case <-ctx.Done():
		s.complete(item, started, ErrDiscarded)
		return
	}
	if item.synthErr != nil {
		s.report(item.synthErr)
		s.complete(item, started, item.synthErr)
		return
	}

	device, err := s.acquire()
	if err != nil {
		s.report(err)
		s.complete(item, started, err)
		return
	}

	for _, frame := range item.frames {
		if err := device.Play(ctx, frame); err != nil {
			if ctx.Err() != nil {
				s.complete(item, started, ErrDiscarded)
				return
			}
			s.release()
			err = deviceErr("play", err)
			s.report(err)
			s.complete(item, started, err)
			return
		}
	}
	s.complete(item, started, nil)
}

func (s *Scheduler) acquire() (Device, error) {
	if s.device != nil {
		return s.device, nil
	}
	if s.open == nil {
		return nil, fmt.Errorf("%w: no playback device configured", audio.ErrDeviceUnavailable)
	}
	device, err := s.open()
	if err != nil {
		return nil, deviceErr("open playback device", err)
	}
	s.device = device
	return device, nil
}

// release drops a failed device so the next item reacquires one.
func (s *Scheduler) release() {
	if s.device == nil {
		return
	}
	if err := s.device.Close(); err != nil {
		s.logger.Debug("close failed playback device", "error", err.Error())
	}
	s.device = nil
}

func (s *Scheduler) complete(item *Item, started time.Time, err error) {
	if !item.finish(err) {
		return
	}
	if errors.Is(err, ErrDiscarded) {
		s.logger.Debug("playback item discarded", "item", item.id, "kind", string(item.kind))
		return
	}
	s.metrics.RecordPlayback(context.Background(), string(item.kind), time.Since(started), err)
}

func (s *Scheduler) report(err error) {
	s.logger.Warn("playback failed", "error", err.Error())
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Scheduler) setSpeaking(speaking bool) {
	if s.speaking == speaking {
		return
	}
	s.speaking = speaking
	if s.onSpeak != nil {
		s.onSpeak(speaking)
	}
}

func deviceErr(op string, err error) error {
	if errors.Is(err, audio.ErrDeviceUnavailable) || errors.Is(err, audio.ErrPermissionDenied) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", audio.ErrDeviceUnavailable, op, err)
}
