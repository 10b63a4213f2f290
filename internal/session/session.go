// Package session coordinates the live conversation lifecycle: microphone,
// remote channel, transcript turns, and reply playback.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/live"
	"github.com/rbright/parley/internal/observe"
	"github.com/rbright/parley/internal/pipeline"
	"github.com/rbright/parley/internal/playback"
	"github.com/rbright/parley/internal/transcript"
	"golang.org/x/sync/errgroup"
)

const DefaultTeardownTimeout = 2 * time.Second

// Microphone is the capture side of a session. Stop must be idempotent and
// must not deliver blocks after it returns.
type Microphone interface {
	Start(onBlock func([]float32), onFault func(error)) error
	Stop() error
}

// Channel is the remote duplex stream.
type Channel interface {
	Events() <-chan live.Event
	Send(ctx context.Context, data []byte, mime string) error
	Close() error
}

// Playback is the subset of the playback scheduler a session drives.
type Playback interface {
	EnqueuePCM(payload []byte, rate int) (*playback.Item, error)
	EnqueueText(ctx context.Context, text string) *playback.Item
	Reset()
}

// Options wires a Controller. OpenMicrophone and OpenChannel are required.
type Options struct {
	OpenMicrophone  func(context.Context) (Microphone, error)
	OpenChannel     func(context.Context) (Channel, error)
	Playback        Playback
	Listener        Listener
	QueueFrames     int
	DebugDumpDir    string
	DebugDumpSecs   int
	TeardownTimeout time.Duration
	Logger          *slog.Logger
	Metrics         *observe.Metrics
}

// Result summarizes one finished session.
type Result struct {
	SessionID     string
	State         fsm.State
	Err           error
	Utterances    int
	FramesSent    int64
	FramesDropped int64
	DebugDump     string
	StartedAt     time.Time
	FinishedAt    time.Time
}

type ending int

const (
	endStop ending = iota + 1
	endRemote
	endFault
)

// run is one session instance from start to closed or errored.
type run struct {
	id     string
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	faults chan error
	done   chan struct{}

	// accum holds this run's current turn only.
	accum transcript.Accumulator

	// Owned by the lifecycle goroutine.
	mic      Microphone
	channel  Channel
	pipe     *pipeline.Pipeline
	pipeDone chan struct{}

	// Guarded by Controller.mu.
	tearingDown bool

	result Result
}

// fault records the first asynchronous failure; later ones are dropped.
func (r *run) fault(err error) {
	select {
	case r.faults <- err:
	default:
	}
}

// Controller owns at most one active session at a time.
type Controller struct {
	openMic         func(context.Context) (Microphone, error)
	openChannel     func(context.Context) (Channel, error)
	playback        Playback
	listener        Listener
	queueFrames     int
	debugDumpDir    string
	debugDumpSecs   int
	teardownTimeout time.Duration
	logger          *slog.Logger
	metrics         *observe.Metrics

	mu      sync.Mutex
	state   fsm.State
	current *run
}

// NewController builds an idle controller.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	teardown := opts.TeardownTimeout
	if teardown <= 0 {
		teardown = DefaultTeardownTimeout
	}
	return &Controller{
		openMic:         opts.OpenMicrophone,
		openChannel:     opts.OpenChannel,
		playback:        opts.Playback,
		listener:        opts.Listener,
		queueFrames:     opts.QueueFrames,
		debugDumpDir:    opts.DebugDumpDir,
		debugDumpSecs:   opts.DebugDumpSecs,
		teardownTimeout: teardown,
		logger:          logger,
		metrics:         opts.Metrics,
		state:           fsm.StateIdle,
	}
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins a new session and returns without waiting for it to connect.
// It is a no-op while a session is connecting, streaming, or closing.
func (c *Controller) Start() error {
	c.mu.Lock()
	if fsm.Active(c.state) {
		c.mu.Unlock()
		return nil
	}
	if c.openMic == nil || c.openChannel == nil {
		c.mu.Unlock()
		return errors.New("session controller is missing microphone or channel wiring")
	}
	next, err := fsm.Transition(c.state, fsm.EventStart)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     id,
		logger: c.logger.With("session_id", id),
		ctx:    ctx,
		cancel: cancel,
		faults: make(chan error, 1),
		done:   make(chan struct{}),
		result: Result{SessionID: id, StartedAt: time.Now()},
	}
	c.current = r
	c.mu.Unlock()

	c.metrics.SessionStarted(ctx)
	r.logger.Info("session starting", "state", string(next))
	go c.lifecycle(r)
	return nil
}

// Stop ends the active session and returns once its resources are released
// or ctx is done. It is a no-op when nothing is active.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	r := c.current
	if r == nil || !fsm.Active(c.state) {
		c.mu.Unlock()
		return nil
	}
	if !r.tearingDown && (c.state == fsm.StateConnecting || c.state == fsm.StateStreaming) {
		next, err := fsm.Transition(c.state, fsm.EventStop)
		if err == nil {
			c.state = next
		}
	}
	c.mu.Unlock()

	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the current session reaches closed or errored and returns
// its result. Without a session it returns the idle state at once.
func (c *Controller) Wait(ctx context.Context) Result {
	c.mu.Lock()
	r := c.current
	state := c.state
	c.mu.Unlock()
	if r == nil {
		return Result{State: state}
	}

	select {
	case <-r.done:
		return r.result
	case <-ctx.Done():
		return Result{SessionID: r.id, State: c.State(), Err: ctx.Err(), StartedAt: r.result.StartedAt}
	}
}

func (c *Controller) lifecycle(r *run) {
	defer close(r.done)

	if err := c.acquire(r); err != nil {
		c.end(r, endFault, err)
		return
	}
	if !c.markReady(r) {
		c.end(r, endStop, nil)
		return
	}
	if err := c.startStreaming(r); err != nil {
		c.end(r, endFault, err)
		return
	}
	reason, cause := c.dispatch(r)
	c.end(r, reason, cause)
}

// acquire opens the microphone and the channel concurrently. Whatever opened
// before a failure is left on r for teardown.
func (c *Controller) acquire(r *run) error {
	var (
		mu      sync.Mutex
		mic     Microphone
		channel Channel
	)
	g, ctx := errgroup.WithContext(r.ctx)
	g.Go(func() error {
		m, err := c.openMic(ctx)
		if err != nil {
			return fmt.Errorf("open microphone: %w", err)
		}
		mu.Lock()
		mic = m
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		ch, err := c.openChannel(ctx)
		if err != nil {
			return fmt.Errorf("open live channel: %w", err)
		}
		mu.Lock()
		channel = ch
		mu.Unlock()
		return nil
	})
	err := g.Wait()

	r.mic = mic
	r.channel = channel
	return err
}

// markReady moves connecting to streaming. It returns false when a stop won the race.
func (c *Controller) markReady(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != fsm.StateConnecting || r.ctx.Err() != nil {
		return false
	}
	next, err := fsm.Transition(c.state, fsm.EventReady)
	if err != nil {
		return false
	}
	c.state = next
	r.logger.Info("session streaming", "state", string(next))
	return true
}

func (c *Controller) startStreaming(r *run) error {
	r.pipe = pipeline.New(r.channel, pipeline.Options{
		QueueFrames:      c.queueFrames,
		DebugDumpDir:     c.debugDumpDir,
		DebugDumpSeconds: c.debugDumpSecs,
		Logger:           r.logger,
		Metrics:          c.metrics,
	})
	r.pipeDone = make(chan struct{})
	go func() {
		defer close(r.pipeDone)
		if err := r.pipe.Run(r.ctx); err != nil {
			if !errors.Is(err, ErrChannel) {
				err = fmt.Errorf("%w: %v", ErrChannel, err)
			}
			r.fault(err)
		}
	}()

	if err := r.mic.Start(r.pipe.Push, r.fault); err != nil {
		return fmt.Errorf("start microphone: %w", err)
	}
	return nil
}

// dispatch consumes channel events until the session has to end.
func (c *Controller) dispatch(r *run) (ending, error) {
	events := r.channel.Events()
	for {
		select {
		case <-r.ctx.Done():
			return endStop, nil
		case err := <-r.faults:
			return endFault, err
		case ev, ok := <-events:
			if !ok {
				return endRemote, nil
			}
			switch ev.Kind {
			case live.KindTranscriptDelta:
				c.listener.liveTranscript(r.accum.OnDelta(ev.Text))
			case live.KindTurnComplete:
				c.completeTurn(r)
			case live.KindInlineAudio:
				c.enqueueAudio(r, ev)
			case live.KindInlineText:
				c.enqueueText(r, ev.Text)
			case live.KindError:
				return endFault, ev.Err
			case live.KindClosed:
				return endRemote, nil
			}
		}
	}
}

func (c *Controller) completeTurn(r *run) {
	utterance, deltas := r.accum.Finalize()
	c.listener.liveTranscript("")

	empty := strings.TrimSpace(utterance) == ""
	c.metrics.RecordTurn(r.ctx, empty)
	if deltas == 0 {
		r.logger.Debug("turn ignored", "error", ErrProtocolViolation.Error())
		return
	}
	if empty {
		r.logger.Debug("turn ignored; utterance is blank")
		return
	}

	r.result.Utterances++
	r.logger.Debug("utterance finalized", "utterances", r.result.Utterances, "chars", len(utterance))
	c.listener.finalUtterance(utterance)
}

func (c *Controller) enqueueAudio(r *run, ev live.Event) {
	if ev.Err != nil {
		c.decodeFailed(r, ev.Err)
		return
	}
	if c.playback == nil {
		return
	}
	item, err := c.playback.EnqueuePCM(ev.Audio, audio.PlaybackRate)
	if err != nil {
		c.decodeFailed(r, err)
		return
	}
	c.listener.assistantAudio(item)
}

func (c *Controller) enqueueText(r *run, text string) {
	if c.playback == nil || strings.TrimSpace(text) == "" {
		return
	}
	c.listener.assistantAudio(c.playback.EnqueueText(r.ctx, text))
}

func (c *Controller) decodeFailed(r *run, err error) {
	err = fmt.Errorf("%w: %v", ErrDecode, err)
	r.logger.Warn("dropping reply audio", "error", err.Error())
	c.listener.fail(err)
}

// end tears the session down and settles its terminal state. A stop that
// raced a failure wins; the failure is only logged.
func (c *Controller) end(r *run, reason ending, cause error) {
	c.mu.Lock()
	r.tearingDown = true
	switch {
	case c.state == fsm.StateClosing:
		if reason == endFault && cause != nil {
			r.logger.Debug("failure during stop", "error", cause.Error())
		}
		reason, cause = endStop, nil
	case reason == endRemote:
		next, err := fsm.Transition(c.state, fsm.EventRemoteClosed)
		if err != nil {
			reason, cause = endFault, fmt.Errorf("%w: remote closed while %s", ErrChannel, c.state)
		} else {
			c.state = next
		}
	}
	c.mu.Unlock()

	if reason == endFault {
		if utterance, _ := r.accum.Finalize(); strings.TrimSpace(utterance) != "" {
			r.result.Utterances++
			c.listener.finalUtterance(utterance)
		}
	}

	stats := c.teardown(r)
	c.resetPlayback(r)

	c.mu.Lock()
	event := fsm.EventReleased
	if reason == endFault {
		event = fsm.EventFail
	}
	if next, err := fsm.Transition(c.state, event); err == nil {
		c.state = next
	} else {
		r.logger.Debug("unexpected state after teardown", "error", err.Error())
	}
	r.result.State = c.state
	r.result.Err = cause
	r.result.FramesSent = stats.FramesSent
	r.result.FramesDropped = stats.FramesDropped
	r.result.DebugDump = stats.DebugDumpPath
	r.result.FinishedAt = time.Now()
	c.mu.Unlock()

	c.metrics.SessionEnded(context.Background(), string(r.result.State))
	attrs := []any{
		"state", string(r.result.State),
		"utterances", r.result.Utterances,
		"frames_sent", stats.FramesSent,
		"frames_dropped", stats.FramesDropped,
		"duration_ms", r.result.FinishedAt.Sub(r.result.StartedAt).Milliseconds(),
	}
	if cause != nil {
		r.logger.Error("session failed", append(attrs, "error", cause.Error())...)
		c.listener.fail(cause)
		return
	}
	r.logger.Info("session closed", attrs...)
}

// teardown releases everything the run holds, bounded by the teardown timeout.
// Secondary failures are logged at debug level only. A release that outlives
// the timeout keeps running in the background but only touches r's own handles.
func (c *Controller) teardown(r *run) pipeline.Stats {
	r.cancel()

	type outcome struct {
		stats pipeline.Stats
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		stats, err := c.release(r)
		done <- outcome{stats: stats, err: err}
	}()

	timer := time.NewTimer(c.teardownTimeout)
	defer timer.Stop()
	select {
	case out := <-done:
		if out.err != nil {
			r.logger.Debug("teardown reported errors", "error", out.err.Error())
		}
		return out.stats
	case <-timer.C:
		r.logger.Warn("teardown timed out", "timeout", c.teardownTimeout.String())
		if r.pipe != nil {
			return r.pipe.Stats()
		}
		return pipeline.Stats{}
	}
}

func (c *Controller) release(r *run) (pipeline.Stats, error) {
	var errs []error
	if r.mic != nil {
		if err := r.mic.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop microphone: %w", err))
		}
	}
	if r.pipeDone != nil {
		<-r.pipeDone
	}
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close live channel: %w", err))
		}
	}
	var stats pipeline.Stats
	if r.pipe != nil {
		stats = r.pipe.Close()
	}
	r.accum.Reset()
	return stats, errors.Join(errs...)
}

// resetPlayback drops queued reply audio once r has torn down. The scheduler is
// shared across runs, so only the current run may clear it.
func (c *Controller) resetPlayback(r *run) {
	if c.playback == nil {
		return
	}
	c.mu.Lock()
	current := c.current == r
	c.mu.Unlock()
	if current {
		c.playback.Reset()
	}
}

// Handle serves IPC commands for the owner process.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.status()
	case ipc.CommandToggle:
		if fsm.Active(c.State()) {
			return c.requestStop(ctx)
		}
		if err := c.Start(); err != nil {
			return ipc.Response{OK: false, State: string(c.State()), Error: err.Error()}
		}
		return ipc.Response{OK: true, State: string(c.State()), Message: "session starting"}
	case ipc.CommandStop:
		return c.requestStop(ctx)
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) status() ipc.Response {
	c.mu.Lock()
	state := c.state
	current := c.current
	c.mu.Unlock()

	var id string
	if current != nil {
		id = current.id
	}

	resp := ipc.Response{OK: true, State: string(state), SessionID: id, Message: "status"}
	if fsm.Active(state) && current != nil {
		resp.Transcript = current.accum.Current()
	}
	return resp
}

func (c *Controller) requestStop(ctx context.Context) ipc.Response {
	state := c.State()
	if !fsm.Active(state) {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot stop from state %s", state)}
	}
	stopCtx, cancel := context.WithTimeout(ctx, c.teardownTimeout+time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		return ipc.Response{OK: false, State: string(c.State()), Error: err.Error()}
	}
	return ipc.Response{OK: true, State: string(c.State()), Message: "session stopped"}
}
