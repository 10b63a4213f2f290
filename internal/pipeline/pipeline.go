// Package pipeline moves captured microphone blocks to the live channel:
// encode, queue with drop-oldest backpressure, and send in capture order.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/observe"
)

// DefaultDebugDumpSeconds bounds how much captured audio a debug dump keeps.
const DefaultDebugDumpSeconds = 10 * 60

// Sender delivers one encoded frame to the remote peer.
type Sender interface {
	Send(ctx context.Context, data []byte, mime string) error
}

// Options tunes one capture pipeline.
type Options struct {
	QueueFrames int
	// DebugDumpDir, when set, receives a WAV of the captured audio once the pipeline closes.
	DebugDumpDir string
	// DebugDumpSeconds caps the dump; capture past the cap is not kept.
	DebugDumpSeconds int
	Logger       *slog.Logger
	Metrics      *observe.Metrics
}

// Stats summarizes one pipeline run.
type Stats struct {
	FramesSent      int64
	FramesDropped   int64
	FramesDiscarded int64
	DebugDumpPath   string
}

// Pipeline is single-use: build one per session.
type Pipeline struct {
	sender  Sender
	queue   *Queue
	logger  *slog.Logger
	metrics *observe.Metrics
	dumpDir string
	dumpCap int

	sent      atomic.Int64
	discarded atomic.Int64

	mu        sync.Mutex
	rawPCM    []byte
	truncated bool
	closed    bool
	stats     Stats
}

// New builds a pipeline that sends through sender.
func New(sender Sender, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		sender:  sender,
		queue:   NewQueue(opts.QueueFrames),
		logger:  logger,
		metrics: opts.Metrics,
		dumpDir: opts.DebugDumpDir,
		dumpCap: debugDumpBytes(opts.DebugDumpSeconds),
	}
}

func debugDumpBytes(seconds int) int {
	if seconds <= 0 {
		seconds = DefaultDebugDumpSeconds
	}
	return seconds * audio.CaptureRate * 2
}

// Push encodes one captured block and enqueues it. It never blocks, so it is
// safe to call from the capture callback.
func (p *Pipeline) Push(block []float32) {
	if len(block) == 0 {
		return
	}
	frame := audio.EncodeFrame(block, audio.CaptureRate)

	if p.dumpDir != "" {
		p.keepForDump(frame.PCMBytes())
	}

	if evicted := p.queue.Push(frame); evicted > 0 {
		p.metrics.RecordFramesDropped(context.Background(), int64(evicted))
		p.logger.Debug("outbound audio queue full; dropped oldest frame", "dropped_total", p.queue.Dropped())
	}
}

// keepForDump appends pcm to the debug buffer up to the dump cap.
func (p *Pipeline) keepForDump(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.truncated {
		return
	}
	room := p.dumpCap - len(p.rawPCM)
	if len(pcm) > room {
		pcm = pcm[:room-room%2]
		p.truncated = true
		p.logger.Warn("debug audio dump is full; later capture is not kept", "max_bytes", p.dumpCap)
	}
	p.rawPCM = append(p.rawPCM, pcm...)
}

// Run sends queued frames in order until Close or ctx is done. It returns the
// first send failure; later frames are not sent after a failure.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		frame, ok := p.queue.Pop(ctx)
		if !ok {
			return nil
		}
		if err := p.sender.Send(ctx, frame.PCMBytes(), audio.CaptureMIME); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.discarded.Add(int64(p.queue.Close()))
			return fmt.Errorf("send audio frame: %w", err)
		}
		p.sent.Add(1)
		p.metrics.RecordFrameSent(ctx)
	}
}

// Close stops accepting frames, discards anything unsent, and writes the debug
// dump when configured. It is safe to call more than once.
func (p *Pipeline) Close() Stats {
	p.discarded.Add(int64(p.queue.Close()))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.stats
	}
	p.closed = true

	p.stats = Stats{
		FramesSent:      p.sent.Load(),
		FramesDropped:   p.queue.Dropped(),
		FramesDiscarded: p.discarded.Load(),
	}
	if p.dumpDir != "" && len(p.rawPCM) > 0 {
		path, err := writeDebugAudio(p.dumpDir, p.rawPCM)
		if err != nil {
			p.logger.Warn("unable to write debug audio dump", "error", err.Error())
		} else {
			p.stats.DebugDumpPath = path
		}
	}
	p.rawPCM = nil
	return p.stats
}

// Stats reports counters so far.
func (p *Pipeline) Stats() Stats {
	return Stats{
		FramesSent:      p.sent.Load(),
		FramesDropped:   p.queue.Dropped(),
		FramesDiscarded: p.discarded.Load(),
	}
}
